package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PerpClearing/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CachedService wraps a QueryService with a Redis read-through cache for
// the hot per-account and per-market reads. The projection worker calls
// InvalidateAccounts / InvalidateMarkets after each committed update; the
// TTL bounds staleness if an invalidation is lost.
type CachedService struct {
	*QueryService
	rdb     redis.UniversalClient
	ttl     time.Duration
	metrics *observability.Metrics
}

func NewCachedService(primary *QueryService, rdb redis.UniversalClient, ttl time.Duration, metrics *observability.Metrics) *CachedService {
	return &CachedService{
		QueryService: primary,
		rdb:          rdb,
		ttl:          ttl,
		metrics:      metrics,
	}
}

func (s *CachedService) GetBalances(ctx context.Context, account uuid.UUID) (*BalanceResponse, error) {
	var cached BalanceResponse
	if s.load(ctx, balancesKey(account), &cached) {
		return &cached, nil
	}
	resp, err := s.QueryService.GetBalances(ctx, account)
	if err != nil {
		return nil, err
	}
	s.store(ctx, balancesKey(account), resp)
	return resp, nil
}

func (s *CachedService) GetPositions(ctx context.Context, account uuid.UUID) ([]PositionResponse, error) {
	var cached []PositionResponse
	if s.load(ctx, positionsKey(account), &cached) {
		return cached, nil
	}
	resp, err := s.QueryService.GetPositions(ctx, account)
	if err != nil {
		return nil, err
	}
	s.store(ctx, positionsKey(account), resp)
	return resp, nil
}

func (s *CachedService) GetMarketStatus(ctx context.Context, marketID string) (*MarketStatusResponse, error) {
	var cached MarketStatusResponse
	if s.load(ctx, marketStatusKey(marketID), &cached) {
		return &cached, nil
	}
	resp, err := s.QueryService.GetMarketStatus(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, marketStatusKey(marketID), resp)
	return resp, nil
}

// InvalidateAccounts drops cached balances and positions of the accounts.
func (s *CachedService) InvalidateAccounts(ctx context.Context, accounts []uuid.UUID) error {
	if len(accounts) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(accounts))
	for _, a := range accounts {
		keys = append(keys, balancesKey(a), positionsKey(a))
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *CachedService) InvalidateMarkets(ctx context.Context, markets []string) error {
	if len(markets) == 0 {
		return nil
	}
	keys := make([]string, 0, len(markets))
	for _, m := range markets {
		keys = append(keys, marketStatusKey(m))
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *CachedService) load(ctx context.Context, key string, v interface{}) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		s.countResult("miss")
		return false
	case err != nil:
		s.countResult("error")
		return false
	}
	if json.Unmarshal(data, v) != nil {
		s.countResult("error")
		return false
	}
	s.countResult("hit")
	return true
}

func (s *CachedService) store(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedService) countResult(result string) {
	if s.metrics != nil {
		s.metrics.QueryCacheResult.WithLabelValues(result).Inc()
	}
}

func balancesKey(account uuid.UUID) string  { return fmt.Sprintf("perp:balances:%s", account) }
func positionsKey(account uuid.UUID) string { return fmt.Sprintf("perp:positions:%s", account) }
func marketStatusKey(id string) string      { return fmt.Sprintf("perp:market_status:%s", id) }
