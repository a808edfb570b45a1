package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PerpClearing/internal/event"

	"github.com/google/uuid"
)

// SequenceSource hands out the next source sequence of a partition.
// Implemented by the clearing engine.
type SequenceSource interface {
	NextSourceSequence(marketID *string) int64
}

// GRPCIngestService provides admin/manual command injection via gRPC.
// It is for governance and operator commands, not for high-throughput
// ingestion (use NATS for that).
type GRPCIngestService struct {
	eventChan chan<- event.Event
	sequences SequenceSource
	now       func() time.Time

	mu sync.Mutex
	// assigned holds the last sequence handed out per partition so two
	// injections queued before the engine catches up do not collide.
	assigned map[string]int64
}

func NewGRPCIngestService(eventChan chan<- event.Event, sequences SequenceSource) *GRPCIngestService {
	return &GRPCIngestService{
		eventChan: eventChan,
		sequences: sequences,
		now:       time.Now,
		assigned:  make(map[string]int64),
	}
}

func (s *GRPCIngestService) header(marketID *string) event.Header {
	s.mu.Lock()
	defer s.mu.Unlock()

	partition := event.GlobalMarket
	if marketID != nil {
		partition = *marketID
	}
	seq := s.sequences.NextSourceSequence(marketID)
	if last, ok := s.assigned[partition]; ok && last >= seq {
		seq = last + 1
	}
	s.assigned[partition] = seq

	return event.Header{
		CommandID: uuid.New(),
		Sequence:  seq,
		Timestamp: s.now().Unix(),
	}
}

func (s *GRPCIngestService) submit(ctx context.Context, cmd event.Event) (string, error) {
	select {
	case s.eventChan <- cmd:
		return cmd.IdempotencyKey(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// InjectDeposit manually injects a Deposit command.
func (s *GRPCIngestService) InjectDeposit(ctx context.Context, account uuid.UUID, asset string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("amount must be positive")
	}
	return s.submit(ctx, &event.Deposit{
		Header:  s.header(nil),
		Account: account,
		Asset:   asset,
		Amount:  amount,
	})
}

// InjectWithdraw manually injects a Withdraw command.
func (s *GRPCIngestService) InjectWithdraw(ctx context.Context, account uuid.UUID, asset string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("amount must be positive")
	}
	return s.submit(ctx, &event.Withdraw{
		Header:  s.header(nil),
		Account: account,
		Asset:   asset,
		Amount:  amount,
	})
}

func (s *GRPCIngestService) InjectInsuranceTopUp(ctx context.Context, caller uuid.UUID, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("amount must be positive")
	}
	return s.submit(ctx, &event.InsuranceFundTopUp{
		Header: s.header(nil),
		Caller: caller,
		Amount: amount,
	})
}

// InjectIndexPrice manually injects an index price sample. Price sequences
// are the feed's own, so the caller supplies them.
func (s *GRPCIngestService) InjectIndexPrice(ctx context.Context, market string, price, priceSequence int64) (string, error) {
	if price <= 0 {
		return "", fmt.Errorf("index price must be positive")
	}
	return s.submit(ctx, &event.IndexPriceUpdate{
		Market:         market,
		Price:          price,
		PriceSequence:  priceSequence,
		PriceTimestamp: s.now().Unix(),
	})
}

func (s *GRPCIngestService) InjectCollateralPrice(ctx context.Context, asset string, price, priceSequence int64) (string, error) {
	if price <= 0 {
		return "", fmt.Errorf("collateral price must be positive")
	}
	return s.submit(ctx, &event.CollateralPriceUpdate{
		Asset:          asset,
		Price:          price,
		PriceSequence:  priceSequence,
		PriceTimestamp: s.now().Unix(),
	})
}

// PauseMarket injects an owner pause. Authorization is checked by the core.
func (s *GRPCIngestService) PauseMarket(ctx context.Context, caller uuid.UUID, market string) (string, error) {
	return s.submit(ctx, &event.PauseMarket{
		Header: s.header(&market),
		Caller: caller,
		Market: market,
	})
}

func (s *GRPCIngestService) CloseMarket(ctx context.Context, caller uuid.UUID, market string, price int64) (string, error) {
	if price <= 0 {
		return "", fmt.Errorf("close price must be positive")
	}
	return s.submit(ctx, &event.CloseMarket{
		Header: s.header(&market),
		Caller: caller,
		Market: market,
		Price:  price,
	})
}

func (s *GRPCIngestService) CloseMarketAfterCooldown(ctx context.Context, caller uuid.UUID, market string) (string, error) {
	return s.submit(ctx, &event.CloseMarketAfterCooldown{
		Header: s.header(&market),
		Caller: caller,
		Market: market,
	})
}
