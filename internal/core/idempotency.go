package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// IdempotencyChecker implements two-tier deduplication: a bounded in-memory
// LRU of processed keys in front of the durable event log.
type IdempotencyChecker struct {
	lru       *lru.Cache[string, struct{}]
	dbChecker DBIdempotencyChecker
	metrics   *IdempotencyMetrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	metrics := NewIdempotencyMetrics()
	cache, err := lru.NewWithEvict[string, struct{}](capacity, func(string, struct{}) {
		metrics.evictions++
	})
	if err != nil {
		// only fails for a non-positive size
		panic(fmt.Sprintf("idempotency lru: %v", err))
	}
	return &IdempotencyChecker{
		lru:       cache,
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

func compositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate checks if a command has been processed (two-tier lookup).
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := compositeKey(eventType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.metrics.RecordDuplicate(eventType, "lru")
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// conservative: a DB issue must not block processing
			ic.metrics.RecordTier2Error()
			return false
		}
		if isDup {
			ic.metrics.RecordDuplicate(eventType, "postgres")
			ic.lru.Add(key, struct{}{})
			return true
		}
	}
	return false
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(eventType, idempotencyKey), struct{}{})
}

// WarmFromKeys loads composite keys (type:key) into the LRU on restart.
func (ic *IdempotencyChecker) WarmFromKeys(keys []string) {
	for _, key := range keys {
		ic.lru.Add(key, struct{}{})
	}
}

// Keys returns the cached composite keys, oldest first.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe: only accessed from the single-threaded core.
type IdempotencyMetrics struct {
	duplicatesLRU      map[string]int64 // event_type -> count
	duplicatesPostgres map[string]int64
	tier2Errors        int64
	evictions          int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(eventType string, tier string) {
	if tier == "lru" {
		m.duplicatesLRU[eventType]++
	} else {
		m.duplicatesPostgres[eventType]++
	}
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(eventType string) (lru int64, postgres int64) {
	return m.duplicatesLRU[eventType], m.duplicatesPostgres[eventType]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}

func (m *IdempotencyMetrics) Evictions() int64 {
	return m.evictions
}
