// internal/state/market.go
package state

import (
	"fmt"
	"sort"

	"PerpClearing/internal/ledger"
)

// PauseCooldown is how long a paused market must wait before anyone may
// close it at the paused price.
const PauseCooldown int64 = 7 * 24 * 60 * 60

// MarketStatus is the lifecycle state of a market
type MarketStatus int32

const (
	MarketStatusOpen MarketStatus = iota
	MarketStatusPaused
	MarketStatusClosed
)

func (s MarketStatus) String() string {
	switch s {
	case MarketStatusOpen:
		return "Open"
	case MarketStatusPaused:
		return "Paused"
	case MarketStatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions. Closed is terminal.
func (s MarketStatus) CanTransitionTo(next MarketStatus) bool {
	switch s {
	case MarketStatusOpen:
		return next == MarketStatusPaused
	case MarketStatusPaused:
		return next == MarketStatusClosed
	default:
		return false
	}
}

// Market is a perpetual market backed by one liquidity pool.
type Market struct {
	ID           string
	BaseAsset    string
	QuoteAsset   ledger.AssetID
	FeeRatio     int64 // parts per million of the input amount
	TickSpacing  int32
	InitialPrice int64 // pool price at creation (price scale)
	Risk         RiskParams

	FundingPeriod int64 // seconds
	TwapInterval  int64 // seconds

	Status MarketStatus

	PausedAt         int64
	EndingIndexPrice int64 // index TWAP frozen at pause
	ClosedAt         int64
	ClosedPrice      int64
}

// IsOpen reports whether trading and new liquidity are allowed.
func (m *Market) IsOpen() bool {
	return m.Status == MarketStatusOpen
}

// ReferencePrice is the settlement price used while the market is not
// open: the paused ending price, or the close price once closed.
func (m *Market) ReferencePrice() (int64, bool) {
	switch m.Status {
	case MarketStatusPaused:
		return m.EndingIndexPrice, true
	case MarketStatusClosed:
		return m.ClosedPrice, true
	default:
		return 0, false
	}
}

// Pause moves an open market to Paused, recording the ending index price.
func (m *Market) Pause(now, endingIndexPrice int64) error {
	if !m.Status.CanTransitionTo(MarketStatusPaused) {
		return fmt.Errorf("pause %s (%s): %w", m.ID, m.Status, ErrMarketNotOpen)
	}
	m.Status = MarketStatusPaused
	m.PausedAt = now
	m.EndingIndexPrice = endingIndexPrice
	return nil
}

// Close moves a paused market to Closed at price.
func (m *Market) Close(now, price int64) error {
	if !m.Status.CanTransitionTo(MarketStatusClosed) {
		return fmt.Errorf("close %s (%s): %w", m.ID, m.Status, ErrMarketNotPaused)
	}
	if price <= 0 {
		return fmt.Errorf("close %s at %d: %w", m.ID, price, ErrInvalidAmount)
	}
	m.Status = MarketStatusClosed
	m.ClosedAt = now
	m.ClosedPrice = price
	return nil
}

// CloseAfterCooldown closes a paused market at its ending index price once
// the cooldown has passed.
func (m *Market) CloseAfterCooldown(now int64) error {
	if m.Status != MarketStatusPaused {
		return fmt.Errorf("close %s (%s): %w", m.ID, m.Status, ErrMarketNotPaused)
	}
	if now < m.PausedAt+PauseCooldown {
		return fmt.Errorf("close %s: paused at %d, now %d: %w",
			m.ID, m.PausedAt, now, ErrCooldownNotExpired)
	}
	return m.Close(now, m.EndingIndexPrice)
}

// MarketRegistry holds market definitions keyed by id.
type MarketRegistry struct {
	markets map[string]*Market
}

func NewMarketRegistry() *MarketRegistry {
	return &MarketRegistry{markets: make(map[string]*Market)}
}

// Add registers a market after validating its parameters.
func (r *MarketRegistry) Add(m *Market) error {
	if err := ValidateMarket(m); err != nil {
		return fmt.Errorf("invalid market %s: %w", m.ID, err)
	}
	if _, exists := r.markets[m.ID]; exists {
		return fmt.Errorf("market %s already registered", m.ID)
	}
	r.markets[m.ID] = m
	return nil
}

// Get returns the market or ErrUnknownMarket.
func (r *MarketRegistry) Get(id string) (*Market, error) {
	m, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}
	return m, nil
}

// IDs returns market ids in sorted order.
func (r *MarketRegistry) IDs() []string {
	ids := make([]string, 0, len(r.markets))
	for id := range r.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns markets sorted by id.
func (r *MarketRegistry) All() []*Market {
	out := make([]*Market, 0, len(r.markets))
	for _, id := range r.IDs() {
		out = append(out, r.markets[id])
	}
	return out
}

// StatusSnapshot captures the mutable part of each market.
type StatusSnapshot struct {
	Status           MarketStatus `json:"status"`
	PausedAt         int64        `json:"paused_at"`
	EndingIndexPrice int64        `json:"ending_index_price"`
	ClosedAt         int64        `json:"closed_at"`
	ClosedPrice      int64        `json:"closed_price"`
}

func (r *MarketRegistry) Snapshot() map[string]StatusSnapshot {
	out := make(map[string]StatusSnapshot, len(r.markets))
	for id, m := range r.markets {
		out[id] = StatusSnapshot{
			Status:           m.Status,
			PausedAt:         m.PausedAt,
			EndingIndexPrice: m.EndingIndexPrice,
			ClosedAt:         m.ClosedAt,
			ClosedPrice:      m.ClosedPrice,
		}
	}
	return out
}

// Restore applies status snapshots to registered markets. Unknown ids are
// an error since market definitions come from config.
func (r *MarketRegistry) Restore(snap map[string]StatusSnapshot) error {
	for id, s := range snap {
		m, ok := r.markets[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMarket, id)
		}
		m.Status = s.Status
		m.PausedAt = s.PausedAt
		m.EndingIndexPrice = s.EndingIndexPrice
		m.ClosedAt = s.ClosedAt
		m.ClosedPrice = s.ClosedPrice
	}
	return nil
}
