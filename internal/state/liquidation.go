// internal/state/liquidation.go
package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// LiquidationOutcome is the terminal state of a liquidation.
type LiquidationOutcome int32

const (
	LiquidationOutcomeCompleted      LiquidationOutcome = iota
	LiquidationOutcomeDeficit                           // left negative value, awaiting full flatness
	LiquidationOutcomeBadDebtSettled                    // deficit covered by the insurance fund
)

func (o LiquidationOutcome) String() string {
	switch o {
	case LiquidationOutcomeCompleted:
		return "Completed"
	case LiquidationOutcomeDeficit:
		return "Deficit"
	case LiquidationOutcomeBadDebtSettled:
		return "BadDebtSettled"
	default:
		return "Unknown"
	}
}

// LiquidationRecord describes one executed liquidation.
type LiquidationRecord struct {
	LiquidationID   uuid.UUID          `json:"liquidation_id"`
	Account         uuid.UUID          `json:"account"`
	Liquidator      uuid.UUID          `json:"liquidator"`
	MarketID        string             `json:"market_id"`
	ExchangedBase   int64              `json:"exchanged_base"`
	ExchangedQuote  int64              `json:"exchanged_quote"`
	Penalty         int64              `json:"penalty"`
	ToInsuranceFund int64              `json:"to_insurance_fund"`
	ToLiquidator    int64              `json:"to_liquidator"`
	Outcome         LiquidationOutcome `json:"outcome"`
	Timestamp       int64              `json:"timestamp"`
}

// BadDebtEvent is an append-only audit record of insurance fund coverage.
type BadDebtEvent struct {
	LiquidationID uuid.UUID `json:"liquidation_id"`
	Account       uuid.UUID `json:"account"`
	MarketID      string    `json:"market_id"`
	Amount        int64     `json:"amount"`
	Timestamp     int64     `json:"timestamp"`
}

// LiquidationBook records liquidations and the bad debt settled for them.
// Bad debt is settled at most once per liquidation id.
type LiquidationBook struct {
	records  map[uuid.UUID]*LiquidationRecord
	settled  map[uuid.UUID]bool
	badDebts []BadDebtEvent
}

func NewLiquidationBook() *LiquidationBook {
	return &LiquidationBook{
		records: make(map[uuid.UUID]*LiquidationRecord),
		settled: make(map[uuid.UUID]bool),
	}
}

func (b *LiquidationBook) Record(id uuid.UUID) (LiquidationRecord, bool) {
	r, ok := b.records[id]
	if !ok {
		return LiquidationRecord{}, false
	}
	return *r, true
}

// IsSettled reports whether bad debt was already settled for id.
func (b *LiquidationBook) IsSettled(id uuid.UUID) bool {
	return b.settled[id]
}

// BadDebts returns a copy of the audit trail in settlement order.
func (b *LiquidationBook) BadDebts() []BadDebtEvent {
	out := make([]BadDebtEvent, len(b.badDebts))
	copy(out, b.badDebts)
	return out
}

// TotalBadDebt sums every settled deficit.
func (b *LiquidationBook) TotalBadDebt() int64 {
	var total int64
	for _, e := range b.badDebts {
		total += e.Amount
	}
	return total
}

// Begin stages records for one command.
func (b *LiquidationBook) Begin() *LiquidationTx {
	return &LiquidationTx{base: b}
}

// LiquidationSnapshot is the serializable form of the book.
type LiquidationSnapshot struct {
	Records  []LiquidationRecord `json:"records"`
	BadDebts []BadDebtEvent      `json:"bad_debts"`
}

func (b *LiquidationBook) Snapshot() LiquidationSnapshot {
	snap := LiquidationSnapshot{BadDebts: b.BadDebts()}
	for _, r := range b.records {
		snap.Records = append(snap.Records, *r)
	}
	// Ordered so equal books serialize identically.
	sort.Slice(snap.Records, func(i, j int) bool {
		a, b := snap.Records[i], snap.Records[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return bytes.Compare(a.LiquidationID[:], b.LiquidationID[:]) < 0
	})
	return snap
}

func (b *LiquidationBook) Restore(snap LiquidationSnapshot) {
	b.records = make(map[uuid.UUID]*LiquidationRecord, len(snap.Records))
	for i := range snap.Records {
		r := snap.Records[i]
		b.records[r.LiquidationID] = &r
	}
	b.settled = make(map[uuid.UUID]bool, len(snap.BadDebts))
	b.badDebts = append([]BadDebtEvent(nil), snap.BadDebts...)
	for _, e := range b.badDebts {
		b.settled[e.LiquidationID] = true
	}
}

// LiquidationTx holds the records produced by one command.
type LiquidationTx struct {
	base     *LiquidationBook
	records  []LiquidationRecord
	badDebts []BadDebtEvent
}

func (tx *LiquidationTx) AddRecord(r LiquidationRecord) {
	tx.records = append(tx.records, r)
}

// MarkOutcome updates a record staged in this transaction.
func (tx *LiquidationTx) MarkOutcome(id uuid.UUID, outcome LiquidationOutcome) {
	for i := range tx.records {
		if tx.records[i].LiquidationID == id {
			tx.records[i].Outcome = outcome
		}
	}
}

// IsSettled also sees bad debt staged in this transaction.
func (tx *LiquidationTx) IsSettled(id uuid.UUID) bool {
	if tx.base.IsSettled(id) {
		return true
	}
	for _, e := range tx.badDebts {
		if e.LiquidationID == id {
			return true
		}
	}
	return false
}

// AddBadDebt stages a bad debt event. It returns false when bad debt for the
// liquidation was already settled.
func (tx *LiquidationTx) AddBadDebt(e BadDebtEvent) bool {
	if tx.IsSettled(e.LiquidationID) {
		return false
	}
	tx.badDebts = append(tx.badDebts, e)
	return true
}

func (tx *LiquidationTx) Commit() {
	for i := range tx.records {
		r := tx.records[i]
		tx.base.records[r.LiquidationID] = &r
	}
	for _, e := range tx.badDebts {
		tx.base.settled[e.LiquidationID] = true
		tx.base.badDebts = append(tx.base.badDebts, e)
	}
}
