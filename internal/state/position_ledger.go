package state

import (
	"bytes"
	"sort"

	"PerpClearing/internal/ledger"

	"github.com/google/uuid"
)

// PositionReader is the read side shared by the ledger and its transactions.
type PositionReader interface {
	Position(account uuid.UUID, marketID string) Position
	AccountPositions(account uuid.UUID) []Position
	Funding(marketID string) FundingGrowth
}

// PositionLedger owns taker positions and per-market funding growth.
type PositionLedger struct {
	positions map[PositionKey]*Position
	funding   map[string]*FundingGrowth
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[PositionKey]*Position),
		funding:   make(map[string]*FundingGrowth),
	}
}

// Position returns a copy of the position, zero valued when absent.
func (pl *PositionLedger) Position(account uuid.UUID, marketID string) Position {
	if pos := pl.positions[PositionKey{Account: account, MarketID: marketID}]; pos != nil {
		return *pos
	}
	return Position{Account: account, MarketID: marketID}
}

func (pl *PositionLedger) PositionSize(account uuid.UUID, marketID string) int64 {
	return pl.Position(account, marketID).Size
}

func (pl *PositionLedger) OpenNotional(account uuid.UUID, marketID string) int64 {
	return pl.Position(account, marketID).OpenNotional
}

// AccountPositions returns the account's positions sorted by market.
func (pl *PositionLedger) AccountPositions(account uuid.UUID) []Position {
	out := make([]Position, 0)
	for key, pos := range pl.positions {
		if key.Account == account {
			out = append(out, *pos)
		}
	}
	sortPositions(out)
	return out
}

// AllPositions returns every stored position in deterministic order.
func (pl *PositionLedger) AllPositions() []Position {
	out := make([]Position, 0, len(pl.positions))
	for _, pos := range pl.positions {
		out = append(out, *pos)
	}
	sortPositions(out)
	return out
}

func (pl *PositionLedger) Funding(marketID string) FundingGrowth {
	if f := pl.funding[marketID]; f != nil {
		return *f
	}
	return FundingGrowth{MarketID: marketID}
}

// Begin starts a transaction whose PnL and funding journals go to gen.
func (pl *PositionLedger) Begin(gen *ledger.JournalGenerator) *PositionTx {
	return &PositionTx{
		base:      pl,
		gen:       gen,
		positions: make(map[PositionKey]*Position),
		funding:   make(map[string]*FundingGrowth),
	}
}

// PositionSnapshot is the serializable form of the ledger.
type PositionSnapshot struct {
	Positions []Position               `json:"positions"`
	Funding   map[string]FundingGrowth `json:"funding"`
}

func (pl *PositionLedger) Snapshot() PositionSnapshot {
	snap := PositionSnapshot{
		Positions: pl.AllPositions(),
		Funding:   make(map[string]FundingGrowth, len(pl.funding)),
	}
	for id, f := range pl.funding {
		snap.Funding[id] = *f
	}
	return snap
}

// Restore replaces all state (used for snapshot restore)
func (pl *PositionLedger) Restore(snap PositionSnapshot) {
	pl.positions = make(map[PositionKey]*Position, len(snap.Positions))
	for i := range snap.Positions {
		pos := snap.Positions[i]
		pl.positions[pos.Key()] = &pos
	}
	pl.funding = make(map[string]*FundingGrowth, len(snap.Funding))
	for id, f := range snap.Funding {
		f := f
		pl.funding[id] = &f
	}
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].MarketID != ps[j].MarketID {
			return ps[i].MarketID < ps[j].MarketID
		}
		return bytes.Compare(ps[i].Account[:], ps[j].Account[:]) < 0
	})
}

// PositionTx stages position and funding changes for one command.
// Nothing reaches the ledger until Commit.
type PositionTx struct {
	base      *PositionLedger
	gen       *ledger.JournalGenerator
	positions map[PositionKey]*Position
	funding   map[string]*FundingGrowth
}

func (tx *PositionTx) staged(account uuid.UUID, marketID string) *Position {
	key := PositionKey{Account: account, MarketID: marketID}
	if pos, ok := tx.positions[key]; ok {
		return pos
	}
	pos := tx.base.Position(account, marketID)
	tx.positions[key] = &pos
	return &pos
}

func (tx *PositionTx) stagedFunding(marketID string) *FundingGrowth {
	if f, ok := tx.funding[marketID]; ok {
		return f
	}
	f := tx.base.Funding(marketID)
	tx.funding[marketID] = &f
	return &f
}

func (tx *PositionTx) Position(account uuid.UUID, marketID string) Position {
	if pos, ok := tx.positions[PositionKey{Account: account, MarketID: marketID}]; ok {
		return *pos
	}
	return tx.base.Position(account, marketID)
}

func (tx *PositionTx) AccountPositions(account uuid.UUID) []Position {
	seen := make(map[string]bool)
	out := make([]Position, 0)
	for key, pos := range tx.positions {
		if key.Account == account {
			seen[key.MarketID] = true
			out = append(out, *pos)
		}
	}
	for _, pos := range tx.base.AccountPositions(account) {
		if !seen[pos.MarketID] {
			out = append(out, pos)
		}
	}
	sortPositions(out)
	return out
}

func (tx *PositionTx) Funding(marketID string) FundingGrowth {
	if f, ok := tx.funding[marketID]; ok {
		return *f
	}
	return tx.base.Funding(marketID)
}

// AccrueFunding advances the market's funding growth to now. Callers check
// FundingGrowth.IsDue first and supply TWAPs over the funding period.
func (tx *PositionTx) AccrueFunding(m *Market, now, markTwap, indexTwap int64) int64 {
	return tx.stagedFunding(m.ID).accrue(now, m.FundingPeriod, markTwap, indexTwap)
}

// SettleFunding pays the position's pending funding into the vault and moves
// its checkpoint to the current growth. Returns the payment (positive = the
// account paid).
func (tx *PositionTx) SettleFunding(account uuid.UUID, marketID string) int64 {
	growth := tx.Funding(marketID).Growth
	current := tx.Position(account, marketID)
	if current.FundingCheckpoint == growth {
		return 0
	}

	pos := tx.staged(account, marketID)
	payment := PendingFunding(*pos, growth)
	pos.FundingCheckpoint = growth
	tx.gen.FundingPayment(account, payment)
	return payment
}

// UpdatePosition applies a trade delta, realizing PnL on any reduced part
// into the account's settlement balance. Returns the realized amount.
func (tx *PositionTx) UpdatePosition(account uuid.UUID, marketID string, baseDelta, quoteDelta int64) int64 {
	if baseDelta == 0 && quoteDelta == 0 {
		return 0
	}
	pos := tx.staged(account, marketID)
	realized := pos.applyDelta(baseDelta, quoteDelta)
	tx.gen.RealizedPnL(account, realized)
	return realized
}

// Touched returns the staged positions in deterministic order.
func (tx *PositionTx) Touched() []Position {
	out := make([]Position, 0, len(tx.positions))
	for _, pos := range tx.positions {
		out = append(out, *pos)
	}
	sortPositions(out)
	return out
}

// Commit writes staged state back to the ledger. Empty positions are
// dropped.
func (tx *PositionTx) Commit() {
	for key, pos := range tx.positions {
		prev, existed := tx.base.positions[key]
		if pos.IsEmpty() {
			delete(tx.base.positions, key)
			continue
		}
		if existed && *prev == *pos {
			continue
		}
		pos.Version++
		tx.base.positions[key] = pos
	}
	for id, f := range tx.funding {
		tx.base.funding[id] = f
	}
}
