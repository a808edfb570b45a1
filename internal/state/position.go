// internal/state/position.go
package state

import (
	fpmath "PerpClearing/internal/math"

	"github.com/google/uuid"
)

// Position is an account's taker exposure in one market.
// Long: Size > 0, OpenNotional <= 0. Short: Size < 0, OpenNotional >= 0.
type Position struct {
	Account           uuid.UUID
	MarketID          string
	Size              int64 // base, amount scale
	OpenNotional      int64 // quote, amount scale
	FundingCheckpoint int64 // funding growth at last settlement
	Version           int64
}

type PositionKey struct {
	Account  uuid.UUID
	MarketID string
}

func (p Position) Key() PositionKey {
	return PositionKey{Account: p.Account, MarketID: p.MarketID}
}

// IsFlat returns true if position has no exposure
func (p Position) IsFlat() bool {
	return p.Size == 0
}

// IsEmpty reports whether the position carries nothing worth keeping.
func (p Position) IsEmpty() bool {
	return p.Size == 0 && p.OpenNotional == 0
}

func (p Position) UnrealizedPnL(price int64) int64 {
	return fpmath.ComputeUnrealizedPnL(p.Size, p.OpenNotional, price)
}

func (p Position) Notional(price int64) int64 {
	return fpmath.ComputeNotional(p.Size, price)
}

// EntryPrice is |openNotional / size| in price units.
func (p Position) EntryPrice() int64 {
	return fpmath.ComputeEntryPrice(p.Size, p.OpenNotional)
}

// applyDelta adds a trade delta and returns the realized PnL.
//
//	increase: nothing realized
//	reduce:   realized = openNotional * |b| / |size| + q
//	close:    realized = openNotional + q
//	flip:     the share of q that closes the old side is realized against
//	          the whole openNotional, the rest opens the new side
func (p *Position) applyDelta(baseDelta, quoteDelta int64) int64 {
	if baseDelta == 0 {
		// a quote-only delta (fee rebate, rounding dust) on a flat
		// position is realized straight away
		if p.Size == 0 {
			realized := p.OpenNotional + quoteDelta
			p.OpenNotional = 0
			return realized
		}
		p.OpenNotional += quoteDelta
		return 0
	}

	if p.Size == 0 || fpmath.Sign(p.Size) == fpmath.Sign(baseDelta) {
		p.Size += baseDelta
		p.OpenNotional += quoteDelta
		return 0
	}

	absSize := fpmath.Abs(p.Size)
	absDelta := fpmath.Abs(baseDelta)

	switch {
	case absDelta < absSize:
		reduced := fpmath.MulDiv(p.OpenNotional, absDelta, absSize, fpmath.RoundTowardZero)
		p.Size += baseDelta
		p.OpenNotional -= reduced
		return reduced + quoteDelta

	case absDelta == absSize:
		realized := p.OpenNotional + quoteDelta
		p.Size = 0
		p.OpenNotional = 0
		return realized

	default:
		closingQuote := fpmath.MulDiv(quoteDelta, absSize, absDelta, fpmath.RoundTowardZero)
		realized := p.OpenNotional + closingQuote
		p.Size += baseDelta
		p.OpenNotional = quoteDelta - closingQuote
		return realized
	}
}

// CanonicalBytes returns deterministic serialization for hashing
func (p Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)

	buf = append(buf, p.Account[:]...)

	buf = append(buf, byte(len(p.MarketID)))
	buf = append(buf, []byte(p.MarketID)...)

	buf = appendInt64LE(buf, p.Size)
	buf = appendInt64LE(buf, p.OpenNotional)
	buf = appendInt64LE(buf, p.FundingCheckpoint)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
