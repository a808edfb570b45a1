package liquidity

import (
	"bytes"
	"sort"

	fpmath "PerpClearing/internal/math"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type MakerKey struct {
	Account   uuid.UUID
	TickLower int32
	TickUpper int32
}

// MakerPosition is an account's liquidity over one tick range.
// BaseDebt and QuoteDebt are what the maker supplied; on removal the
// difference between the returned amounts and the proportional debt
// becomes a taker position delta.
type MakerPosition struct {
	Account   uuid.UUID `json:"account"`
	MarketID  string    `json:"market_id"`
	TickLower int32     `json:"tick_lower"`
	TickUpper int32     `json:"tick_upper"`
	Liquidity int64     `json:"liquidity"`

	FeeGrowthInsideBaseLast  uint256.Int `json:"fee_growth_inside_base_last"`
	FeeGrowthInsideQuoteLast uint256.Int `json:"fee_growth_inside_quote_last"`
	OwedBase                 int64       `json:"owed_base"`
	OwedQuote                int64       `json:"owed_quote"`

	BaseDebt  int64 `json:"base_debt"`
	QuoteDebt int64 `json:"quote_debt"`

	// FundingCheckpoint is the market funding growth the range's
	// impermanent position last settled at.
	FundingCheckpoint int64 `json:"funding_checkpoint"`
}

func (p *MakerPosition) Key() MakerKey {
	return MakerKey{Account: p.Account, TickLower: p.TickLower, TickUpper: p.TickUpper}
}

// feesSince returns liquidity * (inside - last) / 2^128. Growth values wrap,
// so the subtraction is modular.
func feesSince(inside, last *uint256.Int, liquidity int64) (int64, error) {
	if liquidity == 0 {
		return 0, nil
	}
	delta := new(uint256.Int).Sub(inside, last)
	fees, overflow := new(uint256.Int).MulDivOverflow(delta, uint256.NewInt(uint64(liquidity)), fpmath.Q128)
	if overflow {
		return 0, fpmath.ErrMathOverflow
	}
	return fpmath.ToInt64(fees)
}

// accrue moves fees earned since the last checkpoint into the owed balances.
func (p *MakerPosition) accrue(insideBase, insideQuote *uint256.Int) error {
	base, err := feesSince(insideBase, &p.FeeGrowthInsideBaseLast, p.Liquidity)
	if err != nil {
		return err
	}
	quote, err := feesSince(insideQuote, &p.FeeGrowthInsideQuoteLast, p.Liquidity)
	if err != nil {
		return err
	}
	p.OwedBase += base
	p.OwedQuote += quote
	p.FeeGrowthInsideBaseLast = *insideBase
	p.FeeGrowthInsideQuoteLast = *insideQuote
	return nil
}

func sortMakers(ps []MakerPosition) {
	sort.Slice(ps, func(i, j int) bool {
		if c := bytes.Compare(ps[i].Account[:], ps[j].Account[:]); c != 0 {
			return c < 0
		}
		if ps[i].TickLower != ps[j].TickLower {
			return ps[i].TickLower < ps[j].TickLower
		}
		return ps[i].TickUpper < ps[j].TickUpper
	})
}

// MakerExposure aggregates an account's maker positions in one pool.
type MakerExposure struct {
	MarketID  string
	Liquidity int64
	// Size and OpenNotional are the impermanent taker position the maker
	// would receive if all liquidity were removed now.
	Size         int64
	OpenNotional int64
	BaseDebt     int64
	QuoteDebt    int64
	// Fees include growth not yet accrued into the positions.
	FeeBase  int64
	FeeQuote int64

	ranges []rangeFunding
}

// rangeFunding is one range's impermanent size and funding checkpoint.
type rangeFunding struct {
	size       int64
	checkpoint int64
}

// PendingFunding is what the impermanent positions owe (positive) or are
// owed since their checkpoints, settled per range like SettleFunding does.
func (e MakerExposure) PendingFunding(growth int64) int64 {
	var total int64
	for _, r := range e.ranges {
		total += fpmath.ComputeFundingPayment(r.size, growth, r.checkpoint)
	}
	return total
}

func (e MakerExposure) HasLiquidity() bool {
	return e.Liquidity > 0
}

// DebtValue is the value of the supplied base and quote at price.
func (e MakerExposure) DebtValue(price int64) int64 {
	return fpmath.ComputeNotional(e.BaseDebt, price) + e.QuoteDebt
}

// PendingPnL values the impermanent position and fees at price.
func (e MakerExposure) PendingPnL(price int64) int64 {
	return fpmath.ComputeUnrealizedPnL(e.Size, e.OpenNotional, price) +
		fpmath.ComputeNotional(e.FeeBase, price) + e.FeeQuote
}
