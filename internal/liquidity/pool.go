// internal/liquidity/pool.go
package liquidity

import (
	"fmt"

	fpmath "PerpClearing/internal/math"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Pool is the concentrated-liquidity state of one market.
type Pool struct {
	MarketID    string
	FeeRatio    int64
	TickSpacing int32

	SqrtPrice uint256.Int // Q64.96
	Tick      int32
	Liquidity int64 // active at the current tick

	FeeGrowthGlobalBase  uint256.Int // Q128
	FeeGrowthGlobalQuote uint256.Int

	ticks  *TickMap
	makers map[MakerKey]*MakerPosition
}

// NewPool creates an empty pool at the market's initial price.
func NewPool(m *state.Market) (*Pool, error) {
	sqrtPrice, err := fpmath.SqrtPriceFromPrice(m.InitialPrice)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", m.ID, err)
	}
	tick, err := fpmath.TickAtSqrtPrice(sqrtPrice)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", m.ID, err)
	}
	return &Pool{
		MarketID:    m.ID,
		FeeRatio:    m.FeeRatio,
		TickSpacing: m.TickSpacing,
		SqrtPrice:   *sqrtPrice,
		Tick:        tick,
		ticks:       NewTickMap(),
		makers:      make(map[MakerKey]*MakerPosition),
	}, nil
}

// Clone returns a copy that can be mutated without touching p.
func (p *Pool) Clone() *Pool {
	c := *p
	c.ticks = p.ticks.Clone()
	c.makers = make(map[MakerKey]*MakerPosition, len(p.makers))
	for k, pos := range p.makers {
		cp := *pos
		c.makers[k] = &cp
	}
	return &c
}

// Price is the mark price implied by the pool, in price units.
func (p *Pool) Price() int64 {
	return fpmath.PriceFromSqrtPrice(&p.SqrtPrice)
}

func (p *Pool) Ticks() []Tick {
	return p.ticks.All()
}

func (p *Pool) TickAt(index int32) (Tick, bool) {
	return p.ticks.Get(index)
}

// Makers returns all maker positions sorted by account and range.
func (p *Pool) Makers() []MakerPosition {
	out := make([]MakerPosition, 0, len(p.makers))
	for _, pos := range p.makers {
		out = append(out, *pos)
	}
	sortMakers(out)
	return out
}

// AccountMakers returns the account's maker positions sorted by range.
func (p *Pool) AccountMakers(account uuid.UUID) []MakerPosition {
	out := make([]MakerPosition, 0)
	for k, pos := range p.makers {
		if k.Account == account {
			out = append(out, *pos)
		}
	}
	sortMakers(out)
	return out
}

func (p *Pool) validateRange(lower, upper int32) error {
	switch {
	case lower >= upper:
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidTickRange, lower, upper)
	case lower < fpmath.MinTick || upper > fpmath.MaxTick:
		return fmt.Errorf("%w: [%d, %d] outside [%d, %d]",
			ErrInvalidTickRange, lower, upper, fpmath.MinTick, fpmath.MaxTick)
	case lower%p.TickSpacing != 0 || upper%p.TickSpacing != 0:
		return fmt.Errorf("%w: [%d, %d] not aligned to spacing %d",
			ErrInvalidTickRange, lower, upper, p.TickSpacing)
	}
	return nil
}

func (p *Pool) sqrtRange(lower, upper int32) (*uint256.Int, *uint256.Int, error) {
	sqrtA, err := fpmath.SqrtPriceAtTick(lower)
	if err != nil {
		return nil, nil, err
	}
	sqrtB, err := fpmath.SqrtPriceAtTick(upper)
	if err != nil {
		return nil, nil, err
	}
	return sqrtA, sqrtB, nil
}

// feeGrowthInside returns the fee growth per unit of liquidity accumulated
// inside [lower, upper]. Both boundary ticks must be initialized.
func (p *Pool) feeGrowthInside(lower, upper int32) (base, quote *uint256.Int) {
	lo, _ := p.ticks.Get(lower)
	hi, _ := p.ticks.Get(upper)

	inside := func(global, outsideLower, outsideUpper *uint256.Int) *uint256.Int {
		below := outsideLower.Clone()
		if p.Tick < lower {
			below.Sub(global, outsideLower)
		}
		above := outsideUpper.Clone()
		if p.Tick >= upper {
			above.Sub(global, outsideUpper)
		}
		out := new(uint256.Int).Sub(global, below)
		return out.Sub(out, above)
	}

	return inside(&p.FeeGrowthGlobalBase, &lo.FeeGrowthOutsideBase, &hi.FeeGrowthOutsideBase),
		inside(&p.FeeGrowthGlobalQuote, &lo.FeeGrowthOutsideQuote, &hi.FeeGrowthOutsideQuote)
}

// updateTick adds delta liquidity at a boundary and reports whether the tick
// ended up uninitialized. A newly initialized tick at or below the current
// tick assumes all growth so far happened below it.
func (p *Pool) updateTick(index int32, delta int64, upper bool) (bool, error) {
	t, ok := p.ticks.Get(index)
	if !ok {
		t = Tick{Index: index}
		if index <= p.Tick {
			t.FeeGrowthOutsideBase = p.FeeGrowthGlobalBase
			t.FeeGrowthOutsideQuote = p.FeeGrowthGlobalQuote
		}
	}

	gross, ok := fpmath.AddChecked(t.LiquidityGross, delta)
	if !ok || gross < 0 {
		return false, fmt.Errorf("tick %d liquidity: %w", index, state.ErrInvalidAmount)
	}
	t.LiquidityGross = gross
	if upper {
		t.LiquidityNet -= delta
	} else {
		t.LiquidityNet += delta
	}
	p.ticks.Set(t)
	return gross == 0, nil
}

// modifyPosition updates both boundary ticks, accrues the position's fees
// and applies delta liquidity. Ticks left without liquidity are cleared.
func (p *Pool) modifyPosition(account uuid.UUID, lower, upper int32, delta int64) (*MakerPosition, error) {
	key := MakerKey{Account: account, TickLower: lower, TickUpper: upper}
	pos, ok := p.makers[key]
	if !ok {
		pos = &MakerPosition{Account: account, MarketID: p.MarketID, TickLower: lower, TickUpper: upper}
	}

	newLiquidity, ok := fpmath.AddChecked(pos.Liquidity, delta)
	if !ok || newLiquidity < 0 {
		return nil, fmt.Errorf("position liquidity: %w", state.ErrInvalidAmount)
	}

	flippedLower, err := p.updateTick(lower, delta, false)
	if err != nil {
		return nil, err
	}
	flippedUpper, err := p.updateTick(upper, delta, true)
	if err != nil {
		return nil, err
	}

	insideBase, insideQuote := p.feeGrowthInside(lower, upper)
	if err := pos.accrue(insideBase, insideQuote); err != nil {
		return nil, err
	}
	pos.Liquidity = newLiquidity

	if p.Tick >= lower && p.Tick < upper {
		active, ok := fpmath.AddChecked(p.Liquidity, delta)
		if !ok {
			return nil, fmt.Errorf("pool liquidity: %w", state.ErrInvalidAmount)
		}
		p.Liquidity = active
	}

	if flippedLower {
		p.ticks.Delete(lower)
	}
	if flippedUpper {
		p.ticks.Delete(upper)
	}
	p.makers[key] = pos
	return pos, nil
}

// LiquidityResult describes one add or remove.
type LiquidityResult struct {
	TickLower int32
	TickUpper int32
	Liquidity int64
	Base      int64
	Quote     int64
	// Set on removal only.
	BaseDebt  int64
	QuoteDebt int64
	FeeBase   int64
	FeeQuote  int64
}

// TakerBase is the base the maker keeps as a taker position after removal.
func (r LiquidityResult) TakerBase() int64 {
	return r.Base - r.BaseDebt
}

func (r LiquidityResult) TakerQuote() int64 {
	return r.Quote - r.QuoteDebt
}

// AddLiquidity mints the largest liquidity that baseMax and quoteMax can fund
// at the current price.
func (p *Pool) AddLiquidity(account uuid.UUID, lower, upper int32, baseMax, quoteMax int64) (LiquidityResult, error) {
	if err := p.validateRange(lower, upper); err != nil {
		return LiquidityResult{}, err
	}
	if baseMax < 0 || quoteMax < 0 {
		return LiquidityResult{}, fmt.Errorf("negative amounts: %w", state.ErrInvalidAmount)
	}
	sqrtA, sqrtB, err := p.sqrtRange(lower, upper)
	if err != nil {
		return LiquidityResult{}, err
	}

	liquidity, err := fpmath.LiquidityForAmounts(&p.SqrtPrice, sqrtA, sqrtB, baseMax, quoteMax)
	if err != nil {
		return LiquidityResult{}, fmt.Errorf("liquidity for amounts: %w", state.ErrInvalidAmount)
	}
	if liquidity == 0 {
		return LiquidityResult{}, fmt.Errorf("zero liquidity: %w", state.ErrInvalidAmount)
	}
	base, quote, err := fpmath.AmountsForLiquidity(&p.SqrtPrice, sqrtA, sqrtB, liquidity)
	if err != nil {
		return LiquidityResult{}, err
	}

	pos, err := p.modifyPosition(account, lower, upper, liquidity)
	if err != nil {
		return LiquidityResult{}, err
	}
	pos.BaseDebt += base
	pos.QuoteDebt += quote

	return LiquidityResult{TickLower: lower, TickUpper: upper, Liquidity: liquidity, Base: base, Quote: quote}, nil
}

// RemoveLiquidity burns liquidity from the account's range, releases the
// proportional debt and collects all owed fees.
func (p *Pool) RemoveLiquidity(account uuid.UUID, lower, upper int32, liquidity int64) (LiquidityResult, error) {
	key := MakerKey{Account: account, TickLower: lower, TickUpper: upper}
	existing, ok := p.makers[key]
	if !ok {
		return LiquidityResult{}, fmt.Errorf("%w: [%d, %d]", ErrNoLiquidityPosition, lower, upper)
	}
	if liquidity <= 0 || liquidity > existing.Liquidity {
		return LiquidityResult{}, fmt.Errorf("remove %d of %d: %w", liquidity, existing.Liquidity, state.ErrInvalidAmount)
	}

	sqrtA, sqrtB, err := p.sqrtRange(lower, upper)
	if err != nil {
		return LiquidityResult{}, err
	}
	base, quote, err := fpmath.AmountsForLiquidity(&p.SqrtPrice, sqrtA, sqrtB, liquidity)
	if err != nil {
		return LiquidityResult{}, err
	}

	baseDebt, quoteDebt := existing.BaseDebt, existing.QuoteDebt
	if liquidity < existing.Liquidity {
		baseDebt = fpmath.MulDiv(existing.BaseDebt, liquidity, existing.Liquidity, fpmath.RoundDown)
		quoteDebt = fpmath.MulDiv(existing.QuoteDebt, liquidity, existing.Liquidity, fpmath.RoundDown)
	}

	pos, err := p.modifyPosition(account, lower, upper, -liquidity)
	if err != nil {
		return LiquidityResult{}, err
	}
	pos.BaseDebt -= baseDebt
	pos.QuoteDebt -= quoteDebt

	res := LiquidityResult{
		TickLower: lower,
		TickUpper: upper,
		Liquidity: liquidity,
		Base:      base,
		Quote:     quote,
		BaseDebt:  baseDebt,
		QuoteDebt: quoteDebt,
		FeeBase:   pos.OwedBase,
		FeeQuote:  pos.OwedQuote,
	}
	pos.OwedBase, pos.OwedQuote = 0, 0

	if pos.Liquidity == 0 {
		delete(p.makers, key)
	}
	return res, nil
}

// Exposure aggregates the account's maker positions at the current price.
func (p *Pool) Exposure(account uuid.UUID) (MakerExposure, error) {
	exp := MakerExposure{MarketID: p.MarketID}
	for k, pos := range p.makers {
		if k.Account != account {
			continue
		}
		base, quote, err := p.amountsHeld(pos)
		if err != nil {
			return exp, err
		}
		insideBase, insideQuote := p.feeGrowthInside(pos.TickLower, pos.TickUpper)
		feeBase, err := feesSince(insideBase, &pos.FeeGrowthInsideBaseLast, pos.Liquidity)
		if err != nil {
			return exp, err
		}
		feeQuote, err := feesSince(insideQuote, &pos.FeeGrowthInsideQuoteLast, pos.Liquidity)
		if err != nil {
			return exp, err
		}

		exp.Liquidity += pos.Liquidity
		exp.Size += base - pos.BaseDebt
		exp.OpenNotional += quote - pos.QuoteDebt
		exp.BaseDebt += pos.BaseDebt
		exp.QuoteDebt += pos.QuoteDebt
		exp.FeeBase += pos.OwedBase + feeBase
		exp.FeeQuote += pos.OwedQuote + feeQuote
		exp.ranges = append(exp.ranges, rangeFunding{size: base - pos.BaseDebt, checkpoint: pos.FundingCheckpoint})
	}
	return exp, nil
}

// amountsHeld is what removing all of pos's liquidity would return now.
func (p *Pool) amountsHeld(pos *MakerPosition) (base, quote int64, err error) {
	sqrtA, sqrtB, err := p.sqrtRange(pos.TickLower, pos.TickUpper)
	if err != nil {
		return 0, 0, err
	}
	return fpmath.AmountsForLiquidity(&p.SqrtPrice, sqrtA, sqrtB, pos.Liquidity)
}

// pendingFunding reports whether any of the account's ranges has not
// settled at growth.
func (p *Pool) pendingFunding(account uuid.UUID, growth int64) bool {
	for k, pos := range p.makers {
		if k.Account == account && pos.FundingCheckpoint != growth {
			return true
		}
	}
	return false
}

// SettleFunding charges each of the account's ranges funding on its
// impermanent position and moves the checkpoints to growth. Returns the
// total payment (positive = the maker paid).
func (p *Pool) SettleFunding(account uuid.UUID, growth int64) (int64, error) {
	var total int64
	for k, pos := range p.makers {
		if k.Account != account || pos.FundingCheckpoint == growth {
			continue
		}
		base, _, err := p.amountsHeld(pos)
		if err != nil {
			return 0, err
		}
		total += fpmath.ComputeFundingPayment(base-pos.BaseDebt, growth, pos.FundingCheckpoint)
		pos.FundingCheckpoint = growth
	}
	return total, nil
}
