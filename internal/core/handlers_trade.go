package core

import (
	"fmt"

	"PerpClearing/internal/event"
	"PerpClearing/internal/liquidity"
	fpmath "PerpClearing/internal/math"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func parseSqrtPriceLimit(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	limit, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: sqrt price limit %q: %v", ErrInvalidCommand, s, err)
	}
	return limit, nil
}

// checkOppositeBound enforces the trader's bound on the side of the swap
// they did not fix: a minimum output for exact input, a maximum input for
// exact output. Zero disables it.
func checkOppositeBound(params liquidity.SwapParams, bound int64, res liquidity.SwapResult) error {
	if bound == 0 {
		return nil
	}
	base, quote := fpmath.Abs(res.Base), fpmath.Abs(res.Quote)

	var got int64
	var ok bool
	switch {
	case params.ExactInput && params.IsBaseToQuote:
		got, ok = quote, quote >= bound
	case params.ExactInput:
		got, ok = base, base >= bound
	case params.IsBaseToQuote:
		got, ok = base, base <= bound
	default:
		got, ok = quote, quote <= bound
	}
	if !ok {
		return fmt.Errorf("%w: opposite amount %d, bound %d", ErrSlippageExceeded, got, bound)
	}
	return nil
}

// closeParams builds the swap that exactly flattens size: sell a long as
// exact input, buy back a short as exact output.
func closeParams(size int64) liquidity.SwapParams {
	if size > 0 {
		return liquidity.SwapParams{IsBaseToQuote: true, ExactInput: true, Amount: size}
	}
	return liquidity.SwapParams{IsBaseToQuote: false, ExactInput: false, Amount: -size}
}

// referenceFill closes size at the market's reference price. Used once the
// market is paused or closed and the pool no longer trades.
func referenceFill(m *state.Market, size int64) liquidity.SwapResult {
	price, _ := m.ReferencePrice()
	return liquidity.SwapResult{Base: -size, Quote: fpmath.ComputeNotional(size, price)}
}

// increasesExposure is true when a trade opens, grows or flips a position.
func increasesExposure(before, after int64) bool {
	if after == 0 {
		return false
	}
	if before == 0 || (before > 0) != (after > 0) {
		return true
	}
	return fpmath.Abs(after) > fpmath.Abs(before)
}

func (c *ClearingEngine) handleOpenPosition(tx *txn, cmd *event.OpenPosition) error {
	m, err := c.market(cmd.Market)
	if err != nil {
		return err
	}
	if cmd.Amount <= 0 {
		return fmt.Errorf("open %d: %w", cmd.Amount, ErrInvalidAmount)
	}
	if err := checkDeadline(cmd.Deadline, tx.now); err != nil {
		return err
	}
	if !m.IsOpen() {
		return fmt.Errorf("open in %s (%s): %w", m.ID, m.Status, ErrMarketNotOpen)
	}
	limit, err := parseSqrtPriceLimit(cmd.SqrtPriceLimit)
	if err != nil {
		return err
	}
	if err := c.settleFunding(tx, m, cmd.Account); err != nil {
		return err
	}

	params := liquidity.SwapParams{
		IsBaseToQuote:  cmd.IsBaseToQuote,
		ExactInput:     cmd.ExactInput,
		Amount:         cmd.Amount,
		SqrtPriceLimit: limit,
	}
	before := tx.positions.Position(cmd.Account, m.ID)
	res, err := tx.pools.Swap(m, params)
	if err != nil {
		return err
	}
	if err := checkOppositeBound(params, cmd.OppositeAmountBound, res); err != nil {
		return err
	}
	realized := tx.positions.UpdatePosition(cmd.Account, m.ID, res.Base, res.Quote)
	after := tx.positions.Position(cmd.Account, m.ID)

	// Reducing a position is always allowed.
	if increasesExposure(before.Size, after.Size) {
		if err := c.checkOpenRisk(tx, m, cmd.Account, after); err != nil {
			return err
		}
	}

	return c.emitPositionChanged(tx, m, cmd.Account, res, realized)
}

func (c *ClearingEngine) checkOpenRisk(tx *txn, m *state.Market, account uuid.UUID, pos state.Position) error {
	if limit := m.Risk.MaxPositionNotional; limit > 0 {
		price, err := tx.vault.IndexPrice(m.ID, tx.now)
		if err != nil {
			return err
		}
		if notional := fpmath.Abs(pos.Notional(price)); notional > limit {
			return fmt.Errorf("%w: %d > %d in %s", ErrMaxPositionNotional, notional, limit, m.ID)
		}
	}

	am, err := tx.vault.Margin(account, tx.now)
	if err != nil {
		return err
	}
	if !am.MeetsInitialMargin() {
		return fmt.Errorf("%w: free collateral %d", ErrInsufficientMargin, am.FreeCollateral())
	}
	return nil
}

// handleClosePosition flattens the whole taker position. Paused and closed
// markets settle at their reference price instead of the pool.
func (c *ClearingEngine) handleClosePosition(tx *txn, cmd *event.ClosePosition) error {
	m, err := c.market(cmd.Market)
	if err != nil {
		return err
	}
	if err := checkDeadline(cmd.Deadline, tx.now); err != nil {
		return err
	}
	if err := c.settleFunding(tx, m, cmd.Account); err != nil {
		return err
	}

	pos := tx.positions.Position(cmd.Account, m.ID)
	if pos.IsFlat() {
		return fmt.Errorf("%w in %s", ErrNoPosition, m.ID)
	}

	var res liquidity.SwapResult
	if m.IsOpen() {
		params := closeParams(pos.Size)
		if res, err = tx.pools.Swap(m, params); err != nil {
			return err
		}
		if err := checkOppositeBound(params, cmd.OppositeAmountBound, res); err != nil {
			return err
		}
	} else {
		res = referenceFill(m, pos.Size)
	}

	realized := tx.positions.UpdatePosition(cmd.Account, m.ID, res.Base, res.Quote)
	return c.emitPositionChanged(tx, m, cmd.Account, res, realized)
}

func (c *ClearingEngine) emitPositionChanged(tx *txn, m *state.Market, account uuid.UUID, res liquidity.SwapResult, realized int64) error {
	mark, err := tx.pools.MarkPrice(m.ID)
	if err != nil {
		return err
	}
	pos := tx.positions.Position(account, m.ID)
	tx.emit(&event.PositionChanged{
		Account:        account,
		MarketID:       m.ID,
		ExchangedBase:  res.Base,
		ExchangedQuote: res.Quote,
		Fee:            res.Fee,
		RealizedPnL:    realized,
		Size:           pos.Size,
		OpenNotional:   pos.OpenNotional,
		MarkPrice:      mark,
		Timestamp:      tx.now,
	})
	if c.metrics != nil && res.TicksCrossed > 0 {
		crossed := float64(res.TicksCrossed)
		tx.onCommit = append(tx.onCommit, func() {
			c.metrics.SwapTicksCrossed.WithLabelValues(m.ID).Observe(crossed)
		})
	}
	return nil
}

func (c *ClearingEngine) handleAddLiquidity(tx *txn, cmd *event.AddLiquidity) error {
	m, err := c.market(cmd.Market)
	if err != nil {
		return err
	}
	if err := c.settleFunding(tx, m, cmd.Account); err != nil {
		return err
	}

	res, err := tx.pools.AddLiquidity(m, cmd.Account, liquidity.AddLiquidityParams{
		TickLower: cmd.TickLower,
		TickUpper: cmd.TickUpper,
		BaseMax:   cmd.BaseMax,
		QuoteMax:  cmd.QuoteMax,
		MinBase:   cmd.MinBase,
		MinQuote:  cmd.MinQuote,
		Deadline:  cmd.Deadline,

		FundingGrowth: tx.positions.Funding(m.ID).Growth,
	}, tx.now)
	if err != nil {
		return err
	}

	am, err := tx.vault.Margin(cmd.Account, tx.now)
	if err != nil {
		return err
	}
	if !am.MeetsInitialMargin() {
		return fmt.Errorf("%w: free collateral %d", ErrInsufficientMargin, am.FreeCollateral())
	}

	tx.emit(&event.LiquidityChanged{
		Account:   cmd.Account,
		MarketID:  m.ID,
		TickLower: res.TickLower,
		TickUpper: res.TickUpper,
		Liquidity: res.Liquidity,
		Base:      res.Base,
		Quote:     res.Quote,
		Timestamp: tx.now,
	})
	return nil
}

func (c *ClearingEngine) handleRemoveLiquidity(tx *txn, cmd *event.RemoveLiquidity) error {
	m, err := c.market(cmd.Market)
	if err != nil {
		return err
	}
	if err := c.settleFunding(tx, m, cmd.Account); err != nil {
		return err
	}

	res, err := tx.pools.RemoveLiquidity(m, cmd.Account, liquidity.RemoveLiquidityParams{
		TickLower: cmd.TickLower,
		TickUpper: cmd.TickUpper,
		Liquidity: cmd.Liquidity,
		MinBase:   cmd.MinBase,
		MinQuote:  cmd.MinQuote,
		Deadline:  cmd.Deadline,
	}, tx.now)
	if err != nil {
		return err
	}
	return c.settleRemoval(tx, m, cmd.Account, res)
}

// settleRemoval turns the unhedged part of removed liquidity into a taker
// position delta and pays the owed fees into the vault. Base fees are valued
// at the pool price.
func (c *ClearingEngine) settleRemoval(tx *txn, m *state.Market, account uuid.UUID, res liquidity.LiquidityResult) error {
	takerBase, takerQuote := res.TakerBase(), res.TakerQuote()
	realized := tx.positions.UpdatePosition(account, m.ID, takerBase, takerQuote)

	mark, err := tx.pools.MarkPrice(m.ID)
	if err != nil {
		return err
	}
	fee := res.FeeQuote + fpmath.ComputeNotional(res.FeeBase, mark)
	tx.gen.MakerFee(account, fee)

	tx.emit(&event.LiquidityChanged{
		Account:      account,
		MarketID:     m.ID,
		TickLower:    res.TickLower,
		TickUpper:    res.TickUpper,
		Liquidity:    -res.Liquidity,
		Base:         res.Base,
		Quote:        res.Quote,
		FeeCollected: fee,
		TakerBase:    takerBase,
		TakerQuote:   takerQuote,
		Timestamp:    tx.now,
	})
	if takerBase == 0 && takerQuote == 0 {
		return nil
	}
	return c.emitPositionChanged(tx, m, account, liquidity.SwapResult{Base: takerBase, Quote: takerQuote}, realized)
}

func (c *ClearingEngine) handleSettleFunding(tx *txn, cmd *event.SettleFunding) error {
	m, err := c.market(cmd.Market)
	if err != nil {
		return err
	}
	return c.settleFunding(tx, m, cmd.Account)
}
