// internal/liquidity/engine.go
package liquidity

import (
	"fmt"
	"sort"

	"PerpClearing/internal/oracle"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
)

// Engine owns the pools of every market plus the mark price history the
// funding rate is computed from.
type Engine struct {
	pools map[string]*Pool
	marks map[string]*oracle.Series
}

func NewEngine() *Engine {
	return &Engine{
		pools: make(map[string]*Pool),
		marks: make(map[string]*oracle.Series),
	}
}

// CreatePool adds an empty pool for a market.
func (e *Engine) CreatePool(m *state.Market) error {
	if _, ok := e.pools[m.ID]; ok {
		return fmt.Errorf("pool %s already exists", m.ID)
	}
	p, err := NewPool(m)
	if err != nil {
		return err
	}
	e.pools[m.ID] = p
	e.marks[m.ID] = oracle.NewSeries(0)
	return nil
}

// Pool returns the committed pool. Callers must not mutate it.
func (e *Engine) Pool(marketID string) (*Pool, error) {
	p, ok := e.pools[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, marketID)
	}
	return p, nil
}

// MarkPrice is the current pool price.
func (e *Engine) MarkPrice(marketID string) (int64, error) {
	p, err := e.Pool(marketID)
	if err != nil {
		return 0, err
	}
	return p.Price(), nil
}

// MarkTWAP averages committed pool prices. Before any sample exists the
// current pool price is returned.
func (e *Engine) MarkTWAP(marketID string, interval, now int64) (int64, error) {
	p, err := e.Pool(marketID)
	if err != nil {
		return 0, err
	}
	price, err := e.marks[marketID].TWAP(now, interval)
	if err != nil {
		return p.Price(), nil
	}
	return price, nil
}

func (e *Engine) Exposure(account uuid.UUID, marketID string) (MakerExposure, error) {
	p, err := e.Pool(marketID)
	if err != nil {
		return MakerExposure{}, err
	}
	return p.Exposure(account)
}

func (e *Engine) Begin() *Tx {
	return &Tx{base: e, pools: make(map[string]*Pool)}
}

// PoolSnapshot is the serializable form of a pool.
type PoolSnapshot struct {
	MarketID             string          `json:"market_id"`
	SqrtPrice            string          `json:"sqrt_price"`
	Tick                 int32           `json:"tick"`
	Liquidity            int64           `json:"liquidity"`
	FeeGrowthGlobalBase  string          `json:"fee_growth_global_base"`
	FeeGrowthGlobalQuote string          `json:"fee_growth_global_quote"`
	Ticks                []Tick          `json:"ticks"`
	Makers               []MakerPosition `json:"makers"`
	Marks                []oracle.Sample `json:"marks"`
}

func (e *Engine) Snapshot() []PoolSnapshot {
	ids := make([]string, 0, len(e.pools))
	for id := range e.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]PoolSnapshot, 0, len(ids))
	for _, id := range ids {
		p := e.pools[id]
		out = append(out, PoolSnapshot{
			MarketID:             id,
			SqrtPrice:            p.SqrtPrice.Dec(),
			Tick:                 p.Tick,
			Liquidity:            p.Liquidity,
			FeeGrowthGlobalBase:  p.FeeGrowthGlobalBase.Dec(),
			FeeGrowthGlobalQuote: p.FeeGrowthGlobalQuote.Dec(),
			Ticks:                p.Ticks(),
			Makers:               p.Makers(),
			Marks:                e.marks[id].Samples(),
		})
	}
	return out
}

// Restore loads pool state into pools created from config.
func (e *Engine) Restore(snaps []PoolSnapshot) error {
	for _, s := range snaps {
		p, err := e.Pool(s.MarketID)
		if err != nil {
			return err
		}
		if err := p.SqrtPrice.SetFromDecimal(s.SqrtPrice); err != nil {
			return fmt.Errorf("pool %s sqrt price: %w", s.MarketID, err)
		}
		if err := p.FeeGrowthGlobalBase.SetFromDecimal(s.FeeGrowthGlobalBase); err != nil {
			return fmt.Errorf("pool %s fee growth: %w", s.MarketID, err)
		}
		if err := p.FeeGrowthGlobalQuote.SetFromDecimal(s.FeeGrowthGlobalQuote); err != nil {
			return fmt.Errorf("pool %s fee growth: %w", s.MarketID, err)
		}
		p.Tick = s.Tick
		p.Liquidity = s.Liquidity

		p.ticks = NewTickMap()
		for _, t := range s.Ticks {
			p.ticks.Set(t)
		}
		p.makers = make(map[MakerKey]*MakerPosition, len(s.Makers))
		for i := range s.Makers {
			m := s.Makers[i]
			p.makers[m.Key()] = &m
		}

		series := oracle.NewSeries(0)
		for _, sample := range s.Marks {
			if err := series.Append(sample.Timestamp, sample.Price); err != nil {
				return fmt.Errorf("pool %s marks: %w", s.MarketID, err)
			}
		}
		e.marks[s.MarketID] = series
	}
	return nil
}

// Tx stages pool changes for one command on lazily cloned pools.
type Tx struct {
	base  *Engine
	pools map[string]*Pool
}

func (tx *Tx) staged(marketID string) (*Pool, error) {
	if p, ok := tx.pools[marketID]; ok {
		return p, nil
	}
	p, err := tx.base.Pool(marketID)
	if err != nil {
		return nil, err
	}
	c := p.Clone()
	tx.pools[marketID] = c
	return c, nil
}

// Pool returns the staged pool if this transaction touched it, else the
// committed one. Callers must not mutate it.
func (tx *Tx) Pool(marketID string) (*Pool, error) {
	if p, ok := tx.pools[marketID]; ok {
		return p, nil
	}
	return tx.base.Pool(marketID)
}

func (tx *Tx) MarkPrice(marketID string) (int64, error) {
	p, err := tx.Pool(marketID)
	if err != nil {
		return 0, err
	}
	return p.Price(), nil
}

func (tx *Tx) Exposure(account uuid.UUID, marketID string) (MakerExposure, error) {
	p, err := tx.Pool(marketID)
	if err != nil {
		return MakerExposure{}, err
	}
	return p.Exposure(account)
}

func (tx *Tx) AccountMakers(account uuid.UUID, marketID string) ([]MakerPosition, error) {
	p, err := tx.Pool(marketID)
	if err != nil {
		return nil, err
	}
	return p.AccountMakers(account), nil
}

// AddLiquidityParams mirror the maker's request. A zero deadline never expires.
type AddLiquidityParams struct {
	TickLower int32
	TickUpper int32
	BaseMax   int64
	QuoteMax  int64
	MinBase   int64
	MinQuote  int64
	Deadline  int64
	// FundingGrowth seeds the funding checkpoint of a new range.
	FundingGrowth int64
}

type RemoveLiquidityParams struct {
	TickLower int32
	TickUpper int32
	Liquidity int64
	MinBase   int64
	MinQuote  int64
	Deadline  int64
}

func checkDeadline(deadline, now int64) error {
	if deadline != 0 && now > deadline {
		return fmt.Errorf("%w: now %d > deadline %d", state.ErrDeadlineExpired, now, deadline)
	}
	return nil
}

func checkMinimums(res LiquidityResult, minBase, minQuote int64) error {
	if res.Base < minBase || res.Quote < minQuote {
		return fmt.Errorf("%w: got base %d quote %d, want at least %d / %d",
			state.ErrSlippageExceeded, res.Base, res.Quote, minBase, minQuote)
	}
	return nil
}

// AddLiquidity mints liquidity for account. The market must be open.
func (tx *Tx) AddLiquidity(m *state.Market, account uuid.UUID, params AddLiquidityParams, now int64) (LiquidityResult, error) {
	if err := checkDeadline(params.Deadline, now); err != nil {
		return LiquidityResult{}, err
	}
	if !m.IsOpen() {
		return LiquidityResult{}, fmt.Errorf("add liquidity in %s (%s): %w", m.ID, m.Status, state.ErrMarketNotOpen)
	}
	p, err := tx.staged(m.ID)
	if err != nil {
		return LiquidityResult{}, err
	}
	key := MakerKey{Account: account, TickLower: params.TickLower, TickUpper: params.TickUpper}
	_, existed := p.makers[key]
	res, err := p.AddLiquidity(account, params.TickLower, params.TickUpper, params.BaseMax, params.QuoteMax)
	if err != nil {
		return LiquidityResult{}, err
	}
	if !existed {
		p.makers[key].FundingCheckpoint = params.FundingGrowth
	}
	if err := checkMinimums(res, params.MinBase, params.MinQuote); err != nil {
		return LiquidityResult{}, err
	}
	return res, nil
}

// RemoveLiquidity burns liquidity in any market status.
func (tx *Tx) RemoveLiquidity(m *state.Market, account uuid.UUID, params RemoveLiquidityParams, now int64) (LiquidityResult, error) {
	if err := checkDeadline(params.Deadline, now); err != nil {
		return LiquidityResult{}, err
	}
	p, err := tx.staged(m.ID)
	if err != nil {
		return LiquidityResult{}, err
	}
	res, err := p.RemoveLiquidity(account, params.TickLower, params.TickUpper, params.Liquidity)
	if err != nil {
		return LiquidityResult{}, err
	}
	if err := checkMinimums(res, params.MinBase, params.MinQuote); err != nil {
		return LiquidityResult{}, err
	}
	return res, nil
}

// SettleFunding settles the account's maker ranges in marketID at growth.
// The pool is only staged when a range has something to settle.
func (tx *Tx) SettleFunding(account uuid.UUID, marketID string, growth int64) (int64, error) {
	p, err := tx.Pool(marketID)
	if err != nil {
		return 0, err
	}
	if !p.pendingFunding(account, growth) {
		return 0, nil
	}
	if p, err = tx.staged(marketID); err != nil {
		return 0, err
	}
	return p.SettleFunding(account, growth)
}

// MakerMarkets returns the sorted ids of markets the account provides
// liquidity in.
func (tx *Tx) MakerMarkets(account uuid.UUID) []string {
	var ids []string
	for id := range tx.base.pools {
		p, err := tx.Pool(id)
		if err != nil {
			continue
		}
		if len(p.AccountMakers(account)) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Swap trades against the market's pool. The market must be open.
func (tx *Tx) Swap(m *state.Market, params SwapParams) (SwapResult, error) {
	if !m.IsOpen() {
		return SwapResult{}, fmt.Errorf("swap in %s (%s): %w", m.ID, m.Status, state.ErrMarketNotOpen)
	}
	p, err := tx.staged(m.ID)
	if err != nil {
		return SwapResult{}, err
	}
	return p.Swap(params)
}

// Touched returns the ids of pools staged in this transaction, sorted.
func (tx *Tx) Touched() []string {
	ids := make([]string, 0, len(tx.pools))
	for id := range tx.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Commit installs the staged pools and records their prices as mark samples
// at now.
func (tx *Tx) Commit(now int64) error {
	for _, id := range tx.Touched() {
		p := tx.pools[id]
		tx.base.pools[id] = p
		if err := tx.base.marks[id].Append(now, p.Price()); err != nil {
			return fmt.Errorf("mark %s: %w", id, err)
		}
	}
	return nil
}
