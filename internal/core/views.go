package core

import (
	"PerpClearing/internal/ledger"
	"PerpClearing/internal/liquidity"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
)

// AccountView is a read-only picture of one account at the engine clock.
type AccountView struct {
	Account        uuid.UUID
	Balances       map[ledger.AssetID]int64
	Positions      []state.Position
	Makers         []liquidity.MakerPosition
	Margin         state.AccountMargin
	FreeCollateral int64
	MarginRatio    int64
	Status         state.MarginStatus
}

// MarketView is the live state of one market and its pool.
type MarketView struct {
	Market    state.Market
	MarkPrice int64
	// IndexPrice is zero while the feed has no valid sample.
	IndexPrice int64
	Tick       int32
	Liquidity  int64
	Funding    state.FundingGrowth
}

type InsuranceFundView struct {
	Balance      int64
	Deficit      int64
	TotalBadDebt int64
	BadDebts     []state.BadDebtEvent
}

func (c *ClearingEngine) Account(account uuid.UUID) (AccountView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	am, err := c.vault.Margin(account, c.clock)
	if err != nil {
		return AccountView{}, err
	}
	view := AccountView{
		Account:        account,
		Balances:       c.vault.Balances(account),
		Positions:      c.positions.AccountPositions(account),
		Margin:         am,
		FreeCollateral: am.FreeCollateral(),
		MarginRatio:    am.MarginRatio(),
		Status:         am.Status(),
	}
	for _, id := range c.markets.IDs() {
		p, err := c.pools.Pool(id)
		if err != nil {
			return AccountView{}, err
		}
		view.Makers = append(view.Makers, p.AccountMakers(account)...)
	}
	return view, nil
}

func (c *ClearingEngine) Market(id string) (MarketView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.marketView(id)
}

func (c *ClearingEngine) Markets() ([]MarketView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.markets.IDs()
	out := make([]MarketView, 0, len(ids))
	for _, id := range ids {
		v, err := c.marketView(id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *ClearingEngine) marketView(id string) (MarketView, error) {
	m, err := c.markets.Get(id)
	if err != nil {
		return MarketView{}, err
	}
	p, err := c.pools.Pool(id)
	if err != nil {
		return MarketView{}, err
	}
	index, err := c.vault.IndexPrice(id, c.clock)
	if err != nil {
		index = 0
	}
	return MarketView{
		Market:     *m,
		MarkPrice:  p.Price(),
		IndexPrice: index,
		Tick:       p.Tick,
		Liquidity:  p.Liquidity,
		Funding:    c.positions.Funding(id),
	}, nil
}

func (c *ClearingEngine) InsuranceFund() InsuranceFundView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fund := c.vault.InsuranceFund()
	return InsuranceFundView{
		Balance:      fund.Balance(),
		Deficit:      fund.Deficit(),
		TotalBadDebt: c.liquidations.TotalBadDebt(),
		BadDebts:     c.liquidations.BadDebts(),
	}
}

// Clock returns the latest command time the engine has applied.
func (c *ClearingEngine) Clock() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock
}
