package server

import (
	"context"

	"PerpClearing/internal/core"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
)

// EngineReader is the live read surface of the clearing engine.
type EngineReader interface {
	Account(account uuid.UUID) (core.AccountView, error)
	Market(id string) (core.MarketView, error)
	Markets() ([]core.MarketView, error)
	InsuranceFund() core.InsuranceFundView
	Clock() int64
}

// Snapshotter captures and stores an engine snapshot on demand.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context) (int64, error)
}

type positionJSON struct {
	MarketID          string `json:"market_id"`
	Size              int64  `json:"size"`
	OpenNotional      int64  `json:"open_notional"`
	FundingCheckpoint int64  `json:"funding_checkpoint"`
}

type makerJSON struct {
	MarketID  string `json:"market_id"`
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
	Liquidity int64  `json:"liquidity"`
	OwedBase  int64  `json:"owed_base"`
	OwedQuote int64  `json:"owed_quote"`
	BaseDebt  int64  `json:"base_debt"`
	QuoteDebt int64  `json:"quote_debt"`
}

type accountJSON struct {
	Account         uuid.UUID        `json:"account"`
	Balances        map[string]int64 `json:"balances"`
	Positions       []positionJSON   `json:"positions"`
	Makers          []makerJSON      `json:"makers"`
	CollateralValue int64            `json:"collateral_value"`
	AccountValue    int64            `json:"account_value"`
	TotalNotional   int64            `json:"total_notional"`
	FreeCollateral  int64            `json:"free_collateral"`
	MarginRatio     int64            `json:"margin_ratio"`
	Status          string           `json:"status"`
	Clock           int64            `json:"clock"`
}

func toAccountJSON(v core.AccountView, clock int64) accountJSON {
	out := accountJSON{
		Account:         v.Account,
		Balances:        make(map[string]int64, len(v.Balances)),
		Positions:       []positionJSON{},
		Makers:          []makerJSON{},
		CollateralValue: v.Margin.CollateralValue,
		AccountValue:    v.Margin.AccountValue,
		TotalNotional:   v.Margin.TotalNotional(),
		FreeCollateral:  v.FreeCollateral,
		MarginRatio:     v.MarginRatio,
		Status:          v.Status.String(),
		Clock:           clock,
	}
	for asset, amount := range v.Balances {
		out.Balances[asset.String()] = amount
	}
	for _, p := range v.Positions {
		out.Positions = append(out.Positions, positionJSON{
			MarketID:          p.MarketID,
			Size:              p.Size,
			OpenNotional:      p.OpenNotional,
			FundingCheckpoint: p.FundingCheckpoint,
		})
	}
	for _, m := range v.Makers {
		out.Makers = append(out.Makers, makerJSON{
			MarketID:  m.MarketID,
			TickLower: m.TickLower,
			TickUpper: m.TickUpper,
			Liquidity: m.Liquidity,
			OwedBase:  m.OwedBase,
			OwedQuote: m.OwedQuote,
			BaseDebt:  m.BaseDebt,
			QuoteDebt: m.QuoteDebt,
		})
	}
	return out
}

type marketJSON struct {
	ID               string `json:"id"`
	BaseAsset        string `json:"base_asset"`
	Status           string `json:"status"`
	MarkPrice        int64  `json:"mark_price"`
	IndexPrice       int64  `json:"index_price"`
	Tick             int32  `json:"tick"`
	Liquidity        int64  `json:"liquidity"`
	FeeRatio         int64  `json:"fee_ratio"`
	TickSpacing      int32  `json:"tick_spacing"`
	IMRatio          int64  `json:"im_ratio"`
	MMRatio          int64  `json:"mm_ratio"`
	FundingGrowth    int64  `json:"funding_growth"`
	LastFunding      int64  `json:"last_funding"`
	EndingIndexPrice int64  `json:"ending_index_price,omitempty"`
	ClosedPrice      int64  `json:"closed_price,omitempty"`
}

func toMarketJSON(v core.MarketView) marketJSON {
	return marketJSON{
		ID:               v.Market.ID,
		BaseAsset:        v.Market.BaseAsset,
		Status:           v.Market.Status.String(),
		MarkPrice:        v.MarkPrice,
		IndexPrice:       v.IndexPrice,
		Tick:             v.Tick,
		Liquidity:        v.Liquidity,
		FeeRatio:         v.Market.FeeRatio,
		TickSpacing:      v.Market.TickSpacing,
		IMRatio:          v.Market.Risk.IMRatio,
		MMRatio:          v.Market.Risk.MMRatio,
		FundingGrowth:    v.Funding.Growth,
		LastFunding:      v.Funding.LastSettlement,
		EndingIndexPrice: v.Market.EndingIndexPrice,
		ClosedPrice:      v.Market.ClosedPrice,
	}
}

type insuranceFundJSON struct {
	Balance      int64                `json:"balance"`
	Deficit      int64                `json:"deficit"`
	TotalBadDebt int64                `json:"total_bad_debt"`
	BadDebts     []state.BadDebtEvent `json:"bad_debts"`
}

func toInsuranceFundJSON(v core.InsuranceFundView) insuranceFundJSON {
	out := insuranceFundJSON{
		Balance:      v.Balance,
		Deficit:      v.Deficit,
		TotalBadDebt: v.TotalBadDebt,
		BadDebts:     v.BadDebts,
	}
	if out.BadDebts == nil {
		out.BadDebts = []state.BadDebtEvent{}
	}
	return out
}
