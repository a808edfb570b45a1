// Package config loads market definitions from TOML files.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"PerpClearing/internal/ledger"
	fpmath "PerpClearing/internal/math"
	"PerpClearing/internal/state"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// File is the on-disk layout. Prices and ratios are decimal strings
// ("2000.5", "0.0625") so they convert to fixed point without float error.
type File struct {
	Owner            string            `toml:"owner"`
	CollateralRatios map[string]string `toml:"collateral_ratios"`
	Markets          []MarketEntry     `toml:"markets"`
}

type MarketEntry struct {
	ID                  string `toml:"id"`
	BaseAsset           string `toml:"base_asset"`
	InitialPrice        string `toml:"initial_price"`
	FeeRatio            string `toml:"fee_ratio"`
	TickSpacing         int32  `toml:"tick_spacing"`
	FundingPeriod       int64  `toml:"funding_period"` // seconds
	TwapInterval        *int64 `toml:"twap_interval"`  // seconds; 0 = latest sample
	IMRatio             string `toml:"im_ratio"`
	MMRatio             string `toml:"mm_ratio"`
	PenaltyRatio        string `toml:"liquidation_penalty_ratio"`
	InsuranceFundShare  string `toml:"insurance_fund_share"`
	MaxPositionNotional string `toml:"max_position_notional"`
}

// Markets is the validated result of a market file.
type Markets struct {
	Owner            uuid.UUID
	Markets          []*state.Market
	CollateralRatios map[ledger.AssetID]int64
}

// Defaults returns the built-in markets used when no file is configured.
func Defaults(owner uuid.UUID) *Markets {
	ratios := make(map[ledger.AssetID]int64, len(state.DefaultCollateralRatios))
	for k, v := range state.DefaultCollateralRatios {
		ratios[k] = v
	}
	return &Markets{
		Owner:            owner,
		Markets:          state.DefaultMarkets(),
		CollateralRatios: ratios,
	}
}

// LoadMarkets reads and validates a market file.
func LoadMarkets(path string) (*Markets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read market file: %w", err)
	}
	return ParseMarkets(string(data))
}

// ParseMarkets decodes a market file body. Unknown keys are rejected.
func ParseMarkets(body string) (*Markets, error) {
	var f File
	md, err := toml.Decode(body, &f)
	if err != nil {
		return nil, fmt.Errorf("decode market file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys in market file: %s", strings.Join(keys, ", "))
	}
	return f.build()
}

func (f *File) build() (*Markets, error) {
	owner, err := uuid.Parse(f.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	if len(f.Markets) == 0 {
		return nil, fmt.Errorf("no markets defined")
	}

	out := Defaults(owner)
	out.Markets = nil

	assets := make([]string, 0, len(f.CollateralRatios))
	for a := range f.CollateralRatios {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	for _, name := range assets {
		id, ok := ledger.GetAssetID(name)
		if !ok {
			return nil, fmt.Errorf("collateral_ratios: unknown asset %q", name)
		}
		ratio, err := fpmath.ParseFixed(f.CollateralRatios[name], fpmath.RatioConfig)
		if err != nil {
			return nil, fmt.Errorf("collateral_ratios.%s: %w", name, err)
		}
		if ratio < 0 || ratio > fpmath.RatioScale {
			return nil, fmt.Errorf("collateral_ratios.%s out of range", name)
		}
		out.CollateralRatios[id] = ratio
	}

	seen := make(map[string]bool, len(f.Markets))
	for i, e := range f.Markets {
		m, err := e.market()
		if err != nil {
			return nil, fmt.Errorf("markets[%d]: %w", i, err)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("markets[%d]: duplicate market %s", i, m.ID)
		}
		seen[m.ID] = true
		out.Markets = append(out.Markets, m)
	}
	return out, nil
}

// market applies the entry over the defaults of state.NewMarket.
func (e MarketEntry) market() (*state.Market, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("id is required")
	}
	if e.InitialPrice == "" {
		return nil, fmt.Errorf("%s: initial_price is required", e.ID)
	}
	price, err := fpmath.ParseFixed(e.InitialPrice, fpmath.PriceConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: initial_price: %w", e.ID, err)
	}

	base := e.BaseAsset
	if base == "" {
		base = strings.SplitN(e.ID, "-", 2)[0]
	}
	m := state.NewMarket(e.ID, base, price)

	ratios := []struct {
		name string
		raw  string
		dst  *int64
		cfg  fpmath.DecimalConfig
	}{
		{"fee_ratio", e.FeeRatio, &m.FeeRatio, fpmath.RatioConfig},
		{"im_ratio", e.IMRatio, &m.Risk.IMRatio, fpmath.RatioConfig},
		{"mm_ratio", e.MMRatio, &m.Risk.MMRatio, fpmath.RatioConfig},
		{"liquidation_penalty_ratio", e.PenaltyRatio, &m.Risk.LiquidationPenaltyRatio, fpmath.RatioConfig},
		{"insurance_fund_share", e.InsuranceFundShare, &m.Risk.InsuranceFundShare, fpmath.RatioConfig},
		{"max_position_notional", e.MaxPositionNotional, &m.Risk.MaxPositionNotional, fpmath.AmountConfig},
	}
	for _, r := range ratios {
		if r.raw == "" {
			continue
		}
		v, err := fpmath.ParseFixed(r.raw, r.cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", e.ID, r.name, err)
		}
		*r.dst = v
	}

	if e.TickSpacing != 0 {
		m.TickSpacing = e.TickSpacing
	}
	if e.FundingPeriod != 0 {
		m.FundingPeriod = e.FundingPeriod
	}
	if e.TwapInterval != nil {
		m.TwapInterval = *e.TwapInterval
	}

	if err := state.ValidateMarket(m); err != nil {
		return nil, fmt.Errorf("%s: %w", e.ID, err)
	}
	return m, nil
}
