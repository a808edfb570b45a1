// internal/vault/vault.go
package vault

import (
	"fmt"

	"PerpClearing/internal/ledger"
	"PerpClearing/internal/liquidity"
	fpmath "PerpClearing/internal/math"
	"PerpClearing/internal/oracle"
	"PerpClearing/internal/state"

	"github.com/google/uuid"
)

// MakerReader exposes an account's aggregated maker positions per market.
type MakerReader interface {
	Exposure(account uuid.UUID, marketID string) (liquidity.MakerExposure, error)
}

// Config holds what every vault view shares.
type Config struct {
	Prices           *oracle.Feed
	Markets          *state.MarketRegistry
	CollateralRatios map[ledger.AssetID]int64
}

// Vault values collateral, builds cross-margin views and moves collateral.
// A view built by New is read-only; Staged views post journals into the
// command's batch and read through it.
type Vault struct {
	cfg       Config
	balances  ledger.BalanceReader
	gen       *ledger.JournalGenerator
	positions state.PositionReader
	makers    MakerReader
	fund      *state.InsuranceFund
}

func New(cfg Config, balances ledger.BalanceReader, positions state.PositionReader, makers MakerReader) *Vault {
	if cfg.CollateralRatios == nil {
		cfg.CollateralRatios = state.DefaultCollateralRatios
	}
	return &Vault{
		cfg:       cfg,
		balances:  balances,
		positions: positions,
		makers:    makers,
		fund:      state.NewInsuranceFund(balances),
	}
}

// Staged returns a view over one transaction's state.
func (v *Vault) Staged(balances ledger.BalanceReader, gen *ledger.JournalGenerator, positions state.PositionReader, makers MakerReader) *Vault {
	return &Vault{
		cfg:       v.cfg,
		balances:  balances,
		gen:       gen,
		positions: positions,
		makers:    makers,
		fund:      v.fund.Staged(balances, gen),
	}
}

func (v *Vault) InsuranceFund() *state.InsuranceFund {
	return v.fund
}

// IsAllowed reports whether asset is accepted as collateral.
func (v *Vault) IsAllowed(asset ledger.AssetID) bool {
	if _, ok := asset.Kind(); !ok {
		return false
	}
	ratio, ok := v.cfg.CollateralRatios[asset]
	return ok && ratio > 0
}

func (v *Vault) Balance(account uuid.UUID, asset ledger.AssetID) int64 {
	return v.balances.GetBalance(ledger.UserCollateral(account, asset))
}

// Balances returns the account's non-zero collateral balances.
func (v *Vault) Balances(account uuid.UUID) map[ledger.AssetID]int64 {
	out := make(map[ledger.AssetID]int64)
	for _, asset := range ledger.AllAssets() {
		if b := v.Balance(account, asset); b != 0 {
			out[asset] = b
		}
	}
	return out
}

// HoldsNonSettlementCollateral reports whether any non-settlement asset
// balance is non-zero.
func (v *Vault) HoldsNonSettlementCollateral(account uuid.UUID) bool {
	for _, asset := range ledger.AllAssets() {
		if !asset.IsSettlement() && v.Balance(account, asset) != 0 {
			return true
		}
	}
	return false
}

func (v *Vault) checkDeposit(asset ledger.AssetID, amount int64) error {
	if !v.IsAllowed(asset) {
		return fmt.Errorf("%w: %s", ErrInvalidAsset, asset)
	}
	if amount <= 0 {
		return fmt.Errorf("amount %d: %w", amount, state.ErrInvalidAmount)
	}
	if v.gen == nil {
		return errReadOnly
	}
	return nil
}

// Deposit credits collateral. The account exists from its first deposit.
func (v *Vault) Deposit(account uuid.UUID, asset ledger.AssetID, amount int64) error {
	if err := v.checkDeposit(asset, amount); err != nil {
		return err
	}
	v.gen.Deposit(account, asset, amount)
	return nil
}

// Withdraw debits collateral. The asset balance may not go negative and the
// account must keep non-negative free collateral afterwards. On error the
// caller discards the batch.
func (v *Vault) Withdraw(account uuid.UUID, asset ledger.AssetID, amount, now int64) error {
	if err := v.checkDeposit(asset, amount); err != nil {
		return err
	}
	if balance := v.Balance(account, asset); balance < amount {
		return fmt.Errorf("%w: %s balance %d < %d", ErrInsufficientFreeCollateral, asset, balance, amount)
	}

	v.gen.Withdrawal(account, asset, amount)

	free, err := v.FreeCollateral(account, now)
	if err != nil {
		return err
	}
	if free < 0 {
		return fmt.Errorf("%w: free collateral %d after withdrawing %d %s",
			ErrInsufficientFreeCollateral, free, amount, asset)
	}
	return nil
}

// CollateralValue sums balances in settlement units. Non-settlement assets
// are valued at the oracle price and discounted by their collateral ratio.
func (v *Vault) CollateralValue(account uuid.UUID) (int64, error) {
	var total int64
	for _, asset := range ledger.AllAssets() {
		balance := v.Balance(account, asset)
		if balance == 0 {
			continue
		}
		if asset.IsSettlement() {
			total += balance
			continue
		}
		price, err := v.cfg.Prices.CollateralPrice(asset)
		if err != nil {
			return 0, fmt.Errorf("value %s: %w", asset, err)
		}
		value := fpmath.ComputeNotional(balance, price)
		total += fpmath.ApplyRatio(value, v.cfg.CollateralRatios[asset], fpmath.RoundDown)
	}
	return total, nil
}

// IndexPrice is the price positions are valued at: the index TWAP over the
// market's TWAP interval while open, the reference price otherwise.
func (v *Vault) IndexPrice(marketID string, now int64) (int64, error) {
	m, err := v.cfg.Markets.Get(marketID)
	if err != nil {
		return 0, err
	}
	if price, ok := m.ReferencePrice(); ok {
		return price, nil
	}
	price, err := v.cfg.Prices.TWAP(marketID, m.TwapInterval, now)
	if err != nil {
		return 0, fmt.Errorf("%w for %s: %v", ErrNoIndexPrice, marketID, err)
	}
	return price, nil
}

// Margin builds the account's cross-margin view at now.
func (v *Vault) Margin(account uuid.UUID, now int64) (state.AccountMargin, error) {
	collateral, err := v.CollateralValue(account)
	if err != nil {
		return state.AccountMargin{}, err
	}
	am := state.AccountMargin{CollateralValue: collateral, AccountValue: collateral}

	for _, m := range v.cfg.Markets.All() {
		pos := v.positions.Position(account, m.ID)
		maker, err := v.makers.Exposure(account, m.ID)
		if err != nil {
			return state.AccountMargin{}, err
		}
		if pos.IsEmpty() && !maker.HasLiquidity() {
			continue
		}

		price, err := v.IndexPrice(m.ID, now)
		if err != nil {
			return state.AccountMargin{}, err
		}
		growth := v.positions.Funding(m.ID).Growth

		am.AccountValue += pos.UnrealizedPnL(price) - state.PendingFunding(pos, growth) +
			maker.PendingPnL(price) - maker.PendingFunding(growth)
		am.Exposures = append(am.Exposures, state.Exposure{
			MarketID:       m.ID,
			Size:           pos.Size + maker.Size,
			OrderDebtValue: maker.DebtValue(price),
			IndexPrice:     price,
			Risk:           m.Risk,
		})
	}
	return am, nil
}

func (v *Vault) AccountValue(account uuid.UUID, now int64) (int64, error) {
	am, err := v.Margin(account, now)
	if err != nil {
		return 0, err
	}
	return am.AccountValue, nil
}

func (v *Vault) FreeCollateral(account uuid.UUID, now int64) (int64, error) {
	am, err := v.Margin(account, now)
	if err != nil {
		return 0, err
	}
	return am.FreeCollateral(), nil
}

// IsFlat reports whether the account has no taker size and no maker
// liquidity in any market.
func (v *Vault) IsFlat(account uuid.UUID) (bool, error) {
	for _, m := range v.cfg.Markets.All() {
		if pos := v.positions.Position(account, m.ID); !pos.IsFlat() {
			return false, nil
		}
		maker, err := v.makers.Exposure(account, m.ID)
		if err != nil {
			return false, err
		}
		if maker.HasLiquidity() {
			return false, nil
		}
	}
	return true, nil
}
