package ledger

import (
	"github.com/google/uuid"
)

// JournalGenerator posts the journals of one command into its batch.
// Every user-facing money movement in the clearing core goes through here so
// the ledger stays zero-sum per asset.
type JournalGenerator struct {
	batch *Batch
}

func NewJournalGenerator(batch *Batch) *JournalGenerator {
	return &JournalGenerator{batch: batch}
}

func (jg *JournalGenerator) Batch() *Batch {
	return jg.batch
}

// Deposit moves funds: external:deposits -> user:collateral
func (jg *JournalGenerator) Deposit(userID uuid.UUID, assetID AssetID, amount int64) {
	jg.batch.Post(
		UserCollateral(userID, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		amount,
		JournalTypeDeposit,
	)
}

// Withdrawal moves funds: user:collateral -> external:withdrawals
func (jg *JournalGenerator) Withdrawal(userID uuid.UUID, assetID AssetID, amount int64) {
	jg.batch.Post(
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		UserCollateral(userID, assetID),
		amount,
		JournalTypeWithdrawal,
	)
}

// RealizedPnL settles signed PnL against the clearing account.
// Profit: debit user:collateral, credit system:clearing. Loss: the reverse.
func (jg *JournalGenerator) RealizedPnL(userID uuid.UUID, pnl int64) {
	jg.batch.Post(UserCollateral(userID, SettlementAsset), ClearingAccount, pnl, JournalTypeRealizedPnL)
}

// FundingPayment settles a signed funding payment (positive = user pays).
func (jg *JournalGenerator) FundingPayment(userID uuid.UUID, payment int64) {
	jg.batch.Post(ClearingAccount, UserCollateral(userID, SettlementAsset), payment, JournalTypeFundingPayment)
}

// MakerFee pays collected maker fees out of the clearing account.
func (jg *JournalGenerator) MakerFee(userID uuid.UUID, fee int64) {
	jg.batch.Post(UserCollateral(userID, SettlementAsset), ClearingAccount, fee, JournalTypeMakerFee)
}

// LiquidationPenalty charges the liquidated account and splits the penalty
// between the insurance fund and the liquidator.
func (jg *JournalGenerator) LiquidationPenalty(userID, liquidatorID uuid.UUID, toInsurance, toLiquidator int64) {
	jg.batch.Post(InsuranceFundAccount, UserCollateral(userID, SettlementAsset), toInsurance, JournalTypeLiquidationPenalty)
	jg.batch.Post(UserCollateral(liquidatorID, SettlementAsset), UserCollateral(userID, SettlementAsset), toLiquidator, JournalTypeLiquidatorReward)
}

// BadDebtCoverage moves amount from the insurance fund to the user, which may
// take the fund negative.
func (jg *JournalGenerator) BadDebtCoverage(userID uuid.UUID, amount int64) {
	jg.batch.Post(UserCollateral(userID, SettlementAsset), InsuranceFundAccount, amount, JournalTypeBadDebtCoverage)
}

// InsuranceFundTopUp funds the insurance fund from outside the venue.
func (jg *JournalGenerator) InsuranceFundTopUp(amount int64) {
	jg.batch.Post(InsuranceFundAccount, NewExternalAccountKey(SubTypeExternalDeposits, SettlementAsset), amount, JournalTypeInsuranceFundTopUp)
}
