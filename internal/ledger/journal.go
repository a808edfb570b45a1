package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeRealizedPnL
	JournalTypeFundingPayment
	JournalTypeMakerFee
	JournalTypeLiquidationPenalty
	JournalTypeLiquidatorReward
	JournalTypeBadDebtCoverage
	JournalTypeInsuranceFundTopUp
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeRealizedPnL:
		return "realized_pnl"
	case JournalTypeFundingPayment:
		return "funding_payment"
	case JournalTypeMakerFee:
		return "maker_fee"
	case JournalTypeLiquidationPenalty:
		return "liquidation_penalty"
	case JournalTypeLiquidatorReward:
		return "liquidator_reward"
	case JournalTypeBadDebtCoverage:
		return "bad_debt_coverage"
	case JournalTypeInsuranceFundTopUp:
		return "insurance_fund_top_up"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Command timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// NewBatch starts an empty batch for one command.
func NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// Post appends a transfer of amount from credit to debit. Zero amounts are
// dropped; negative amounts reverse the direction.
func (b *Batch) Post(debit, credit AccountKey, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	if amount < 0 {
		debit, credit = credit, debit
		amount = -amount
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Delta returns the net change the batch applies to key.
func (b *Batch) Delta(key AccountKey) int64 {
	var d int64
	for _, j := range b.Journals {
		if j.DebitAccount == key {
			d += j.Amount
		}
		if j.CreditAccount == key {
			d -= j.Amount
		}
	}
	return d
}

// IsEmpty reports whether the batch has no journals.
func (b *Batch) IsEmpty() bool {
	return len(b.Journals) == 0
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from credit to debit, so every entry
// is balanced by construction; multi-leg commands use several entries.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.CreditAccount.AssetID {
			return fmt.Errorf("journal %s moves between assets %s and %s",
				j.JournalID, j.DebitAccount.AssetID, j.CreditAccount.AssetID)
		}
	}

	return nil
}
