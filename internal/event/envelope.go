package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeOpenPosition
	EventTypeClosePosition
	EventTypeAddLiquidity
	EventTypeRemoveLiquidity
	EventTypeLiquidate
	EventTypeSettleFunding
	EventTypePauseMarket
	EventTypeCloseMarket
	EventTypeCloseMarketAfterCooldown
	EventTypeIndexPriceUpdate
	EventTypeCollateralPriceUpdate
	EventTypeInsuranceFundTopUp
)

var eventTypeNames = map[EventType]string{
	EventTypeDeposit:                  "Deposit",
	EventTypeWithdraw:                 "Withdraw",
	EventTypeOpenPosition:             "OpenPosition",
	EventTypeClosePosition:            "ClosePosition",
	EventTypeAddLiquidity:             "AddLiquidity",
	EventTypeRemoveLiquidity:          "RemoveLiquidity",
	EventTypeLiquidate:                "Liquidate",
	EventTypeSettleFunding:            "SettleFunding",
	EventTypePauseMarket:              "PauseMarket",
	EventTypeCloseMarket:              "CloseMarket",
	EventTypeCloseMarketAfterCooldown: "CloseMarketAfterCooldown",
	EventTypeIndexPriceUpdate:         "IndexPriceUpdate",
	EventTypeCollateralPriceUpdate:    "CollateralPriceUpdate",
	EventTypeInsuranceFundTopUp:       "InsuranceFundTopUp",
}

// EventEnvelope wraps every command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	EventType EventType

	// Market context (nil for global commands)
	MarketID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command, replayable through the ingestion parser
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all commands implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// MarketID returns the market context (nil for global commands)
	MarketID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Time returns the versioned command timestamp in unix seconds
	Time() int64
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) (EventType, bool) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// Header carries the fields every command shares.
type Header struct {
	CommandID uuid.UUID `json:"command_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"` // unix seconds
}

func (h *Header) IdempotencyKey() string {
	return h.CommandID.String()
}

func (h *Header) SourceSequence() int64 {
	return h.Sequence
}

func (h *Header) Time() int64 {
	return h.Timestamp
}

func marketRef(id string) *string {
	return &id
}
