package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"PerpClearing/internal/event"

	"github.com/google/uuid"
)

// ErrMalformedCommand wraps every parse and structural validation failure.
// Business rules (amount signs, margin, market status) are left to the core
// so their rejections are counted there.
var ErrMalformedCommand = errors.New("malformed command")

// ParseRawEvent converts a RawEvent (JSON bytes + command type name) into a
// typed event.Event. The wire format is the command struct's own JSON, which
// is also what the core stores as the envelope payload, so replay goes
// through here too.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	et, ok := event.ParseEventType(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event type: %s", ErrMalformedCommand, eventType)
	}
	cmd := newCommand(et)

	dec := json.NewDecoder(bytes.NewReader(raw.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformedCommand, eventType, err)
	}
	if err := validate(cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCommand, eventType, err)
	}
	return cmd, nil
}

func newCommand(et event.EventType) event.Event {
	switch et {
	case event.EventTypeDeposit:
		return &event.Deposit{}
	case event.EventTypeWithdraw:
		return &event.Withdraw{}
	case event.EventTypeOpenPosition:
		return &event.OpenPosition{}
	case event.EventTypeClosePosition:
		return &event.ClosePosition{}
	case event.EventTypeAddLiquidity:
		return &event.AddLiquidity{}
	case event.EventTypeRemoveLiquidity:
		return &event.RemoveLiquidity{}
	case event.EventTypeLiquidate:
		return &event.Liquidate{}
	case event.EventTypeSettleFunding:
		return &event.SettleFunding{}
	case event.EventTypePauseMarket:
		return &event.PauseMarket{}
	case event.EventTypeCloseMarket:
		return &event.CloseMarket{}
	case event.EventTypeCloseMarketAfterCooldown:
		return &event.CloseMarketAfterCooldown{}
	case event.EventTypeIndexPriceUpdate:
		return &event.IndexPriceUpdate{}
	case event.EventTypeCollateralPriceUpdate:
		return &event.CollateralPriceUpdate{}
	case event.EventTypeInsuranceFundTopUp:
		return &event.InsuranceFundTopUp{}
	default:
		panic(fmt.Sprintf("no command for event type %s", et))
	}
}

type fieldCheck struct {
	name string
	ok   bool
}

func id(name string, v uuid.UUID) fieldCheck {
	return fieldCheck{name: name, ok: v != uuid.Nil}
}

func str(name, v string) fieldCheck {
	return fieldCheck{name: name, ok: v != ""}
}

func check(fields ...fieldCheck) error {
	for _, f := range fields {
		if !f.ok {
			return fmt.Errorf("missing %s", f.name)
		}
	}
	return nil
}

func validateHeader(h *event.Header) error {
	if h.CommandID == uuid.Nil {
		return errors.New("missing command_id")
	}
	if h.Sequence < 0 {
		return fmt.Errorf("negative sequence %d", h.Sequence)
	}
	if h.Timestamp <= 0 {
		return errors.New("missing timestamp")
	}
	return nil
}

// validate checks the structural fields of each command.
func validate(cmd event.Event) error {
	switch c := cmd.(type) {
	case *event.Deposit:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("account", c.Account), str("asset", c.Asset))
	case *event.Withdraw:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("account", c.Account), str("asset", c.Asset))
	case *event.InsuranceFundTopUp:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("caller", c.Caller))
	case *event.OpenPosition:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("account", c.Account), str("market", c.Market))
	case *event.ClosePosition:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("account", c.Account), str("market", c.Market))
	case *event.AddLiquidity:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("account", c.Account), str("market", c.Market))
	case *event.RemoveLiquidity:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("account", c.Account), str("market", c.Market))
	case *event.Liquidate:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("liquidator", c.Liquidator), id("account", c.Account), str("market", c.Market))
	case *event.SettleFunding:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("account", c.Account), str("market", c.Market))
	case *event.PauseMarket:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("caller", c.Caller), str("market", c.Market))
	case *event.CloseMarket:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("caller", c.Caller), str("market", c.Market))
	case *event.CloseMarketAfterCooldown:
		if err := validateHeader(&c.Header); err != nil {
			return err
		}
		return check(id("caller", c.Caller), str("market", c.Market))
	case *event.IndexPriceUpdate:
		if c.PriceTimestamp <= 0 {
			return errors.New("missing price_timestamp")
		}
		return check(str("market", c.Market))
	case *event.CollateralPriceUpdate:
		if c.PriceTimestamp <= 0 {
			return errors.New("missing price_timestamp")
		}
		return check(str("asset", c.Asset))
	}
	return nil
}
