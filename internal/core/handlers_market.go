package core

import (
	"fmt"

	"PerpClearing/internal/event"
	"PerpClearing/internal/state"
	"PerpClearing/internal/vault"

	"github.com/google/uuid"
)

func (c *ClearingEngine) requireOwner(caller uuid.UUID) error {
	if caller != c.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrUnauthorized, caller)
	}
	return nil
}

// transition validates a status change on a copy of the market and installs
// it on commit.
func (c *ClearingEngine) transition(tx *txn, m *state.Market, change func(next *state.Market) error) error {
	next := *m
	if err := change(&next); err != nil {
		return err
	}
	price, _ := next.ReferencePrice()
	tx.emit(&event.MarketStatusChanged{
		MarketID:  m.ID,
		From:      m.Status.String(),
		To:        next.Status.String(),
		Price:     price,
		Timestamp: tx.now,
	})
	tx.onCommit = append(tx.onCommit, func() { *m = next })
	return nil
}

// handlePauseMarket freezes the index TWAP as the market's ending price.
// Funding due up to the pause is accrued first.
func (c *ClearingEngine) handlePauseMarket(tx *txn, cmd *event.PauseMarket) error {
	if err := c.requireOwner(cmd.Caller); err != nil {
		return err
	}
	m, err := c.market(cmd.Market)
	if err != nil {
		return err
	}
	if !m.IsOpen() {
		return fmt.Errorf("pause %s (%s): %w", m.ID, m.Status, ErrMarketNotOpen)
	}
	if err := c.accrueFunding(tx, m); err != nil {
		return err
	}
	ending, err := c.prices.TWAP(m.ID, m.TwapInterval, tx.now)
	if err != nil {
		return fmt.Errorf("pause %s: %w: %v", m.ID, vault.ErrNoIndexPrice, err)
	}
	return c.transition(tx, m, func(next *state.Market) error {
		return next.Pause(tx.now, ending)
	})
}

func (c *ClearingEngine) handleCloseMarket(tx *txn, cmd *event.CloseMarket) error {
	if err := c.requireOwner(cmd.Caller); err != nil {
		return err
	}
	m, err := c.market(cmd.Market)
	if err != nil {
		return err
	}
	return c.transition(tx, m, func(next *state.Market) error {
		return next.Close(tx.now, cmd.Price)
	})
}

// handleCloseMarketAfterCooldown is open to any caller.
func (c *ClearingEngine) handleCloseMarketAfterCooldown(tx *txn, cmd *event.CloseMarketAfterCooldown) error {
	m, err := c.market(cmd.Market)
	if err != nil {
		return err
	}
	return c.transition(tx, m, func(next *state.Market) error {
		return next.CloseAfterCooldown(tx.now)
	})
}
