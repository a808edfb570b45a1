package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpClearing/internal/state"
)

func TestMarketStatus_Transitions(t *testing.T) {
	assert.True(t, state.MarketStatusOpen.CanTransitionTo(state.MarketStatusPaused))
	assert.False(t, state.MarketStatusOpen.CanTransitionTo(state.MarketStatusClosed))
	assert.True(t, state.MarketStatusPaused.CanTransitionTo(state.MarketStatusClosed))
	assert.False(t, state.MarketStatusClosed.CanTransitionTo(state.MarketStatusOpen))
	assert.False(t, state.MarketStatusClosed.CanTransitionTo(state.MarketStatusPaused))
}

func TestMarket_PauseThenOwnerClose(t *testing.T) {
	m := state.NewMarket(eth, "ETH", 100_000_000)

	require.ErrorIs(t, m.Close(10, 99_000_000), state.ErrMarketNotPaused)
	require.NoError(t, m.Pause(10, 407_580_645))
	require.ErrorIs(t, m.Pause(11, 1), state.ErrMarketNotOpen)

	ref, ok := m.ReferencePrice()
	require.True(t, ok)
	assert.Equal(t, int64(407_580_645), ref)

	require.NoError(t, m.Close(20, 399_000_000))
	ref, _ = m.ReferencePrice()
	assert.Equal(t, int64(399_000_000), ref)
	assert.Equal(t, state.MarketStatusClosed, m.Status)
	require.ErrorIs(t, m.Close(30, 1), state.ErrMarketNotPaused)
}

func TestMarket_CloseAfterCooldown(t *testing.T) {
	m := state.NewMarket(eth, "ETH", 100_000_000)
	require.NoError(t, m.Pause(1_000, 405_000_000))

	err := m.CloseAfterCooldown(1_000 + state.PauseCooldown - 1)
	require.ErrorIs(t, err, state.ErrCooldownNotExpired)

	require.NoError(t, m.CloseAfterCooldown(1_000+state.PauseCooldown))
	assert.Equal(t, int64(405_000_000), m.ClosedPrice)
}

func TestMarketRegistry(t *testing.T) {
	r := state.NewMarketRegistry()
	for _, m := range state.DefaultMarkets() {
		require.NoError(t, r.Add(m))
	}
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, r.IDs())

	_, err := r.Get("SOL-USD")
	assert.ErrorIs(t, err, state.ErrUnknownMarket)

	bad := state.NewMarket("BAD", "BAD", 1)
	bad.Risk.IMRatio = bad.Risk.MMRatio
	assert.Error(t, r.Add(bad))

	m, err := r.Get(eth)
	require.NoError(t, err)
	require.NoError(t, m.Pause(5, 1_000))

	other := state.NewMarketRegistry()
	for _, m := range state.DefaultMarkets() {
		require.NoError(t, other.Add(m))
	}
	require.NoError(t, other.Restore(r.Snapshot()))
	restored, _ := other.Get(eth)
	assert.Equal(t, state.MarketStatusPaused, restored.Status)
	assert.Equal(t, int64(1_000), restored.EndingIndexPrice)
}
