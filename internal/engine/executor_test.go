package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position_copier/internal/core"
	"position_copier/internal/mock"
	apperrors "position_copier/pkg/errors"
	"position_copier/pkg/logging"
)

func testLogger(t *testing.T) core.ILogger {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return logger
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcLong(size string) core.Position {
	sz := d(size)
	return core.Position{
		Symbol:     "BTC",
		Side:       core.SideLong,
		Size:       sz,
		EntryPrice: d("50000"),
		Notional:   sz.Mul(d("50000")),
		MarginUsed: sz.Mul(d("5000")),
		Leverage:   d("10"),
		MarginType: core.MarginCross,
	}
}

func newTestExecutor(t *testing.T, mirrorLeverage bool) (*Executor, *mock.MockVenue) {
	t.Helper()
	venue := mock.NewMockVenue()
	venue.SetQuote("BTC", d("50000"))
	return NewExecutor(venue, d("2"), mirrorLeverage, testLogger(t)), venue
}

func TestExecutorOpenLong(t *testing.T) {
	exec, venue := newTestExecutor(t, false)

	res, err := exec.Open(context.Background(), btcLong("1"), d("0.6"))
	require.NoError(t, err)
	assert.Equal(t, "filled", res.Status)

	orders := venue.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "BTC", orders[0].Symbol)
	assert.True(t, orders[0].IsBuy)
	assert.False(t, orders[0].ReduceOnly)
	assert.True(t, orders[0].Size.Equal(d("0.6")))
	assert.True(t, orders[0].LimitPrice.Equal(d("51000")), "2%% above mid, got %s", orders[0].LimitPrice)
	assert.NotEmpty(t, orders[0].ClientOrderID)
}

func TestExecutorOpenShortPadsDown(t *testing.T) {
	exec, venue := newTestExecutor(t, false)

	target := btcLong("1")
	target.Side = core.SideShort
	_, err := exec.Open(context.Background(), target, d("1"))
	require.NoError(t, err)

	orders := venue.Orders()
	require.Len(t, orders, 1)
	assert.False(t, orders[0].IsBuy)
	assert.True(t, orders[0].LimitPrice.Equal(d("49000")), "2%% below mid, got %s", orders[0].LimitPrice)
}

func TestExecutorOpenMirrorsLeverage(t *testing.T) {
	exec, venue := newTestExecutor(t, true)

	_, err := exec.Open(context.Background(), btcLong("1"), d("0.5"))
	require.NoError(t, err)

	calls := venue.LeverageCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "BTC", calls[0].Symbol)
	assert.True(t, calls[0].Leverage.Equal(d("10")))
	assert.Equal(t, core.MarginCross, calls[0].MarginType)
}

func TestExecutorCloseIsReduceOnly(t *testing.T) {
	exec, venue := newTestExecutor(t, false)

	_, err := exec.Close(context.Background(), btcLong("0.6"))
	require.NoError(t, err)

	orders := venue.Orders()
	require.Len(t, orders, 1)
	assert.False(t, orders[0].IsBuy, "closing a long sells")
	assert.True(t, orders[0].ReduceOnly)
	assert.True(t, orders[0].Size.Equal(d("0.6")))
}

func TestExecutorAdjust(t *testing.T) {
	exec, venue := newTestExecutor(t, false)
	own := btcLong("0.5")

	// Increase adds in the position's direction.
	_, err := exec.Adjust(context.Background(), own, d("0.2"))
	require.NoError(t, err)

	// Decrease is reduce-only against the position.
	_, err = exec.Adjust(context.Background(), own, d("-0.1"))
	require.NoError(t, err)

	orders := venue.Orders()
	require.Len(t, orders, 2)

	assert.True(t, orders[0].IsBuy)
	assert.False(t, orders[0].ReduceOnly)
	assert.True(t, orders[0].Size.Equal(d("0.2")))

	assert.False(t, orders[1].IsBuy)
	assert.True(t, orders[1].ReduceOnly)
	assert.True(t, orders[1].Size.Equal(d("0.1")))
}

func TestExecutorMissingQuoteFailsBeforeOrder(t *testing.T) {
	venue := mock.NewMockVenue()
	exec := NewExecutor(venue, d("2"), false, testLogger(t))

	_, err := exec.Open(context.Background(), btcLong("1"), d("1"))
	require.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
	assert.Empty(t, venue.Orders())
}
