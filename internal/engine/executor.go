// Package engine contains the reconciliation loop and the order executor
// that carries its decisions out against the venue.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"position_copier/internal/core"
	"position_copier/pkg/telemetry"
)

// Executor turns planned actions into IOC limit orders. Prices come from
// the venue quote stream with a configurable slippage allowance; a missing
// quote fails the action before any order is sent.
type Executor struct {
	venue          core.IVenue
	logger         core.ILogger
	slippagePct    decimal.Decimal
	mirrorLeverage bool
}

// NewExecutor creates an executor. slippagePct is the limit-price allowance
// in percent, e.g. 2 for a 2% band around the mid.
func NewExecutor(venue core.IVenue, slippagePct decimal.Decimal, mirrorLeverage bool, logger core.ILogger) *Executor {
	return &Executor{
		venue:          venue,
		logger:         logger.WithField("component", "executor"),
		slippagePct:    slippagePct,
		mirrorLeverage: mirrorLeverage,
	}
}

// Open establishes a new position mirroring the target's side at the given
// risk-adjusted size.
func (e *Executor) Open(ctx context.Context, target core.Position, size decimal.Decimal) (*core.OrderResult, error) {
	if e.mirrorLeverage {
		// Leverage mirroring is best effort: a venue refusal must not block
		// the copy itself.
		if err := e.venue.SetLeverage(ctx, target.Symbol, target.Leverage, target.MarginType); err != nil {
			e.logger.Warn("Failed to mirror leverage",
				"symbol", target.Symbol,
				"leverage", target.Leverage,
				"error", err)
		}
	}

	isBuy := target.Side == core.SideLong
	return e.submit(ctx, target.Symbol, isBuy, size, false)
}

// Close flattens an own position with a reduce-only order for its full size.
func (e *Executor) Close(ctx context.Context, own core.Position) (*core.OrderResult, error) {
	isBuy := own.Side == core.SideShort
	return e.submit(ctx, own.Symbol, isBuy, own.Size, true)
}

// Adjust grows or shrinks an existing own position by delta. A positive
// delta adds in the position's direction; a negative delta reduces it with
// a reduce-only order.
func (e *Executor) Adjust(ctx context.Context, own core.Position, delta decimal.Decimal) (*core.OrderResult, error) {
	if delta.IsZero() {
		return nil, fmt.Errorf("zero adjustment for %s", own.Symbol)
	}

	if delta.IsPositive() {
		isBuy := own.Side == core.SideLong
		return e.submit(ctx, own.Symbol, isBuy, delta, false)
	}

	isBuy := own.Side == core.SideShort
	return e.submit(ctx, own.Symbol, isBuy, delta.Abs(), true)
}

func (e *Executor) submit(ctx context.Context, symbol string, isBuy bool, size decimal.Decimal, reduceOnly bool) (*core.OrderResult, error) {
	quote, err := e.venue.FetchQuote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("quote for %s: %w", symbol, err)
	}

	intent := core.OrderIntent{
		ClientOrderID: uuid.New().String(),
		Symbol:        symbol,
		IsBuy:         isBuy,
		Size:          size,
		LimitPrice:    e.limitPrice(quote, isBuy),
		ReduceOnly:    reduceOnly,
	}

	start := time.Now()
	result, err := e.venue.SubmitOrder(ctx, intent)
	elapsed := time.Since(start)

	metrics := telemetry.GetGlobalMetrics()
	if metrics.OrdersSubmittedTotal != nil {
		metrics.OrdersSubmittedTotal.Add(ctx, 1)
	}
	if metrics.VenueLatency != nil {
		metrics.VenueLatency.Record(ctx, float64(elapsed.Milliseconds()))
	}

	if err != nil {
		return nil, err
	}

	e.logger.Info("Order submitted",
		"symbol", symbol,
		"is_buy", isBuy,
		"size", size,
		"limit_price", intent.LimitPrice,
		"reduce_only", reduceOnly,
		"order_id", result.OrderID,
		"status", result.Status)

	return result, nil
}

// limitPrice pads the mid by the slippage allowance: above for buys, below
// for sells, so IOC orders cross the book.
func (e *Executor) limitPrice(quote decimal.Decimal, isBuy bool) decimal.Decimal {
	pad := quote.Mul(e.slippagePct).Div(decimal.NewFromInt(100))
	if isBuy {
		return quote.Add(pad)
	}
	return quote.Sub(pad)
}
