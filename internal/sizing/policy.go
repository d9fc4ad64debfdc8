// Package sizing turns target position sizes into risk-bounded own sizes.
package sizing

import (
	"github.com/shopspring/decimal"

	"position_copier/internal/core"
)

const (
	// SkipInsufficientMargin marks a decision dropped for lack of margin.
	SkipInsufficientMargin = "insufficient margin"
	// SkipBelowMinNotional marks a decision dropped as dust.
	SkipBelowMinNotional = "below minimum notional"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)

	// Fraction of the available margin the policy is willing to commit.
	marginBuffer = decimal.NewFromFloat(0.9)
)

// Policy holds the static sizing parameters.
type Policy struct {
	Mode             core.CopyMode
	MaxPositionPct   decimal.Decimal
	MinOrderNotional decimal.Decimal
}

// Inputs are the per-pass account figures the policy sizes against.
// AvailableMargin reflects margin already committed earlier in the pass.
type Inputs struct {
	Ratio           decimal.Decimal
	OwnAccountValue decimal.Decimal
	AvailableMargin decimal.Decimal
}

// ResolveRatio returns the effective copy ratio for a pass. When auto is
// set, the ratio tracks the account value proportion damped by the safety
// factor; otherwise the configured ratio is used as-is.
func ResolveRatio(auto bool, configured, safetyFactor, ownValue, targetValue decimal.Decimal) decimal.Decimal {
	if !auto {
		return configured
	}
	if targetValue.IsZero() {
		return decimal.Zero
	}
	return ownValue.Div(targetValue).Mul(safetyFactor)
}

// Decide sizes one desired position. The returned decision either carries a
// positive size with its margin requirement, or is marked skipped with a
// reason.
func (p Policy) Decide(target core.Position, in Inputs) core.SizingDecision {
	if target.Size.IsZero() {
		return core.SizingDecision{Skipped: true, Reason: SkipBelowMinNotional}
	}

	nominal := target.Size
	if p.Mode == core.CopyModeProportional {
		nominal = target.Size.Mul(in.Ratio)
	}
	if !nominal.IsPositive() {
		return core.SizingDecision{Skipped: true, Reason: SkipBelowMinNotional}
	}

	leverage := target.Leverage
	if leverage.LessThan(one) {
		leverage = one
	}

	// Margin the venue will lock for the nominal size, at the target's
	// leverage and entry valuation.
	sizeFraction := nominal.Div(target.Size)
	marginRequired := target.Notional.Mul(sizeFraction).Div(leverage)

	maxMarginAllowed := in.OwnAccountValue.Mul(p.MaxPositionPct).Div(hundred)

	size := nominal
	scaledDown := false
	if marginRequired.GreaterThan(maxMarginAllowed) || marginRequired.GreaterThan(in.AvailableMargin) {
		safeMargin := decimal.Min(maxMarginAllowed, in.AvailableMargin.Mul(marginBuffer))
		if !safeMargin.IsPositive() {
			return core.SizingDecision{Skipped: true, Reason: SkipInsufficientMargin}
		}
		size = nominal.Mul(safeMargin).Div(marginRequired)
		marginRequired = safeMargin
		scaledDown = true
	}

	notional := target.Notional.Mul(size.Div(target.Size))
	if notional.LessThan(p.MinOrderNotional) {
		return core.SizingDecision{Skipped: true, Reason: SkipBelowMinNotional}
	}

	return core.SizingDecision{
		Size:           size,
		MarginRequired: marginRequired,
		ScaledDown:     scaledDown,
	}
}
