// Package diff classifies target-account position transitions and derives
// the corrective actions that bring the own account in line.
package diff

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"position_copier/internal/core"
)

var (
	// Relative size moves at or below this fraction are noise, not events.
	materialityThreshold = decimal.NewFromFloat(0.01)

	// Own positions within this fraction of the desired size are left alone.
	adjustThreshold = decimal.NewFromFloat(0.05)
)

// DetectChanges compares two position maps of the target account and returns
// one event per materially changed symbol, ordered by symbol. A side flip is
// a single FLIPPED event regardless of the size delta.
func DetectChanges(prev, curr map[string]core.Position, now time.Time) []core.ChangeEvent {
	var events []core.ChangeEvent

	for symbol, p := range curr {
		old, existed := prev[symbol]
		if !existed {
			events = append(events, core.ChangeEvent{
				Timestamp: now,
				Symbol:    symbol,
				Kind:      core.ChangeOpened,
				Side:      p.Side,
				NewSize:   p.Size,
				Price:     p.EntryPrice,
				Leverage:  p.Leverage,
			})
			continue
		}

		if old.Side != p.Side {
			events = append(events, core.ChangeEvent{
				Timestamp: now,
				Symbol:    symbol,
				Kind:      core.ChangeFlipped,
				Side:      p.Side,
				PrevSize:  old.Size,
				NewSize:   p.Size,
				Price:     p.EntryPrice,
				Leverage:  p.Leverage,
			})
			continue
		}

		if !isMaterial(old.Size, p.Size) {
			continue
		}

		kind := core.ChangeIncreased
		if p.Size.LessThan(old.Size) {
			kind = core.ChangeDecreased
		}
		events = append(events, core.ChangeEvent{
			Timestamp: now,
			Symbol:    symbol,
			Kind:      kind,
			Side:      p.Side,
			PrevSize:  old.Size,
			NewSize:   p.Size,
			Price:     p.EntryPrice,
			Leverage:  p.Leverage,
		})
	}

	for symbol, old := range prev {
		if _, still := curr[symbol]; still {
			continue
		}
		// Closed positions have no quote context anymore.
		events = append(events, core.ChangeEvent{
			Timestamp: now,
			Symbol:    symbol,
			Kind:      core.ChangeClosed,
			Side:      old.Side,
			PrevSize:  old.Size,
			NewSize:   decimal.Zero,
			Price:     decimal.Zero,
			Leverage:  decimal.Zero,
		})
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Symbol < events[j].Symbol
	})
	return events
}

// isMaterial reports whether moving from old to new crosses the relative
// materiality threshold. Any move away from a zero base is material.
func isMaterial(old, new decimal.Decimal) bool {
	if old.IsZero() {
		return !new.IsZero()
	}
	delta := new.Sub(old).Abs()
	return delta.Div(old).GreaterThan(materialityThreshold)
}

// SizeFunc yields the policy-adjusted own-side size for a target position.
type SizeFunc func(target core.Position) core.SizingDecision

// BuildPlan derives the per-symbol corrective actions for one pass. Symbols
// in the baseline set are never touched, in either direction. Target-driven
// actions come first, ordered by symbol, followed by the close sweep over
// own-only symbols.
func BuildPlan(target, own *core.AccountSnapshot, baseline map[string]struct{}, desired SizeFunc) []core.PlannedAction {
	var opens, closes []core.PlannedAction

	for symbol, tp := range target.Positions {
		if _, excluded := baseline[symbol]; excluded {
			continue
		}

		op, held := own.Position(symbol)
		if !held {
			opens = append(opens, core.PlannedAction{
				Symbol: symbol,
				Action: core.ActionCopyOpen,
				Target: tp,
			})
			continue
		}

		if op.Side != tp.Side {
			opens = append(opens, core.PlannedAction{
				Symbol: symbol,
				Action: core.ActionReverse,
				Target: tp,
				Own:    op,
				HasOwn: true,
			})
			continue
		}

		action := core.ActionNone
		if dec := desired(tp); !dec.Skipped && needsAdjust(dec.Size, op.Size) {
			action = core.ActionAdjust
		}
		opens = append(opens, core.PlannedAction{
			Symbol: symbol,
			Action: action,
			Target: tp,
			Own:    op,
			HasOwn: true,
		})
	}

	for symbol, op := range own.Positions {
		if _, excluded := baseline[symbol]; excluded {
			continue
		}
		if _, still := target.Positions[symbol]; still {
			continue
		}
		closes = append(closes, core.PlannedAction{
			Symbol: symbol,
			Action: core.ActionCopyClose,
			Own:    op,
			HasOwn: true,
		})
	}

	sort.Slice(opens, func(i, j int) bool { return opens[i].Symbol < opens[j].Symbol })
	sort.Slice(closes, func(i, j int) bool { return closes[i].Symbol < closes[j].Symbol })
	return append(opens, closes...)
}

// needsAdjust reports whether the own size deviates from the desired size by
// more than the adjust threshold, relative to the desired size.
func needsAdjust(desired, own decimal.Decimal) bool {
	if desired.IsZero() {
		return false
	}
	return desired.Sub(own).Abs().Div(desired).GreaterThan(adjustThreshold)
}
