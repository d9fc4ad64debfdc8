package alert

import (
	"context"
	"fmt"

	"position_copier/internal/core"
)

// Notifier translates ledger events into alerts. Register it with the
// ledger's Subscribe to get a message for every detected target-side
// transition.
type Notifier struct {
	manager *AlertManager
}

func NewNotifier(manager *AlertManager) *Notifier {
	return &Notifier{manager: manager}
}

// OnChange formats one target position transition and dispatches it.
func (n *Notifier) OnChange(ev core.ChangeEvent) {
	level := Info
	title := fmt.Sprintf("Target %s %s", ev.Symbol, ev.Kind)

	fields := map[string]string{
		"symbol": ev.Symbol,
		"side":   string(ev.Side),
	}

	var message string
	switch ev.Kind {
	case core.ChangeOpened:
		message = fmt.Sprintf("Target opened %s %s, size %s at %s (%sx)",
			ev.Side, ev.Symbol, ev.NewSize, ev.Price, ev.Leverage)
	case core.ChangeClosed:
		message = fmt.Sprintf("Target closed %s, previous size %s", ev.Symbol, ev.PrevSize)
	case core.ChangeFlipped:
		level = Warning
		message = fmt.Sprintf("Target flipped %s to %s, size %s", ev.Symbol, ev.Side, ev.NewSize)
	default:
		message = fmt.Sprintf("Target %s %s: %s -> %s", ev.Symbol, ev.Kind, ev.PrevSize, ev.NewSize)
		fields["prev_size"] = ev.PrevSize.String()
		fields["new_size"] = ev.NewSize.String()
	}

	n.manager.Alert(context.Background(), title, message, level, fields)
}
