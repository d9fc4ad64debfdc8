// Package ledger keeps the bounded change and copy history for a copier run,
// plus the session counters presentation collaborators read.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"position_copier/internal/core"
	"position_copier/pkg/concurrency"
)

// Config bounds the retained history windows.
type Config struct {
	ChangeWindow int
	CopyWindow   int
}

// Ledger is the single-writer history store. The reconciliation loop is the
// only writer; accessors return copies so readers never share backing
// storage with the writer.
type Ledger struct {
	mu sync.RWMutex

	changeWindow int
	copyWindow   int

	changes   []core.ChangeEvent
	copies    []core.CopyRecord
	stats     core.SessionStats
	firstSeen map[string]time.Time

	subscribers []func(core.ChangeEvent)
	pool        *concurrency.WorkerPool
	logger      core.ILogger
}

// New creates a ledger. The worker pool carries subscriber callbacks so a
// slow subscriber never blocks the reconciliation loop; it may be nil, in
// which case events are delivered synchronously.
func New(cfg Config, pool *concurrency.WorkerPool, logger core.ILogger) *Ledger {
	if cfg.ChangeWindow <= 0 {
		cfg.ChangeWindow = 25
	}
	if cfg.CopyWindow <= 0 {
		cfg.CopyWindow = 20
	}
	return &Ledger{
		changeWindow: cfg.ChangeWindow,
		copyWindow:   cfg.CopyWindow,
		firstSeen:    make(map[string]time.Time),
		stats: core.SessionStats{
			StartedAt:   time.Now(),
			TotalVolume: decimal.Zero,
		},
		pool:   pool,
		logger: logger.WithField("component", "ledger"),
	}
}

// RecordChange appends one detected target-side transition.
func (l *Ledger) RecordChange(ev core.ChangeEvent) {
	l.mu.Lock()
	l.changes = append(l.changes, ev)
	if len(l.changes) > l.changeWindow {
		l.changes = l.changes[len(l.changes)-l.changeWindow:]
	}
	if ev.Kind == core.ChangeOpened {
		if _, seen := l.firstSeen[ev.Symbol]; !seen {
			l.firstSeen[ev.Symbol] = ev.Timestamp
		}
	}
	if ev.Kind == core.ChangeClosed {
		delete(l.firstSeen, ev.Symbol)
	}
	subs := make([]func(core.ChangeEvent), len(l.subscribers))
	copy(subs, l.subscribers)
	l.mu.Unlock()

	for _, fn := range subs {
		l.dispatch(fn, ev)
	}
}

func (l *Ledger) dispatch(fn func(core.ChangeEvent), ev core.ChangeEvent) {
	if l.pool == nil {
		fn(ev)
		return
	}
	if err := l.pool.Submit(func() { fn(ev) }); err != nil {
		l.logger.Warn("Dropped change event notification", "symbol", ev.Symbol, "error", err)
	}
}

// RecordCopy appends one confirmed copy action and rolls the counters.
func (l *Ledger) RecordCopy(rec core.CopyRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.copies = append(l.copies, rec)
	if len(l.copies) > l.copyWindow {
		l.copies = l.copies[len(l.copies)-l.copyWindow:]
	}

	switch rec.Action {
	case core.ActionCopyClose:
		l.stats.PositionsClosed++
	default:
		l.stats.PositionsCopied++
	}
	l.stats.TotalVolume = l.stats.TotalVolume.Add(rec.Notional.Abs())
}

// RecordSkip counts a sizing decision that found no safe size.
func (l *Ledger) RecordSkip() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.SkippedNoMargin++
}

// RecordError counts a failed fetch or order.
func (l *Ledger) RecordError() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Errors++
}

// RecordPass marks a completed reconciliation pass and refreshes the
// account value figures captured with it.
func (l *Ledger) RecordPass(targetValue, ownValue decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.PassesCompleted++
	l.stats.TargetAccountValue = targetValue
	l.stats.OwnAccountValue = ownValue
}

// Changes returns the retained change events, oldest first.
func (l *Ledger) Changes() []core.ChangeEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.ChangeEvent, len(l.changes))
	copy(out, l.changes)
	return out
}

// Copies returns the retained copy records, oldest first.
func (l *Ledger) Copies() []core.CopyRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.CopyRecord, len(l.copies))
	copy(out, l.copies)
	return out
}

// Stats returns a snapshot of the session counters.
func (l *Ledger) Stats() core.SessionStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// FirstSeen reports when a symbol first opened on the target after the run
// started. Symbols closed since, and baseline symbols, report false.
func (l *Ledger) FirstSeen(symbol string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.firstSeen[symbol]
	return t, ok
}

// Subscribe registers a callback invoked for every recorded change event.
// Callbacks run on the ledger's worker pool.
func (l *Ledger) Subscribe(fn func(core.ChangeEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}
