package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position_copier/internal/core"
	"position_copier/pkg/logging"
)

func newTestLedger(t *testing.T, cfg Config) *Ledger {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return New(cfg, nil, logger)
}

func changeEvent(symbol string, kind core.ChangeKind) core.ChangeEvent {
	return core.ChangeEvent{
		Timestamp: time.Now(),
		Symbol:    symbol,
		Kind:      kind,
		Side:      core.SideLong,
		NewSize:   decimal.NewFromInt(1),
	}
}

func copyRecord(symbol string, action core.CopyAction, notional string) core.CopyRecord {
	return core.CopyRecord{
		Timestamp: time.Now(),
		Symbol:    symbol,
		Action:    action,
		Side:      core.SideLong,
		Size:      decimal.NewFromInt(1),
		Notional:  decimal.RequireFromString(notional),
	}
}

func TestChangeWindowBounded(t *testing.T) {
	l := newTestLedger(t, Config{ChangeWindow: 3, CopyWindow: 3})

	for _, sym := range []string{"A", "B", "C", "D", "E"} {
		l.RecordChange(changeEvent(sym, core.ChangeOpened))
	}

	changes := l.Changes()
	require.Len(t, changes, 3)
	assert.Equal(t, "C", changes[0].Symbol)
	assert.Equal(t, "E", changes[2].Symbol)
}

func TestCopyWindowBounded(t *testing.T) {
	l := newTestLedger(t, Config{ChangeWindow: 5, CopyWindow: 2})

	l.RecordCopy(copyRecord("A", core.ActionCopyOpen, "100"))
	l.RecordCopy(copyRecord("B", core.ActionCopyOpen, "200"))
	l.RecordCopy(copyRecord("C", core.ActionCopyClose, "300"))

	copies := l.Copies()
	require.Len(t, copies, 2)
	assert.Equal(t, "B", copies[0].Symbol)
	assert.Equal(t, "C", copies[1].Symbol)
}

func TestStatsCounters(t *testing.T) {
	l := newTestLedger(t, Config{ChangeWindow: 25, CopyWindow: 20})

	l.RecordCopy(copyRecord("ETH", core.ActionCopyOpen, "1500"))
	l.RecordCopy(copyRecord("BTC", core.ActionAdjust, "500"))
	l.RecordCopy(copyRecord("SOL", core.ActionCopyClose, "1000"))
	l.RecordSkip()
	l.RecordError()
	l.RecordError()
	l.RecordPass(decimal.NewFromInt(100000), decimal.NewFromInt(10000))

	stats := l.Stats()
	assert.Equal(t, int64(2), stats.PositionsCopied)
	assert.Equal(t, int64(1), stats.PositionsClosed)
	assert.True(t, stats.TotalVolume.Equal(decimal.NewFromInt(3000)), "volume: got %s", stats.TotalVolume)
	assert.Equal(t, int64(1), stats.SkippedNoMargin)
	assert.Equal(t, int64(2), stats.Errors)
	assert.Equal(t, int64(1), stats.PassesCompleted)
	assert.True(t, stats.TargetAccountValue.Equal(decimal.NewFromInt(100000)))
	assert.True(t, stats.OwnAccountValue.Equal(decimal.NewFromInt(10000)))
	assert.False(t, stats.StartedAt.IsZero())
}

func TestFirstSeenTracksPostBaselineOpens(t *testing.T) {
	l := newTestLedger(t, Config{ChangeWindow: 25, CopyWindow: 20})

	_, ok := l.FirstSeen("ETH")
	assert.False(t, ok)

	opened := changeEvent("ETH", core.ChangeOpened)
	l.RecordChange(opened)

	seen, ok := l.FirstSeen("ETH")
	require.True(t, ok)
	assert.Equal(t, opened.Timestamp, seen)

	// A later increase does not move the first-seen time.
	l.RecordChange(changeEvent("ETH", core.ChangeIncreased))
	seen2, ok := l.FirstSeen("ETH")
	require.True(t, ok)
	assert.Equal(t, seen, seen2)

	// Closing forgets the symbol; a reopen starts fresh.
	l.RecordChange(changeEvent("ETH", core.ChangeClosed))
	_, ok = l.FirstSeen("ETH")
	assert.False(t, ok)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	l := newTestLedger(t, Config{ChangeWindow: 25, CopyWindow: 20})

	var mu sync.Mutex
	var got []core.ChangeEvent
	l.Subscribe(func(ev core.ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	l.RecordChange(changeEvent("ETH", core.ChangeOpened))
	l.RecordChange(changeEvent("BTC", core.ChangeClosed))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "ETH", got[0].Symbol)
	assert.Equal(t, "BTC", got[1].Symbol)
}

func TestAccessorsReturnCopies(t *testing.T) {
	l := newTestLedger(t, Config{ChangeWindow: 25, CopyWindow: 20})
	l.RecordChange(changeEvent("ETH", core.ChangeOpened))

	changes := l.Changes()
	changes[0].Symbol = "MUTATED"

	assert.Equal(t, "ETH", l.Changes()[0].Symbol)
}
