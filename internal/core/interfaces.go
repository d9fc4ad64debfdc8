// Package core defines the core types and interfaces for the position copier
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IVenue defines the interface for the trading venue the copier reads from
// and trades on. Snapshot reads work for any address; orders act on the
// configured own account.
type IVenue interface {
	// Identity
	GetName() string
	CheckHealth(ctx context.Context) error

	// Account reads
	FetchSnapshot(ctx context.Context, address string) (*AccountSnapshot, error)

	// Market data
	FetchQuote(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Trading
	SubmitOrder(ctx context.Context, intent OrderIntent) (*OrderResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal, marginType MarginType) error
}

// IExecutor defines the interface for turning planned actions into venue
// orders.
type IExecutor interface {
	Open(ctx context.Context, target Position, size decimal.Decimal) (*OrderResult, error)
	Close(ctx context.Context, own Position) (*OrderResult, error)
	Adjust(ctx context.Context, own Position, delta decimal.Decimal) (*OrderResult, error)
}

// ILedger defines the interface for the append-only change and copy history.
type ILedger interface {
	RecordChange(ev ChangeEvent)
	RecordCopy(rec CopyRecord)
	RecordSkip()
	RecordError()
	RecordPass(targetValue, ownValue decimal.Decimal)
	Changes() []ChangeEvent
	Copies() []CopyRecord
	Stats() SessionStats
	FirstSeen(symbol string) (time.Time, bool)
	Subscribe(fn func(ChangeEvent))
}

// ICopier defines the interface for the reconciliation loop.
type ICopier interface {
	Start(ctx context.Context) error
	Stop() error
	RunOnce(ctx context.Context) error
	GetStatus() *CopierStatus
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
