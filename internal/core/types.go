package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of a perpetual position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// CopyMode selects how target sizes map to own sizes.
type CopyMode string

const (
	CopyModeExact        CopyMode = "exact"
	CopyModeProportional CopyMode = "proportional"
)

// MarginType distinguishes cross from isolated margin on a position.
type MarginType string

const (
	MarginCross    MarginType = "cross"
	MarginIsolated MarginType = "isolated"
)

// Position is one open perpetual position as reported by the venue.
// Size is always positive; direction lives in Side.
type Position struct {
	Symbol        string
	Side          Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	Notional      decimal.Decimal
	MarginUsed    decimal.Decimal
	Leverage      decimal.Decimal
	MarginType    MarginType
	UnrealizedPnL decimal.Decimal
}

// SignedSize returns the size with sign (negative for shorts).
func (p Position) SignedSize() decimal.Decimal {
	if p.Side == SideShort {
		return p.Size.Neg()
	}
	return p.Size
}

// AccountSnapshot is one point-in-time read of an account's open positions
// and margin state. Positions are keyed by symbol.
type AccountSnapshot struct {
	Address         string
	Positions       map[string]Position
	AccountValue    decimal.Decimal
	AvailableMargin decimal.Decimal
	CapturedAt      time.Time
}

// Position returns the open position for symbol, if any.
func (s *AccountSnapshot) Position(symbol string) (Position, bool) {
	p, ok := s.Positions[symbol]
	return p, ok
}

// ChangeKind classifies a target-side position transition.
type ChangeKind string

const (
	ChangeOpened    ChangeKind = "OPENED"
	ChangeClosed    ChangeKind = "CLOSED"
	ChangeIncreased ChangeKind = "INCREASED"
	ChangeDecreased ChangeKind = "DECREASED"
	ChangeFlipped   ChangeKind = "FLIPPED"
)

// ChangeEvent records one observed transition on the target account.
// For CLOSED events Price and Leverage are zero.
type ChangeEvent struct {
	Timestamp time.Time
	Symbol    string
	Kind      ChangeKind
	Side      Side
	PrevSize  decimal.Decimal
	NewSize   decimal.Decimal
	Price     decimal.Decimal
	Leverage  decimal.Decimal
}

// CopyAction is the corrective action chosen for one symbol.
type CopyAction string

const (
	ActionNone      CopyAction = "NONE"
	ActionCopyOpen  CopyAction = "COPY_OPEN"
	ActionCopyClose CopyAction = "COPY_CLOSE"
	ActionAdjust    CopyAction = "ADJUST"
	ActionReverse   CopyAction = "REVERSE"
)

// PlannedAction is one entry of a reconciliation plan: what to do for a
// symbol, and the target position driving it. Target is the zero Position
// for COPY_CLOSE.
type PlannedAction struct {
	Symbol string
	Action CopyAction
	Target Position
	Own    Position
	HasOwn bool
}

// SizingDecision is the outcome of running the sizing policy on one
// desired position. A skipped decision carries the reason and a zero size.
type SizingDecision struct {
	Size           decimal.Decimal
	MarginRequired decimal.Decimal
	ScaledDown     bool
	Skipped        bool
	Reason         string
}

// OrderIntent is a single order the engine wants executed: an IOC limit
// order with the slippage bound already applied to LimitPrice.
type OrderIntent struct {
	ClientOrderID string
	Symbol        string
	IsBuy         bool
	Size          decimal.Decimal
	LimitPrice    decimal.Decimal
	ReduceOnly    bool
}

// OrderResult reports what the venue did with an order intent.
type OrderResult struct {
	OrderID    string
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
	Status     string
}

// CopyRecord captures one successfully executed copy action. Appended only
// after the venue confirms the order.
type CopyRecord struct {
	Timestamp  time.Time
	Symbol     string
	Action     CopyAction
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	Notional   decimal.Decimal
	Leverage   decimal.Decimal
	MarginUsed decimal.Decimal
	OrderID    string
}

// SessionStats are the running counters for the copier session.
type SessionStats struct {
	StartedAt          time.Time
	PassesCompleted    int64
	PositionsCopied    int64
	PositionsClosed    int64
	TotalVolume        decimal.Decimal
	SkippedNoMargin    int64
	Errors             int64
	TargetAccountValue decimal.Decimal
	OwnAccountValue    decimal.Decimal
}

// EngineState is the lifecycle state of the reconciliation loop.
type EngineState string

const (
	StateUninitialized EngineState = "UNINITIALIZED"
	StateBaselining    EngineState = "BASELINING"
	StateReconciling   EngineState = "RECONCILING"
)

// CopierStatus is a point-in-time status snapshot of the engine, safe to
// hand to presentation collaborators.
type CopierStatus struct {
	State           EngineState
	LastPassAt      time.Time
	LastPassErr     string
	BaselineSymbols []string
	TrackedSymbols  []string
	Stats           SessionStats
}
