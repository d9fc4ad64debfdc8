// Package mock provides an in-memory venue for tests: scripted account
// snapshots per address, settable quotes, an order log, and failure
// injection.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"position_copier/internal/core"
	apperrors "position_copier/pkg/errors"
)

// MockVenue implements core.IVenue for testing.
type MockVenue struct {
	mu sync.RWMutex

	name      string
	snapshots map[string]*core.AccountSnapshot
	quotes    map[string]decimal.Decimal

	orders         []core.OrderIntent
	orderIDCounter int64

	leverageCalls []LeverageCall

	// Failure injection
	snapshotErr map[string]error
	quoteErr    error
	orderErr    error
	rejectNext  int

	// applyFills mutates the own snapshot when orders fill, so multi-pass
	// tests converge the way a real venue would.
	applyFills   bool
	fillsAddress string
}

// LeverageCall records one SetLeverage invocation.
type LeverageCall struct {
	Symbol     string
	Leverage   decimal.Decimal
	MarginType core.MarginType
}

func NewMockVenue() *MockVenue {
	return &MockVenue{
		name:           "mock",
		snapshots:      make(map[string]*core.AccountSnapshot),
		quotes:         make(map[string]decimal.Decimal),
		snapshotErr:    make(map[string]error),
		orderIDCounter: 1000,
	}
}

func (m *MockVenue) GetName() string { return m.name }

func (m *MockVenue) CheckHealth(ctx context.Context) error { return nil }

// SetSnapshot scripts the snapshot returned for an address. The snapshot is
// deep-copied on every fetch so callers cannot alias test state.
func (m *MockVenue) SetSnapshot(address string, snap *core.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[address] = snap
}

// SetQuote scripts the mid price for a symbol.
func (m *MockVenue) SetQuote(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = price
}

// FailSnapshot makes fetches for an address return err until cleared with a
// nil err.
func (m *MockVenue) FailSnapshot(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.snapshotErr, address)
		return
	}
	m.snapshotErr[address] = err
}

// FailQuotes makes all quote fetches return err.
func (m *MockVenue) FailQuotes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteErr = err
}

// RejectOrders makes the next n order submissions fail with ErrOrderRejected.
func (m *MockVenue) RejectOrders(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = n
}

// FailOrders makes every order submission return err.
func (m *MockVenue) FailOrders(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderErr = err
}

// ApplyFillsTo mutates the snapshot for address as orders fill, simulating
// position changes on the own account.
func (m *MockVenue) ApplyFillsTo(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyFills = true
	m.fillsAddress = address
}

func (m *MockVenue) FetchSnapshot(ctx context.Context, address string) (*core.AccountSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.snapshotErr[address]; err != nil {
		return nil, err
	}

	snap, ok := m.snapshots[address]
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s: %w", address, apperrors.ErrTransientFetch)
	}
	return copySnapshot(snap), nil
}

func (m *MockVenue) FetchQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.quoteErr != nil {
		return decimal.Decimal{}, m.quoteErr
	}
	px, ok := m.quotes[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no quote for %s: %w", symbol, apperrors.ErrQuoteUnavailable)
	}
	return px, nil
}

func (m *MockVenue) SubmitOrder(ctx context.Context, intent core.OrderIntent) (*core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.orderErr != nil {
		return nil, m.orderErr
	}
	if m.rejectNext > 0 {
		m.rejectNext--
		return nil, fmt.Errorf("scripted rejection: %w", apperrors.ErrOrderRejected)
	}

	m.orders = append(m.orders, intent)
	m.orderIDCounter++

	px, ok := m.quotes[intent.Symbol]
	if !ok {
		px = intent.LimitPrice
	}

	if m.applyFills {
		m.applyFill(intent, px)
	}

	return &core.OrderResult{
		OrderID:    fmt.Sprintf("%d", m.orderIDCounter),
		FilledSize: intent.Size,
		AvgPrice:   px,
		Status:     "filled",
	}, nil
}

func (m *MockVenue) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal, marginType core.MarginType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leverageCalls = append(m.leverageCalls, LeverageCall{Symbol: symbol, Leverage: leverage, MarginType: marginType})
	return nil
}

// Orders returns all submitted order intents in submission order.
func (m *MockVenue) Orders() []core.OrderIntent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.OrderIntent, len(m.orders))
	copy(out, m.orders)
	return out
}

// LeverageCalls returns all recorded SetLeverage invocations.
func (m *MockVenue) LeverageCalls() []LeverageCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LeverageCall, len(m.leverageCalls))
	copy(out, m.leverageCalls)
	return out
}

// applyFill mutates the fills-target snapshot in place. Caller holds the lock.
func (m *MockVenue) applyFill(intent core.OrderIntent, px decimal.Decimal) {
	snap, ok := m.snapshots[m.fillsAddress]
	if !ok {
		return
	}

	signed := intent.Size
	if !intent.IsBuy {
		signed = signed.Neg()
	}

	prev := decimal.Zero
	leverage := decimal.NewFromInt(1)
	if p, exists := snap.Positions[intent.Symbol]; exists {
		prev = p.SignedSize()
		leverage = p.Leverage
	}

	next := prev.Add(signed)
	if next.IsZero() {
		delete(snap.Positions, intent.Symbol)
		return
	}

	side := core.SideLong
	if next.IsNegative() {
		side = core.SideShort
	}
	notional := next.Abs().Mul(px)
	marginUsed := notional
	if leverage.IsPositive() {
		marginUsed = notional.Div(leverage)
	}
	snap.Positions[intent.Symbol] = core.Position{
		Symbol:     intent.Symbol,
		Side:       side,
		Size:       next.Abs(),
		EntryPrice: px,
		Notional:   notional,
		MarginUsed: marginUsed,
		Leverage:   leverage,
		MarginType: core.MarginCross,
	}
}

func copySnapshot(snap *core.AccountSnapshot) *core.AccountSnapshot {
	positions := make(map[string]core.Position, len(snap.Positions))
	for sym, p := range snap.Positions {
		positions[sym] = p
	}
	out := *snap
	out.Positions = positions
	if out.CapturedAt.IsZero() {
		out.CapturedAt = time.Now()
	}
	return &out
}
