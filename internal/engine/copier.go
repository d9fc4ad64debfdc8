package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"position_copier/internal/config"
	"position_copier/internal/core"
	"position_copier/internal/diff"
	"position_copier/internal/sizing"
	apperrors "position_copier/pkg/errors"
	"position_copier/pkg/telemetry"
)

// Copier drives the reconciliation loop: observe the target account, diff
// against the previous observation, and converge the own account toward the
// target within the sizing policy's bounds.
//
// Lifecycle: UNINITIALIZED until the first successful target fetch, one
// BASELINING pass that records pre-existing target positions without acting
// on them, then RECONCILING on every tick. Baseline symbols are never
// traded for the rest of the run.
type Copier struct {
	venue    core.IVenue
	executor core.IExecutor
	ledger   core.ILedger
	logger   core.ILogger

	appCfg  config.AppConfig
	copyCfg config.CopyConfig
	policy  sizing.Policy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// passMu serializes passes; a tick that finds it held is skipped.
	passMu sync.Mutex

	statusMu    sync.RWMutex
	started     bool
	state       core.EngineState
	lastPassAt  time.Time
	lastPassErr string
	baseline    map[string]struct{}
	prevTarget  map[string]core.Position
	targetSnap  *core.AccountSnapshot
	ownSnap     *core.AccountSnapshot
}

// NewCopier creates a reconciliation engine over the given venue and
// executor.
func NewCopier(
	venue core.IVenue,
	executor core.IExecutor,
	ledger core.ILedger,
	appCfg config.AppConfig,
	copyCfg config.CopyConfig,
	logger core.ILogger,
) *Copier {
	ctx, cancel := context.WithCancel(context.Background())

	mode := core.CopyModeExact
	if copyCfg.Mode == "proportional" {
		mode = core.CopyModeProportional
	}

	return &Copier{
		venue:    venue,
		executor: executor,
		ledger:   ledger,
		logger:   logger.WithField("component", "copier"),
		appCfg:   appCfg,
		copyCfg:  copyCfg,
		policy: sizing.Policy{
			Mode:             mode,
			MaxPositionPct:   decimal.NewFromFloat(copyCfg.MaxPositionPct),
			MinOrderNotional: decimal.NewFromFloat(copyCfg.MinOrderNotional),
		},
		ctx:      ctx,
		cancel:   cancel,
		state:    core.StateUninitialized,
		baseline: make(map[string]struct{}),
	}
}

// Start begins the reconciliation loop.
func (c *Copier) Start(ctx context.Context) error {
	c.statusMu.Lock()
	if c.started {
		c.statusMu.Unlock()
		return apperrors.ErrAlreadyRunning
	}
	c.started = true
	c.statusMu.Unlock()

	c.logger.Info("Starting copier",
		"target", c.appCfg.TargetAddress,
		"interval", c.copyCfg.PollInterval())

	c.wg.Add(1)
	go c.runLoop()

	return nil
}

// Stop halts the loop and waits for an in-flight pass to finish. In-flight
// passes observe the stop between orders.
func (c *Copier) Stop() error {
	c.logger.Info("Stopping copier")
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Copier) runLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.copyCfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.copyCfg.PollInterval()*3)
			if err := c.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("Reconciliation pass failed", "error", err.Error())
			}
			cancel()
		}
	}
}

// RunOnce performs a single reconciliation pass. If a pass is already
// running, the call returns immediately without doing anything.
func (c *Copier) RunOnce(ctx context.Context) error {
	if !c.passMu.TryLock() {
		c.logger.Debug("Pass already in progress, skipping tick")
		return nil
	}
	defer c.passMu.Unlock()

	start := time.Now()
	err := c.pass(ctx)

	c.statusMu.Lock()
	c.lastPassAt = time.Now()
	if err != nil {
		c.lastPassErr = err.Error()
	} else {
		c.lastPassErr = ""
	}
	c.statusMu.Unlock()

	metrics := telemetry.GetGlobalMetrics()
	if metrics.PassDuration != nil {
		metrics.PassDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}
	if err == nil && metrics.PassesTotal != nil {
		metrics.PassesTotal.Add(ctx, 1)
	}

	return err
}

func (c *Copier) pass(ctx context.Context) error {
	c.statusMu.RLock()
	state := c.state
	c.statusMu.RUnlock()

	if state != core.StateReconciling {
		return c.establishBaseline(ctx)
	}

	target, own, err := c.fetchSnapshots(ctx)
	if err != nil {
		return err
	}

	// Diff against the previous target observation and record transitions.
	c.statusMu.Lock()
	prev := c.prevTarget
	c.prevTarget = target.Positions
	c.targetSnap = target
	c.ownSnap = own
	baseline := c.baseline
	c.statusMu.Unlock()

	now := time.Now()
	for _, ev := range diff.DetectChanges(prev, target.Positions, now) {
		c.logger.Info("Target position change",
			"symbol", ev.Symbol,
			"kind", string(ev.Kind),
			"prev_size", ev.PrevSize,
			"new_size", ev.NewSize)
		c.ledger.RecordChange(ev)
	}

	// Margin headroom decays within the pass as opens consume it; the venue
	// is not re-queried until the next tick.
	availableMargin := own.AvailableMargin
	ratio := sizing.ResolveRatio(
		c.copyCfg.AutoRatio,
		decimal.NewFromFloat(c.copyCfg.Ratio),
		decimal.NewFromFloat(c.copyCfg.SafetyFactor),
		own.AccountValue,
		target.AccountValue,
	)
	sizer := func(target core.Position) core.SizingDecision {
		return c.policy.Decide(target, sizing.Inputs{
			Ratio:           ratio,
			OwnAccountValue: own.AccountValue,
			AvailableMargin: availableMargin,
		})
	}

	plan := diff.BuildPlan(target, own, baseline, sizer)

	for i, action := range plan {
		if action.Action == core.ActionNone {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			c.sleep(ctx, c.copyCfg.OrderDelay())
		}

		if err := c.apply(ctx, action, sizer, &availableMargin); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// One symbol failing must not poison the rest of the pass.
			c.logger.Error("Action failed",
				"symbol", action.Symbol,
				"action", string(action.Action),
				"error", err.Error())
			c.ledger.RecordError()
			if m := telemetry.GetGlobalMetrics(); m.ErrorsTotal != nil {
				m.ErrorsTotal.Add(ctx, 1)
			}
		}
	}

	c.ledger.RecordPass(target.AccountValue, own.AccountValue)
	c.publishGauges(target, own)

	return nil
}

// establishBaseline handles the UNINITIALIZED and BASELINING states: the
// first successful target fetch becomes the Baseline and the first
// "previous" snapshot, with no events and no orders.
func (c *Copier) establishBaseline(ctx context.Context) error {
	c.setState(core.StateBaselining)

	target, err := c.venue.FetchSnapshot(ctx, c.appCfg.TargetAddress)
	if err != nil {
		c.setState(core.StateUninitialized)
		return fmt.Errorf("baseline fetch: %w", err)
	}

	baseline := make(map[string]struct{}, len(target.Positions))
	for symbol := range target.Positions {
		baseline[symbol] = struct{}{}
	}

	c.statusMu.Lock()
	c.baseline = baseline
	c.prevTarget = target.Positions
	c.targetSnap = target
	c.state = core.StateReconciling
	c.statusMu.Unlock()

	c.logger.Info("Baseline established",
		"symbols", len(baseline),
		"account_value", target.AccountValue)

	return nil
}

// fetchSnapshots reads target and own state concurrently. Either failure
// aborts the pass; both fetches always complete before returning.
func (c *Copier) fetchSnapshots(ctx context.Context) (target, own *core.AccountSnapshot, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		snap, err := c.venue.FetchSnapshot(gctx, c.appCfg.TargetAddress)
		if err != nil {
			return fmt.Errorf("target snapshot: %w", err)
		}
		target = snap
		return nil
	})
	g.Go(func() error {
		snap, err := c.venue.FetchSnapshot(gctx, c.appCfg.OwnReadAddress())
		if err != nil {
			return fmt.Errorf("own snapshot: %w", err)
		}
		own = snap
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return target, own, nil
}

// apply executes one planned action, re-running the sizing policy against
// the decayed margin headroom where an open is involved.
func (c *Copier) apply(ctx context.Context, action core.PlannedAction, sizer diff.SizeFunc, availableMargin *decimal.Decimal) error {
	switch action.Action {
	case core.ActionCopyOpen:
		return c.open(ctx, action.Target, sizer, availableMargin)

	case core.ActionCopyClose:
		result, err := c.executor.Close(ctx, action.Own)
		if err != nil {
			return err
		}
		c.recordCopy(action.Own.Symbol, core.ActionCopyClose, action.Own.Side.Opposite(), action.Own, result)
		return nil

	case core.ActionReverse:
		// Close the wrong-side position first; if that fails, the reopen
		// must not happen this pass.
		if _, err := c.executor.Close(ctx, action.Own); err != nil {
			return fmt.Errorf("reverse close: %w", err)
		}
		c.recordCopy(action.Own.Symbol, core.ActionCopyClose, action.Own.Side.Opposite(), action.Own, nil)
		c.sleep(ctx, c.copyCfg.SettleDelay())
		if err := ctx.Err(); err != nil {
			return err
		}
		return c.open(ctx, action.Target, sizer, availableMargin)

	case core.ActionAdjust:
		dec := sizer(action.Target)
		if dec.Skipped {
			return c.recordSkip(ctx, action.Symbol, dec.Reason)
		}
		delta := dec.Size.Sub(action.Own.Size)
		if delta.IsZero() {
			return nil
		}
		result, err := c.executor.Adjust(ctx, action.Own, delta)
		if err != nil {
			return err
		}
		if delta.IsPositive() {
			*availableMargin = decimal.Max(decimal.Zero, availableMargin.Sub(dec.MarginRequired))
		}
		c.recordCopy(action.Symbol, core.ActionAdjust, action.Own.Side, core.Position{
			Symbol:     action.Symbol,
			Side:       action.Own.Side,
			Size:       delta.Abs(),
			EntryPrice: action.Target.EntryPrice,
			Notional:   delta.Abs().Mul(action.Target.EntryPrice),
			Leverage:   action.Own.Leverage,
			MarginUsed: dec.MarginRequired,
		}, result)
		return nil

	default:
		return nil
	}
}

func (c *Copier) open(ctx context.Context, target core.Position, sizer diff.SizeFunc, availableMargin *decimal.Decimal) error {
	dec := sizer(target)
	if dec.Skipped {
		return c.recordSkip(ctx, target.Symbol, dec.Reason)
	}

	result, err := c.executor.Open(ctx, target, dec.Size)
	if err != nil {
		return err
	}

	*availableMargin = decimal.Max(decimal.Zero, availableMargin.Sub(dec.MarginRequired))

	c.recordCopy(target.Symbol, core.ActionCopyOpen, target.Side, core.Position{
		Symbol:     target.Symbol,
		Side:       target.Side,
		Size:       dec.Size,
		EntryPrice: target.EntryPrice,
		Notional:   dec.Size.Mul(target.EntryPrice),
		Leverage:   target.Leverage,
		MarginUsed: dec.MarginRequired,
	}, result)

	return nil
}

// recordSkip counts a sizing skip. Insufficient margin is bookkeeping, not
// an error; dust skips are only logged.
func (c *Copier) recordSkip(ctx context.Context, symbol, reason string) error {
	c.logger.Info("Skipped action", "symbol", symbol, "reason", reason)
	if reason == sizing.SkipInsufficientMargin {
		c.ledger.RecordSkip()
		if m := telemetry.GetGlobalMetrics(); m.SkippedTotal != nil {
			m.SkippedTotal.Add(ctx, 1)
		}
	}
	return nil
}

func (c *Copier) recordCopy(symbol string, action core.CopyAction, side core.Side, pos core.Position, result *core.OrderResult) {
	rec := core.CopyRecord{
		Timestamp:  time.Now(),
		Symbol:     symbol,
		Action:     action,
		Side:       side,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		Notional:   pos.Notional,
		Leverage:   pos.Leverage,
		MarginUsed: pos.MarginUsed,
	}
	if result != nil {
		rec.OrderID = result.OrderID
		if result.AvgPrice.IsPositive() {
			rec.EntryPrice = result.AvgPrice
			rec.Notional = rec.Size.Mul(result.AvgPrice)
		}
	}
	c.ledger.RecordCopy(rec)

	m := telemetry.GetGlobalMetrics()
	switch {
	case action == core.ActionCopyClose && m.PositionsClosedTotal != nil:
		m.PositionsClosedTotal.Add(context.Background(), 1)
	case m.PositionsCopiedTotal != nil:
		m.PositionsCopiedTotal.Add(context.Background(), 1)
	}
	if m.VolumeTotal != nil {
		m.VolumeTotal.Add(context.Background(), rec.Notional.Abs().InexactFloat64())
	}
}

func (c *Copier) publishGauges(target, own *core.AccountSnapshot) {
	m := telemetry.GetGlobalMetrics()

	targetSizes := make(map[string]float64, len(target.Positions))
	for sym, p := range target.Positions {
		targetSizes[sym] = p.SignedSize().InexactFloat64()
	}
	ownSizes := make(map[string]float64, len(own.Positions))
	for sym, p := range own.Positions {
		ownSizes[sym] = p.SignedSize().InexactFloat64()
	}

	m.SetTargetPositions(targetSizes)
	m.SetOwnPositions(ownSizes)
	m.SetAccountValue("target", target.AccountValue.InexactFloat64())
	m.SetAccountValue("own", own.AccountValue.InexactFloat64())
	m.SetTrackedSymbols(int64(len(targetSizes)))
}

func (c *Copier) setState(s core.EngineState) {
	c.statusMu.Lock()
	c.state = s
	c.statusMu.Unlock()
}

// sleep waits for d or until the pass context is canceled.
func (c *Copier) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// GetStatus returns a point-in-time status snapshot.
func (c *Copier) GetStatus() *core.CopierStatus {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()

	baseline := make([]string, 0, len(c.baseline))
	for sym := range c.baseline {
		baseline = append(baseline, sym)
	}
	sort.Strings(baseline)

	tracked := make([]string, 0, len(c.prevTarget))
	for sym := range c.prevTarget {
		if _, isBaseline := c.baseline[sym]; !isBaseline {
			tracked = append(tracked, sym)
		}
	}
	sort.Strings(tracked)

	stats := c.ledger.Stats()
	return &core.CopierStatus{
		State:           c.state,
		LastPassAt:      c.lastPassAt,
		LastPassErr:     c.lastPassErr,
		BaselineSymbols: baseline,
		TrackedSymbols:  tracked,
		Stats:           stats,
	}
}

// TargetSnapshot returns the most recent target observation, if any.
func (c *Copier) TargetSnapshot() *core.AccountSnapshot {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.targetSnap
}

// OwnSnapshot returns the most recent own-account observation, if any.
func (c *Copier) OwnSnapshot() *core.AccountSnapshot {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.ownSnap
}

// Baseline returns the symbols captured at baseline, sorted.
func (c *Copier) Baseline() []string {
	return c.GetStatus().BaselineSymbols
}
