package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPassesTotal          = "position_copier_passes_total"
	MetricPositionsCopiedTotal = "position_copier_positions_copied_total"
	MetricPositionsClosedTotal = "position_copier_positions_closed_total"
	MetricVolumeTotal          = "position_copier_volume_total"
	MetricSkippedTotal         = "position_copier_skipped_insufficient_margin_total"
	MetricErrorsTotal          = "position_copier_errors_total"
	MetricOrdersSubmittedTotal = "position_copier_orders_submitted_total"
	MetricPassDuration         = "position_copier_pass_duration_ms"
	MetricVenueLatency         = "position_copier_venue_latency_ms"
	MetricTargetPositionSize   = "position_copier_target_position_size"
	MetricOwnPositionSize      = "position_copier_own_position_size"
	MetricAccountValue         = "position_copier_account_value"
	MetricTrackedSymbols       = "position_copier_tracked_symbols"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	PassesTotal          metric.Int64Counter
	PositionsCopiedTotal metric.Int64Counter
	PositionsClosedTotal metric.Int64Counter
	VolumeTotal          metric.Float64Counter
	SkippedTotal         metric.Int64Counter
	ErrorsTotal          metric.Int64Counter
	OrdersSubmittedTotal metric.Int64Counter
	PassDuration         metric.Float64Histogram
	VenueLatency         metric.Float64Histogram
	TargetPositionSize   metric.Float64ObservableGauge
	OwnPositionSize      metric.Float64ObservableGauge
	AccountValue         metric.Float64ObservableGauge
	TrackedSymbols       metric.Int64ObservableGauge

	// State for observable gauges
	mu                sync.RWMutex
	targetPositionMap map[string]float64
	ownPositionMap    map[string]float64
	accountValueMap   map[string]float64
	trackedSymbols    int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			targetPositionMap: make(map[string]float64),
			ownPositionMap:    make(map[string]float64),
			accountValueMap:   make(map[string]float64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PassesTotal, err = meter.Int64Counter(MetricPassesTotal, metric.WithDescription("Completed reconciliation passes"))
	if err != nil {
		return err
	}

	m.PositionsCopiedTotal, err = meter.Int64Counter(MetricPositionsCopiedTotal, metric.WithDescription("Positions opened or adjusted following the target"))
	if err != nil {
		return err
	}

	m.PositionsClosedTotal, err = meter.Int64Counter(MetricPositionsClosedTotal, metric.WithDescription("Positions closed following the target"))
	if err != nil {
		return err
	}

	m.VolumeTotal, err = meter.Float64Counter(MetricVolumeTotal, metric.WithDescription("Total copied volume in quote currency"))
	if err != nil {
		return err
	}

	m.SkippedTotal, err = meter.Int64Counter(MetricSkippedTotal, metric.WithDescription("Copy actions skipped for lack of safe margin"))
	if err != nil {
		return err
	}

	m.ErrorsTotal, err = meter.Int64Counter(MetricErrorsTotal, metric.WithDescription("Failed fetches and rejected orders"))
	if err != nil {
		return err
	}

	m.OrdersSubmittedTotal, err = meter.Int64Counter(MetricOrdersSubmittedTotal, metric.WithDescription("Orders submitted to the venue"))
	if err != nil {
		return err
	}

	m.PassDuration, err = meter.Float64Histogram(MetricPassDuration, metric.WithDescription("Duration of one reconciliation pass"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.VenueLatency, err = meter.Float64Histogram(MetricVenueLatency, metric.WithDescription("Latency of venue API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.TargetPositionSize, err = meter.Float64ObservableGauge(MetricTargetPositionSize, metric.WithDescription("Signed size of each tracked target position"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.targetPositionMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.OwnPositionSize, err = meter.Float64ObservableGauge(MetricOwnPositionSize, metric.WithDescription("Signed size of each own position"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.ownPositionMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.AccountValue, err = meter.Float64ObservableGauge(MetricAccountValue, metric.WithDescription("Account value per tracked account"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for account, val := range m.accountValueMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("account", account)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.TrackedSymbols, err = meter.Int64ObservableGauge(MetricTrackedSymbols, metric.WithDescription("Symbols currently eligible for copying"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.trackedSymbols)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

// SetTargetPositions replaces the target-side gauge state with the given
// signed sizes.
func (m *MetricsHolder) SetTargetPositions(sizes map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targetPositionMap = sizes
}

// SetOwnPositions replaces the own-side gauge state with the given signed
// sizes.
func (m *MetricsHolder) SetOwnPositions(sizes map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ownPositionMap = sizes
}

func (m *MetricsHolder) SetAccountValue(account string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountValueMap[account] = value
}

func (m *MetricsHolder) SetTrackedSymbols(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackedSymbols = count
}

func (m *MetricsHolder) GetTargetPositions() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.targetPositionMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetOwnPositions() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.ownPositionMap {
		res[k] = v
	}
	return res
}
