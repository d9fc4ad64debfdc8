// Package hyperliquid adapts the Hyperliquid JSON API to the venue
// contracts the copier consumes: account snapshots, mid quotes, order
// submission, and leverage updates.
package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"position_copier/internal/config"
	"position_copier/internal/core"
	"position_copier/internal/infrastructure/websocket"
	apperrors "position_copier/pkg/errors"
	pkghttp "position_copier/pkg/http"
)

const (
	infoPath     = "/info"
	exchangePath = "/exchange"

	// Quotes older than this are not trusted for order pricing.
	quoteMaxAge = 10 * time.Second
)

// CallStats counts venue API calls per endpoint, for presentation and
// rate-limit visibility.
type CallStats struct {
	InfoCalls     int64
	ExchangeCalls int64
	Errors        int64
	LastLatency   time.Duration
}

// Venue implements core.IVenue against a Hyperliquid-style API. Order
// signing is delegated to the Signer wired into the HTTP client; read
// endpoints are unauthenticated.
type Venue struct {
	http   *pkghttp.Client
	ws     *websocket.Client
	quotes *quoteCache
	logger core.ILogger

	metaMu sync.RWMutex
	meta   map[string]assetMeta

	statsMu sync.Mutex
	stats   CallStats
}

// New creates a venue adapter. When cfg.EnableWSQuotes is set the adapter
// keeps an allMids subscription alive for order pricing; otherwise quotes
// come from REST on demand.
func New(cfg config.VenueConfig, signer pkghttp.Signer, logger core.ILogger) *Venue {
	client := pkghttp.NewClient(cfg.BaseURL, cfg.RequestTimeout(), signer)
	client.SetRateLimit(cfg.RateLimitPerSec)

	v := &Venue{
		http:   client,
		quotes: newQuoteCache(),
		logger: logger.WithField("component", "venue"),
		meta:   make(map[string]assetMeta),
	}

	if cfg.EnableWSQuotes {
		v.ws = websocket.NewClient(cfg.WSURL, v.handleWSMessage, func(send func(interface{}) error) error {
			return send(allMidsSubscription())
		}, v.logger)
		v.ws.Start()
	}

	return v
}

// Close stops the websocket stream, if one is running.
func (v *Venue) Close() {
	if v.ws != nil {
		v.ws.Stop()
	}
}

// GetName returns the venue identifier.
func (v *Venue) GetName() string {
	return "hyperliquid"
}

// CheckHealth verifies the info endpoint answers.
func (v *Venue) CheckHealth(ctx context.Context) error {
	_, err := v.fetchAllMids(ctx)
	return err
}

// Stats returns a copy of the API call counters.
func (v *Venue) Stats() CallStats {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	return v.stats
}

func (v *Venue) recordCall(exchange bool, start time.Time, err error) {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	if exchange {
		v.stats.ExchangeCalls++
	} else {
		v.stats.InfoCalls++
	}
	if err != nil {
		v.stats.Errors++
	}
	v.stats.LastLatency = time.Since(start)
}

// FetchSnapshot reads the clearinghouse state for an address.
func (v *Venue) FetchSnapshot(ctx context.Context, address string) (*core.AccountSnapshot, error) {
	start := time.Now()
	body, err := v.http.Post(ctx, infoPath, map[string]string{
		"type": "clearinghouseState",
		"user": address,
	})
	v.recordCall(false, start, err)
	if err != nil {
		return nil, wrapFetchError("clearinghouse state", err)
	}

	var state clearinghouseState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decode clearinghouse state: %w", err)
	}

	snap, err := mapSnapshot(address, state, time.Now())
	if err != nil {
		return nil, fmt.Errorf("map clearinghouse state: %w", err)
	}
	return snap, nil
}

// FetchQuote returns the current mid price for a symbol. The websocket
// cache answers when fresh; otherwise one REST allMids call refreshes it.
func (v *Venue) FetchQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if px, ok := v.quotes.get(symbol, quoteMaxAge); ok {
		return px, nil
	}

	mids, err := v.fetchAllMids(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	v.quotes.setAll(mids)

	px, ok := mids[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no mid for %s: %w", symbol, apperrors.ErrQuoteUnavailable)
	}
	return px, nil
}

func (v *Venue) fetchAllMids(ctx context.Context) (map[string]decimal.Decimal, error) {
	start := time.Now()
	body, err := v.http.Post(ctx, infoPath, map[string]string{"type": "allMids"})
	v.recordCall(false, start, err)
	if err != nil {
		return nil, wrapFetchError("allMids", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode allMids: %w", err)
	}

	mids := make(map[string]decimal.Decimal, len(raw))
	for sym, s := range raw {
		px, err := decimal.NewFromString(s)
		if err != nil {
			continue
		}
		mids[sym] = px
	}
	return mids, nil
}

// assetInfo returns per-symbol metadata, loading the universe on first use.
func (v *Venue) assetInfo(ctx context.Context, symbol string) (assetMeta, error) {
	v.metaMu.RLock()
	m, ok := v.meta[symbol]
	v.metaMu.RUnlock()
	if ok {
		return m, nil
	}

	start := time.Now()
	body, err := v.http.Post(ctx, infoPath, map[string]string{"type": "meta"})
	v.recordCall(false, start, err)
	if err != nil {
		return assetMeta{}, wrapFetchError("meta", err)
	}

	var meta metaResponse
	if err := json.Unmarshal(body, &meta); err != nil {
		return assetMeta{}, fmt.Errorf("decode meta: %w", err)
	}

	v.metaMu.Lock()
	for _, a := range meta.Universe {
		v.meta[a.Name] = a
	}
	m, ok = v.meta[symbol]
	v.metaMu.Unlock()

	if !ok {
		return assetMeta{}, fmt.Errorf("symbol %s: %w", symbol, apperrors.ErrInvalidSymbol)
	}
	return m, nil
}

// SubmitOrder places one IOC limit order.
func (v *Venue) SubmitOrder(ctx context.Context, intent core.OrderIntent) (*core.OrderResult, error) {
	meta, err := v.assetInfo(ctx, intent.Symbol)
	if err != nil {
		return nil, err
	}

	size := intent.Size.Round(int32(meta.SzDecimals))
	if !size.IsPositive() {
		return nil, fmt.Errorf("size %s rounds to zero for %s: %w", intent.Size, intent.Symbol, apperrors.ErrOrderRejected)
	}

	req := orderRequest{
		Coin:       intent.Symbol,
		IsBuy:      intent.IsBuy,
		Size:       size.String(),
		LimitPx:    intent.LimitPrice.String(),
		OrderType:  orderType{Limit: &limitOrderType{Tif: "Ioc"}},
		ReduceOnly: intent.ReduceOnly,
		ClientOID:  intent.ClientOrderID,
	}

	start := time.Now()
	body, err := v.http.Post(ctx, exchangePath, map[string]interface{}{
		"action": map[string]interface{}{
			"type":   "order",
			"orders": []orderRequest{req},
		},
	})
	v.recordCall(true, start, err)
	if err != nil {
		return nil, wrapOrderError(err)
	}

	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("venue status %q: %w", resp.Status, apperrors.ErrOrderRejected)
	}
	if len(resp.Response.Data.Statuses) == 0 {
		return nil, fmt.Errorf("empty order status: %w", apperrors.ErrOrderRejected)
	}

	st := resp.Response.Data.Statuses[0]
	switch {
	case st.Error != "":
		return nil, fmt.Errorf("%s: %w", st.Error, apperrors.ErrOrderRejected)
	case st.Filled != nil:
		filled, _ := decimal.NewFromString(st.Filled.TotalSz)
		avg, _ := decimal.NewFromString(st.Filled.AvgPx)
		return &core.OrderResult{
			OrderID:    fmt.Sprintf("%d", st.Filled.Oid),
			FilledSize: filled,
			AvgPrice:   avg,
			Status:     "filled",
		}, nil
	case st.Resting != nil:
		// IOC orders never rest; treated as no fill this pass.
		return &core.OrderResult{
			OrderID: fmt.Sprintf("%d", st.Resting.Oid),
			Status:  "resting",
		}, nil
	default:
		return nil, fmt.Errorf("unrecognized order status: %w", apperrors.ErrOrderRejected)
	}
}

// SetLeverage updates the leverage for a symbol. Callers treat failure as
// non-fatal.
func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal, marginType core.MarginType) error {
	if _, err := v.assetInfo(ctx, symbol); err != nil {
		return err
	}

	lev := int(leverage.IntPart())
	if lev < 1 {
		lev = 1
	}

	start := time.Now()
	_, err := v.http.Post(ctx, exchangePath, map[string]interface{}{
		"action": leverageRequest{
			Type:     "updateLeverage",
			Coin:     symbol,
			IsCross:  marginType != core.MarginIsolated,
			Leverage: lev,
		},
	})
	v.recordCall(true, start, err)
	if err != nil {
		return fmt.Errorf("update leverage for %s: %w", symbol, err)
	}
	return nil
}

// wrapFetchError classifies transport failures as transient fetch errors so
// the loop retries them on the next tick.
func wrapFetchError(what string, err error) error {
	var apiErr *pkghttp.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return fmt.Errorf("fetch %s: %w", what, apperrors.ErrRateLimitExceeded)
	}
	return fmt.Errorf("fetch %s: %v: %w", what, err, apperrors.ErrTransientFetch)
}

func wrapOrderError(err error) error {
	var apiErr *pkghttp.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return fmt.Errorf("submit order: %w", apperrors.ErrRateLimitExceeded)
		}
		return fmt.Errorf("submit order: %v: %w", err, apperrors.ErrOrderRejected)
	}
	return fmt.Errorf("submit order: %v: %w", err, apperrors.ErrNetwork)
}
