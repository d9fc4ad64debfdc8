package hyperliquid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position_copier/internal/config"
	"position_copier/internal/core"
	apperrors "position_copier/pkg/errors"
	pkghttp "position_copier/pkg/http"
	"position_copier/pkg/logging"
)

func testLogger(t *testing.T) core.ILogger {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return logger
}

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// fakeVenue serves canned /info and /exchange responses and records what it saw.
type fakeVenue struct {
	t             *testing.T
	state         string
	allMids       string
	meta          string
	exchangeResp  string
	exchangeCode  int
	infoRequests  []infoRequest
	exchangeBodys []map[string]interface{}
}

func (f *fakeVenue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		var req infoRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.infoRequests = append(f.infoRequests, req)
		switch req.Type {
		case "clearinghouseState":
			w.Write([]byte(f.state))
		case "allMids":
			w.Write([]byte(f.allMids))
		case "meta":
			w.Write([]byte(f.meta))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.exchangeBodys = append(f.exchangeBodys, body)
		if f.exchangeCode != 0 {
			w.WriteHeader(f.exchangeCode)
			return
		}
		w.Write([]byte(f.exchangeResp))
	})
	return mux
}

func newTestVenue(t *testing.T, f *fakeVenue) (*Venue, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	cfg := config.VenueConfig{
		BaseURL:               srv.URL,
		RequestTimeoutSeconds: 5,
		RateLimitPerSec:       100,
	}
	v := New(cfg, pkghttp.NopSigner{}, testLogger(t))
	t.Cleanup(v.Close)
	return v, srv
}

const testState = `{
	"marginSummary": {"accountValue": "10000", "totalMarginUsed": "1000"},
	"withdrawable": "9000",
	"assetPositions": [
		{"position": {"coin": "BTC", "szi": "1", "entryPx": "50000", "positionValue": "50000", "marginUsed": "5000", "unrealizedPnl": "0", "leverage": {"type": "cross", "value": 10}}}
	]
}`

const testMeta = `{"universe": [{"name": "BTC", "szDecimals": 3, "maxLeverage": 50}, {"name": "ETH", "szDecimals": 2, "maxLeverage": 50}]}`

func TestVenue_FetchSnapshot(t *testing.T) {
	f := &fakeVenue{t: t, state: testState}
	v, _ := newTestVenue(t, f)

	snap, err := v.FetchSnapshot(context.Background(), "0xtarget")
	require.NoError(t, err)

	assert.Equal(t, "0xtarget", snap.Address)
	assert.True(t, snap.AccountValue.Equal(decimal.NewFromInt(10000)))
	require.Len(t, f.infoRequests, 1)
	assert.Equal(t, "clearinghouseState", f.infoRequests[0].Type)
	assert.Equal(t, "0xtarget", f.infoRequests[0].User)
}

func TestVenue_FetchQuote(t *testing.T) {
	f := &fakeVenue{t: t, allMids: `{"BTC": "97000.5", "ETH": "3500"}`}
	v, _ := newTestVenue(t, f)

	px, err := v.FetchQuote(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.RequireFromString("97000.5")))

	// Second fetch within the freshness window hits the cache.
	_, err = v.FetchQuote(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Len(t, f.infoRequests, 1)

	_, err = v.FetchQuote(context.Background(), "DOGE")
	require.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
}

func TestVenue_SubmitOrderFilled(t *testing.T) {
	f := &fakeVenue{
		t:            t,
		meta:         testMeta,
		exchangeResp: `{"status": "ok", "response": {"data": {"statuses": [{"filled": {"totalSz": "0.5", "avgPx": "97010", "oid": 42}}]}}}`,
	}
	v, _ := newTestVenue(t, f)

	res, err := v.SubmitOrder(context.Background(), core.OrderIntent{
		ClientOrderID: "cl-1",
		Symbol:        "BTC",
		IsBuy:         true,
		Size:          decimal.RequireFromString("0.5"),
		LimitPrice:    decimal.RequireFromString("98940"),
	})
	require.NoError(t, err)
	assert.Equal(t, "42", res.OrderID)
	assert.Equal(t, "filled", res.Status)
	assert.True(t, res.FilledSize.Equal(decimal.RequireFromString("0.5")))
	require.Len(t, f.exchangeBodys, 1)
}

func TestVenue_SubmitOrderRejected(t *testing.T) {
	f := &fakeVenue{
		t:            t,
		meta:         testMeta,
		exchangeResp: `{"status": "ok", "response": {"data": {"statuses": [{"error": "Insufficient margin"}]}}}`,
	}
	v, _ := newTestVenue(t, f)

	_, err := v.SubmitOrder(context.Background(), core.OrderIntent{
		Symbol:     "BTC",
		IsBuy:      true,
		Size:       decimal.NewFromInt(1),
		LimitPrice: decimal.NewFromInt(97000),
	})
	require.ErrorIs(t, err, apperrors.ErrOrderRejected)
	assert.Contains(t, err.Error(), "Insufficient margin")
}

func TestVenue_SubmitOrderSizeRoundsToZero(t *testing.T) {
	f := &fakeVenue{t: t, meta: testMeta}
	v, _ := newTestVenue(t, f)

	_, err := v.SubmitOrder(context.Background(), core.OrderIntent{
		Symbol:     "BTC",
		IsBuy:      true,
		Size:       decimal.RequireFromString("0.0001"), // below 3 szDecimals
		LimitPrice: decimal.NewFromInt(97000),
	})
	require.ErrorIs(t, err, apperrors.ErrOrderRejected)
	assert.Empty(t, f.exchangeBodys, "rejected locally before hitting the venue")
}

func TestVenue_SetLeverage(t *testing.T) {
	f := &fakeVenue{t: t, meta: testMeta, exchangeResp: `{"status": "ok"}`}
	v, _ := newTestVenue(t, f)

	err := v.SetLeverage(context.Background(), "ETH", decimal.NewFromInt(10), core.MarginCross)
	require.NoError(t, err)

	require.Len(t, f.exchangeBodys, 1)
	action := f.exchangeBodys[0]["action"].(map[string]interface{})
	assert.Equal(t, "updateLeverage", action["type"])
	assert.Equal(t, "ETH", action["coin"])
	assert.Equal(t, true, action["is_cross"])
	assert.Equal(t, float64(10), action["leverage"])
}

func TestVenue_FetchSnapshotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	cfg := config.VenueConfig{BaseURL: srv.URL, RequestTimeoutSeconds: 2, RateLimitPerSec: 100}
	v := New(cfg, pkghttp.NopSigner{}, testLogger(t))
	t.Cleanup(v.Close)

	_, err := v.FetchSnapshot(context.Background(), "0xtarget")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}

func TestVenue_CallStats(t *testing.T) {
	f := &fakeVenue{t: t, allMids: `{"BTC": "97000"}`}
	v, _ := newTestVenue(t, f)

	_, err := v.FetchQuote(context.Background(), "BTC")
	require.NoError(t, err)

	stats := v.Stats()
	assert.Equal(t, int64(1), stats.InfoCalls)
	assert.Equal(t, int64(0), stats.Errors)
	assert.Greater(t, stats.LastLatency, time.Duration(0))
}
