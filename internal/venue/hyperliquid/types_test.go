package hyperliquid

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position_copier/internal/core"
)

func TestMapPosition(t *testing.T) {
	tests := []struct {
		name     string
		wire     wirePosition
		wantOK   bool
		wantErr  bool
		wantSide core.Side
		wantSize string
	}{
		{
			name: "long position",
			wire: wirePosition{
				Coin: "BTC", Szi: "1.5", EntryPx: "50000", PositionValue: "75000",
				MarginUsed: "7500", UnrealizedPnl: "120.5",
				Leverage: wireLeverage{Type: "cross", Value: 10},
			},
			wantOK: true, wantSide: core.SideLong, wantSize: "1.5",
		},
		{
			name: "short position",
			wire: wirePosition{
				Coin: "ETH", Szi: "-20", EntryPx: "3000", PositionValue: "-60000",
				MarginUsed: "6000", UnrealizedPnl: "-50",
				Leverage: wireLeverage{Type: "isolated", Value: 10},
			},
			wantOK: true, wantSide: core.SideShort, wantSize: "20",
		},
		{
			name: "zero size is absence",
			wire: wirePosition{Coin: "SOL", Szi: "0", EntryPx: "150"},
			wantOK: false,
		},
		{
			name:    "unparseable size",
			wire:    wirePosition{Coin: "BTC", Szi: "not-a-number"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, ok, err := mapPosition(tt.wire)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wire.Coin, pos.Symbol)
			assert.Equal(t, tt.wantSide, pos.Side)
			assert.True(t, pos.Size.Equal(decimal.RequireFromString(tt.wantSize)))
			assert.True(t, pos.Notional.IsPositive(), "notional stored unsigned")
		})
	}
}

func TestMapPositionLeverageFallback(t *testing.T) {
	pos, ok, err := mapPosition(wirePosition{
		Coin: "BTC", Szi: "1", EntryPx: "50000", PositionValue: "50000",
		MarginUsed: "5000", UnrealizedPnl: "0",
		Leverage: wireLeverage{Type: "cross", Value: 0},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, pos.Leverage.Equal(decimal.NewFromInt(10)),
		"leverage derived from notional/margin, got %s", pos.Leverage)
}

func TestMapPositionMarginType(t *testing.T) {
	pos, ok, err := mapPosition(wirePosition{
		Coin: "ETH", Szi: "2", EntryPx: "3000", PositionValue: "6000",
		MarginUsed: "600", Leverage: wireLeverage{Type: "isolated", Value: 10},
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.MarginIsolated, pos.MarginType)
}

func TestMapSnapshot(t *testing.T) {
	raw := `{
		"marginSummary": {"accountValue": "12500.75", "totalMarginUsed": "3000"},
		"withdrawable": "9500.75",
		"assetPositions": [
			{"position": {"coin": "BTC", "szi": "0.5", "entryPx": "50000", "positionValue": "25000", "marginUsed": "2500", "unrealizedPnl": "100", "leverage": {"type": "cross", "value": 10}}},
			{"position": {"coin": "DOGE", "szi": "0", "entryPx": "0.1", "positionValue": "0", "marginUsed": "0", "unrealizedPnl": "0", "leverage": {"type": "cross", "value": 1}}}
		]
	}`

	var state clearinghouseState
	require.NoError(t, json.Unmarshal([]byte(raw), &state))

	at := time.Now()
	snap, err := mapSnapshot("0xabc", state, at)
	require.NoError(t, err)

	assert.Equal(t, "0xabc", snap.Address)
	assert.Equal(t, at, snap.CapturedAt)
	assert.True(t, snap.AccountValue.Equal(decimal.RequireFromString("12500.75")))
	assert.True(t, snap.AvailableMargin.Equal(decimal.RequireFromString("9500.75")))

	require.Len(t, snap.Positions, 1, "zero-size positions excluded")
	btc, ok := snap.Position("BTC")
	require.True(t, ok)
	assert.Equal(t, core.SideLong, btc.Side)
}

func TestHandleWSMessage(t *testing.T) {
	v := &Venue{quotes: newQuoteCache(), logger: testLogger(t)}

	v.handleWSMessage([]byte(`{"channel":"allMids","data":{"mids":{"BTC":"97123.5","ETH":"3456.7","BAD":"x"}}}`))

	px, ok := v.quotes.get("BTC", time.Minute)
	require.True(t, ok)
	assert.True(t, px.Equal(decimal.RequireFromString("97123.5")))

	_, ok = v.quotes.get("BAD", time.Minute)
	assert.False(t, ok, "unparseable prices dropped")

	// Other channels must not touch the cache.
	v.handleWSMessage([]byte(`{"channel":"trades","data":{}}`))
	_, ok = v.quotes.get("ETH", time.Minute)
	assert.True(t, ok)
}

func TestQuoteCacheExpiry(t *testing.T) {
	q := newQuoteCache()
	q.setAll(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(50000)})

	_, ok := q.get("BTC", time.Minute)
	assert.True(t, ok)

	_, ok = q.get("BTC", 0)
	assert.False(t, ok, "stale quotes rejected")
}
