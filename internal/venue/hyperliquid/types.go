package hyperliquid

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"position_copier/internal/core"
)

// Wire types for the /info endpoint. All numerics arrive as strings.

type clearinghouseState struct {
	MarginSummary  marginSummary   `json:"marginSummary"`
	Withdrawable   string          `json:"withdrawable"`
	AssetPositions []assetPosition `json:"assetPositions"`
}

type marginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalMarginUsed string `json:"totalMarginUsed"`
}

type assetPosition struct {
	Position wirePosition `json:"position"`
}

type wirePosition struct {
	Coin          string       `json:"coin"`
	Szi           string       `json:"szi"`
	EntryPx       string       `json:"entryPx"`
	PositionValue string       `json:"positionValue"`
	MarginUsed    string       `json:"marginUsed"`
	UnrealizedPnl string       `json:"unrealizedPnl"`
	Leverage      wireLeverage `json:"leverage"`
}

type wireLeverage struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

type metaResponse struct {
	Universe []assetMeta `json:"universe"`
}

type assetMeta struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

// Wire types for the /exchange endpoint.

type orderRequest struct {
	Coin       string    `json:"coin"`
	IsBuy      bool      `json:"is_buy"`
	Size       string    `json:"sz"`
	LimitPx    string    `json:"limit_px"`
	OrderType  orderType `json:"order_type"`
	ReduceOnly bool      `json:"reduce_only"`
	ClientOID  string    `json:"cloid,omitempty"`
}

type orderType struct {
	Limit *limitOrderType `json:"limit,omitempty"`
}

type limitOrderType struct {
	Tif string `json:"tif"`
}

type leverageRequest struct {
	Type     string `json:"type"`
	Coin     string `json:"coin"`
	IsCross  bool   `json:"is_cross"`
	Leverage int    `json:"leverage"`
}

type exchangeResponse struct {
	Status   string `json:"status"`
	Response struct {
		Data struct {
			Statuses []orderStatus `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

type orderStatus struct {
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled,omitempty"`
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Error string `json:"error,omitempty"`
}

// mapPosition converts one wire position into the domain model. Positions
// with zero size map to ok=false: absence, not an open position.
func mapPosition(w wirePosition) (core.Position, bool, error) {
	szi, err := decimal.NewFromString(w.Szi)
	if err != nil {
		return core.Position{}, false, fmt.Errorf("bad szi for %s: %w", w.Coin, err)
	}
	if szi.IsZero() {
		return core.Position{}, false, nil
	}

	side := core.SideLong
	if szi.IsNegative() {
		side = core.SideShort
	}

	entry, err := parseDecimal(w.EntryPx)
	if err != nil {
		return core.Position{}, false, fmt.Errorf("bad entryPx for %s: %w", w.Coin, err)
	}
	notional, err := parseDecimal(w.PositionValue)
	if err != nil {
		return core.Position{}, false, fmt.Errorf("bad positionValue for %s: %w", w.Coin, err)
	}
	marginUsed, err := parseDecimal(w.MarginUsed)
	if err != nil {
		return core.Position{}, false, fmt.Errorf("bad marginUsed for %s: %w", w.Coin, err)
	}
	upnl, err := parseDecimal(w.UnrealizedPnl)
	if err != nil {
		return core.Position{}, false, fmt.Errorf("bad unrealizedPnl for %s: %w", w.Coin, err)
	}

	leverage := decimal.NewFromFloat(w.Leverage.Value)
	if !leverage.IsPositive() && marginUsed.IsPositive() {
		// Fall back to notional/margin when the venue omits leverage.
		leverage = notional.Div(marginUsed).Round(0)
	}

	marginType := core.MarginCross
	if w.Leverage.Type == "isolated" {
		marginType = core.MarginIsolated
	}

	return core.Position{
		Symbol:        w.Coin,
		Side:          side,
		Size:          szi.Abs(),
		EntryPrice:    entry,
		Notional:      notional.Abs(),
		MarginUsed:    marginUsed,
		Leverage:      leverage,
		MarginType:    marginType,
		UnrealizedPnL: upnl,
	}, true, nil
}

// mapSnapshot converts a clearinghouse state into an AccountSnapshot.
func mapSnapshot(address string, state clearinghouseState, at time.Time) (*core.AccountSnapshot, error) {
	accountValue, err := parseDecimal(state.MarginSummary.AccountValue)
	if err != nil {
		return nil, fmt.Errorf("bad accountValue: %w", err)
	}
	available, err := parseDecimal(state.Withdrawable)
	if err != nil {
		return nil, fmt.Errorf("bad withdrawable: %w", err)
	}

	positions := make(map[string]core.Position, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p, ok, err := mapPosition(ap.Position)
		if err != nil {
			return nil, err
		}
		if ok {
			positions[p.Symbol] = p
		}
	}

	return &core.AccountSnapshot{
		Address:         address,
		Positions:       positions,
		AccountValue:    accountValue,
		AvailableMargin: available,
		CapturedAt:      at,
	}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
