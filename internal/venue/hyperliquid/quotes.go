package hyperliquid

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// quoteCache holds the latest mid prices from either the REST snapshot or
// the websocket stream, whichever wrote last.
type quoteCache struct {
	mu        sync.RWMutex
	mids      map[string]decimal.Decimal
	updatedAt time.Time
}

func newQuoteCache() *quoteCache {
	return &quoteCache{mids: make(map[string]decimal.Decimal)}
}

func (q *quoteCache) setAll(mids map[string]decimal.Decimal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for sym, px := range mids {
		q.mids[sym] = px
	}
	q.updatedAt = time.Now()
}

func (q *quoteCache) get(symbol string, maxAge time.Duration) (decimal.Decimal, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if time.Since(q.updatedAt) > maxAge {
		return decimal.Decimal{}, false
	}
	px, ok := q.mids[symbol]
	return px, ok
}

// allMids websocket frame: {"channel":"allMids","data":{"mids":{"BTC":"97123.5",...}}}
type wsFrame struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

// handleWSMessage feeds allMids frames into the quote cache. Frames on
// other channels and unparseable prices are ignored.
func (v *Venue) handleWSMessage(message []byte) {
	var frame wsFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		v.logger.Debug("Dropped unparseable ws frame", "error", err)
		return
	}
	if frame.Channel != "allMids" || len(frame.Data.Mids) == 0 {
		return
	}

	mids := make(map[string]decimal.Decimal, len(frame.Data.Mids))
	for sym, raw := range frame.Data.Mids {
		px, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		mids[sym] = px
	}
	v.quotes.setAll(mids)
}

type wsSubscription struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
}

func allMidsSubscription() wsSubscription {
	var sub wsSubscription
	sub.Method = "subscribe"
	sub.Subscription.Type = "allMids"
	return sub
}
