package ticks

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Quote is the display tick pushed to public symbol subscribers.
type Quote struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Last   string `json:"last"`
	TS     int64  `json:"ts"`
}

// PriceCache keeps the last known normalized price per symbol. Ticks are not
// persisted beyond this.
type PriceCache struct {
	mu    sync.RWMutex
	mids  map[string]decimal.Decimal
	quote map[string]Quote
}

func NewPriceCache() *PriceCache {
	return &PriceCache{
		mids:  make(map[string]decimal.Decimal),
		quote: make(map[string]Quote),
	}
}

func (c *PriceCache) Set(symbol string, mid decimal.Decimal, quote Quote) {
	if symbol == "" || !mid.IsPositive() {
		return
	}
	c.mu.Lock()
	c.mids[symbol] = mid
	c.quote[symbol] = quote
	c.mu.Unlock()
}

func (c *PriceCache) Mid(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	mid, ok := c.mids[symbol]
	c.mu.RUnlock()
	return mid, ok
}

func (c *PriceCache) Quote(symbol string) (Quote, bool) {
	c.mu.RLock()
	q, ok := c.quote[symbol]
	c.mu.RUnlock()
	return q, ok
}
