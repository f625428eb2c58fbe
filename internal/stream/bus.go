package stream

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Tick is the canonical internal price event: one normalized mid per symbol.
type Tick struct {
	Symbol string          `json:"symbol"`
	Mid    decimal.Decimal `json:"mid"`
	TS     int64           `json:"ts"`
}

// TickBus fans ticks out to subscribers. Publish never blocks: a subscriber
// that falls behind loses ticks rather than stalling the producer. Ticks are
// delivered to each subscriber in publish order.
type TickBus struct {
	mu   sync.RWMutex
	subs map[chan Tick]struct{}
}

func NewTickBus() *TickBus {
	return &TickBus{subs: make(map[chan Tick]struct{})}
}

func (b *TickBus) Subscribe() chan Tick {
	ch := make(chan Tick, 1024)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *TickBus) Unsubscribe(ch chan Tick) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *TickBus) Publish(tick Tick) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- tick:
		default:
		}
	}
	b.mu.RUnlock()
}
