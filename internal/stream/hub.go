package stream

import (
	"sync"
	"sync/atomic"

	"lv-posengine/internal/types"
)

// Event is one message on a session's outbound queue.
type Event struct {
	Type types.EventType `json:"type"`
	Data any             `json:"data"`
}

// Session is one connected client with a bounded outbound queue. When the
// queue is full the oldest event is dropped to make room; producers never
// block on a slow client.
type Session struct {
	account string
	out     chan Event
	dropped atomic.Int64

	mu      sync.Mutex
	symbols map[string]struct{}
}

// Out is consumed by the session's websocket writer.
func (s *Session) Out() <-chan Event {
	return s.out
}

func (s *Session) Account() string {
	return s.account
}

// Dropped reports how many events were discarded due to queue overflow.
func (s *Session) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Session) push(evt Event) {
	select {
	case s.out <- evt:
		return
	default:
	}
	// Queue full: drop the oldest queued event, then retry once.
	select {
	case <-s.out:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.out <- evt:
	default:
		s.dropped.Add(1)
	}
}

// Hub is the fan-out registry: sessions per account plus per-symbol quote
// subscriptions.
type Hub struct {
	queueSize int

	mu       sync.RWMutex
	byUser   map[string]map[*Session]struct{}
	bySymbol map[string]map[*Session]struct{}
}

func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		queueSize: queueSize,
		byUser:    make(map[string]map[*Session]struct{}),
		bySymbol:  make(map[string]map[*Session]struct{}),
	}
}

func (h *Hub) Register(account string) *Session {
	sess := &Session{
		account: account,
		out:     make(chan Event, h.queueSize),
		symbols: make(map[string]struct{}),
	}
	h.mu.Lock()
	if account != "" {
		if h.byUser[account] == nil {
			h.byUser[account] = make(map[*Session]struct{})
		}
		h.byUser[account][sess] = struct{}{}
	}
	h.mu.Unlock()
	return sess
}

func (h *Hub) Unregister(sess *Session) {
	h.mu.Lock()
	if set := h.byUser[sess.account]; set != nil {
		delete(set, sess)
		if len(set) == 0 {
			delete(h.byUser, sess.account)
		}
	}
	sess.mu.Lock()
	for sym := range sess.symbols {
		if set := h.bySymbol[sym]; set != nil {
			delete(set, sess)
			if len(set) == 0 {
				delete(h.bySymbol, sym)
			}
		}
	}
	sess.symbols = make(map[string]struct{})
	sess.mu.Unlock()
	h.mu.Unlock()
}

// SubscribeSymbol adds the session to a symbol's quote audience.
func (h *Hub) SubscribeSymbol(sess *Session, symbol string) {
	h.mu.Lock()
	if h.bySymbol[symbol] == nil {
		h.bySymbol[symbol] = make(map[*Session]struct{})
	}
	h.bySymbol[symbol][sess] = struct{}{}
	h.mu.Unlock()
	sess.mu.Lock()
	sess.symbols[symbol] = struct{}{}
	sess.mu.Unlock()
}

// PushAccount delivers an event to every session of the account.
func (h *Hub) PushAccount(account string, event types.EventType, data any) {
	evt := Event{Type: event, Data: data}
	h.mu.RLock()
	for sess := range h.byUser[account] {
		sess.push(evt)
	}
	h.mu.RUnlock()
}

// PushSymbol delivers a quote event to every subscriber of the symbol.
func (h *Hub) PushSymbol(symbol string, event types.EventType, data any) {
	evt := Event{Type: event, Data: data}
	h.mu.RLock()
	for sess := range h.bySymbol[symbol] {
		sess.push(evt)
	}
	h.mu.RUnlock()
}
