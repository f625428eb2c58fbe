package ticks

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"lv-posengine/internal/stream"
	"lv-posengine/internal/types"

	"github.com/gorilla/websocket"
)

type FeedConfig struct {
	URL             string
	APIKey          string
	ZeroSpread      bool
	Heartbeat       time.Duration
	ReadTimeout     time.Duration
	MaxRetries      int
	CircuitCooldown time.Duration
}

func (c FeedConfig) withDefaults() FeedConfig {
	if c.Heartbeat <= 0 {
		c.Heartbeat = 20 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 8
	}
	if c.CircuitCooldown <= 0 {
		c.CircuitCooldown = 5 * time.Minute
	}
	return c
}

// Supervisor owns one feed connection per symbol with explicit start/stop.
// Each connection is restarted on failure with exponential backoff; after
// too many consecutive failures the circuit opens and the connection rests
// for a cooldown before trying again. While a connection is down its symbol
// goes silent: no synthetic ticks.
type Supervisor struct {
	cfg   FeedConfig
	bus   *stream.TickBus
	hub   *stream.Hub
	cache *PriceCache

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewSupervisor(cfg FeedConfig, bus *stream.TickBus, hub *stream.Hub, cache *PriceCache) *Supervisor {
	return &Supervisor{
		cfg:     cfg.withDefaults(),
		bus:     bus,
		hub:     hub,
		cache:   cache,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start launches one supervised connection per symbol.
func (s *Supervisor) Start(ctx context.Context, symbols []string) {
	for _, symbol := range symbols {
		s.StartSymbol(ctx, symbol)
	}
}

// StartSymbol launches the connection for one symbol if not already running.
func (s *Supervisor) StartSymbol(ctx context.Context, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.cancels[symbol]; running {
		return
	}
	connCtx, cancel := context.WithCancel(ctx)
	s.cancels[symbol] = cancel
	conn := &feedConn{cfg: s.cfg, symbol: symbol, sup: s}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.run(connCtx)
	}()
}

// StopSymbol tears down one symbol's connection.
func (s *Supervisor) StopSymbol(symbol string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[symbol]; ok {
		cancel()
		delete(s.cancels, symbol)
	}
	s.mu.Unlock()
}

// Stop tears down every connection and waits for the loops to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	for symbol, cancel := range s.cancels {
		cancel()
		delete(s.cancels, symbol)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Supervisor) publish(tick stream.Tick, quote Quote) {
	s.cache.Set(tick.Symbol, tick.Mid, quote)
	s.bus.Publish(tick)
	if s.hub != nil {
		s.hub.PushSymbol(tick.Symbol, types.EventQuote, quote)
	}
}

type feedConn struct {
	cfg     FeedConfig
	symbol  string
	sup     *Supervisor
	writeMu sync.Mutex
}

type subscribeFrame struct {
	CmdID int64  `json:"cmd_id"`
	SeqID int64  `json:"seq_id"`
	Trace string `json:"trace"`
	Data  struct {
		SymbolList []subscribeSymbol `json:"symbol_list"`
	} `json:"data"`
}

type subscribeSymbol struct {
	Code       string `json:"code"`
	DepthLevel int    `json:"depth_level"`
}

type heartbeatFrame struct {
	CmdID int64  `json:"cmd_id"`
	SeqID int64  `json:"seq_id"`
	Trace string `json:"trace"`
}

type feedFrame struct {
	Data []RawTick `json:"data"`
}

func (c *feedConn) run(ctx context.Context) {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			failures++
			if failures > c.cfg.MaxRetries {
				log.Printf("[feed] %s: circuit open after %d failures, cooling down %s", c.symbol, failures, c.cfg.CircuitCooldown)
				if !sleepCtx(ctx, c.cfg.CircuitCooldown) {
					return
				}
				failures = 0
				continue
			}
			delay := backoffFor(failures - 1)
			log.Printf("[feed] %s: connect failed (attempt %d): %v, retrying in %s", c.symbol, failures, err, delay)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		failures = 0
		log.Printf("[feed] %s: connected", c.symbol)
		c.consume(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Printf("[feed] %s: disconnected", c.symbol)
	}
}

func (c *feedConn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	url := c.cfg.URL
	if c.cfg.APIKey != "" {
		url += "?token=" + c.cfg.APIKey
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	sub := subscribeFrame{CmdID: 22002, SeqID: 1, Trace: "sub_" + c.symbol}
	sub.Data.SymbolList = []subscribeSymbol{{Code: c.symbol, DepthLevel: 1}}
	if err := c.writeJSON(conn, sub); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *feedConn) consume(ctx context.Context, conn *websocket.Conn) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go c.heartbeat(hbCtx, conn)

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[feed] %s: read error: %v", c.symbol, err)
			}
			return
		}
		var frame feedFrame
		if err := json.Unmarshal(payload, &frame); err != nil || len(frame.Data) == 0 {
			continue
		}
		for _, raw := range frame.Data {
			if raw.Symbol == "" {
				raw.Symbol = c.symbol
			}
			tick, quote, err := Normalize(raw, c.cfg.ZeroSpread)
			if err != nil {
				log.Printf("[feed] %s: dropping malformed tick: %v", c.symbol, err)
				continue
			}
			c.sup.publish(tick, quote)
		}
	}
}

func (c *feedConn) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := heartbeatFrame{CmdID: 9999, SeqID: 1, Trace: "heartbeat"}
			if err := c.writeJSON(conn, hb); err != nil {
				return
			}
		}
	}
}

func (c *feedConn) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
