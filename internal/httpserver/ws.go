package httpserver

import (
	"net/http"
	"strings"

	"lv-posengine/internal/accounts"
	"lv-posengine/internal/auth"
	"lv-posengine/internal/positions"
	"lv-posengine/internal/stream"
	"lv-posengine/internal/symbols"
	"lv-posengine/internal/ticks"
	"lv-posengine/internal/types"

	"github.com/gorilla/websocket"
)

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	// Allow both localhost and 127.0.0.1 variants for development
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		if strings.Contains(reqOrigin, "localhost") || strings.Contains(reqOrigin, "127.0.0.1") {
			return true
		}
	}
	return strings.EqualFold(reqOrigin, origin)
}

// UserWSHandler streams an account's position, capital and margin-call events
// over one socket. On connect the client gets a full positions snapshot plus
// the current capital view, then incremental updates from its session queue.
type UserWSHandler struct {
	hub       *stream.Hub
	authSvc   *auth.Service
	positions *positions.Service
	accounts  *accounts.Service
	upgrader  websocket.Upgrader
}

func NewUserWSHandler(hub *stream.Hub, authSvc *auth.Service, positionsSvc *positions.Service, accountsSvc *accounts.Service, origin string) *UserWSHandler {
	return &UserWSHandler{
		hub:       hub,
		authSvc:   authSvc,
		positions: positionsSvc,
		accounts:  accountsSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func (h *UserWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	account, err := h.authSvc.ParseToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := h.hub.Register(account)
	defer h.hub.Unregister(sess)

	snapshot := stream.Event{Type: types.EventPositionsSnapshot, Data: h.positions.Snapshot(account)}
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}
	if capital, capErr := h.accounts.Capital(r.Context(), account); capErr == nil {
		if err := conn.WriteJSON(stream.Event{Type: types.EventCapitalUpdate, Data: capital}); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case evt := <-sess.Out():
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// QuoteWSHandler streams public quotes for one symbol. No auth required.
type QuoteWSHandler struct {
	hub      *stream.Hub
	catalog  *symbols.Catalog
	cache    *ticks.PriceCache
	upgrader websocket.Upgrader
}

func NewQuoteWSHandler(hub *stream.Hub, catalog *symbols.Catalog, cache *ticks.PriceCache, origin string) *QuoteWSHandler {
	return &QuoteWSHandler{
		hub:     hub,
		catalog: catalog,
		cache:   cache,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

func (h *QuoteWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	spec, err := h.catalog.Spec(r.URL.Query().Get("symbol"))
	if err != nil {
		http.Error(w, "unknown symbol", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := h.hub.Register("")
	defer h.hub.Unregister(sess)
	h.hub.SubscribeSymbol(sess, spec.Symbol)

	if quote, ok := h.cache.Quote(spec.Symbol); ok {
		if err := conn.WriteJSON(stream.Event{Type: types.EventQuote, Data: quote}); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case evt := <-sess.Out():
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
