package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"lv-posengine/internal/accounts"
	"lv-posengine/internal/errs"
	"lv-posengine/internal/httputil"
	"lv-posengine/internal/ledger"
	"lv-posengine/internal/positions"
	"lv-posengine/internal/ticks"
	"lv-posengine/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Handler serves the engine's REST surface: read endpoints for account
// holders and token-guarded internal endpoints for the execution venue.
type Handler struct {
	positions *positions.Service
	accounts  *accounts.Service
	ledger    *ledger.Service
	cache     *ticks.PriceCache
}

func NewHandler(positionsSvc *positions.Service, accountsSvc *accounts.Service, ledgerSvc *ledger.Service, cache *ticks.PriceCache) *Handler {
	return &Handler{positions: positionsSvc, accounts: accountsSvc, ledger: ledgerSvc, cache: cache}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errs.IsValidation(err) || errs.IsInsufficientMargin(err):
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, errs.ErrNotFound):
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, errs.ErrConflict):
		httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, errs.ErrPriceUnavailable), errors.Is(err, errs.ErrUpstreamUnavailable):
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: err.Error()})
	default:
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal error"})
	}
}

// Positions returns the account's open positions.
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request, account string) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": h.positions.Snapshot(account)})
}

// Capital returns the account's persisted capital view. An account that has
// never traded reads as all zeros rather than 404.
func (h *Handler) Capital(w http.ResponseWriter, r *http.Request, account string) {
	capital, err := h.accounts.Capital(r.Context(), account)
	if errors.Is(err, errs.ErrNotFound) {
		httputil.WriteJSON(w, http.StatusOK, accounts.Compute(decimal.Zero, decimal.Zero, decimal.Zero))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, capital)
}

// Ledger returns the account's recent ledger entries, newest first.
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request, account string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.ledger.EntriesByAccount(r.Context(), account, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// Quote returns the last cached quote for a symbol.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	quote, ok := h.cache.Quote(symbol)
	if !ok {
		writeError(w, errs.ErrPriceUnavailable)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quote)
}

type fillPayload struct {
	Account    string `json:"account_id"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Lots       string `json:"lots"`
	Price      string `json:"price"`
	Leverage   int64  `json:"leverage"`
	PositionID string `json:"position_id,omitempty"`
	ClientRef  string `json:"client_ref,omitempty"`
}

// ApplyFill ingests one executed fill from the matching venue.
func (h *Handler) ApplyFill(w http.ResponseWriter, r *http.Request) {
	var p fillPayload
	if err := httputil.DecodeJSON(r, &p); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid json"})
		return
	}
	lots, err := decimal.NewFromString(p.Lots)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid lots"})
		return
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid price"})
		return
	}
	result, err := h.positions.ApplyFill(r.Context(), positions.FillRequest{
		Account:    p.Account,
		Symbol:     p.Symbol,
		Side:       types.Side(p.Side),
		Lots:       lots,
		Price:      price,
		Leverage:   p.Leverage,
		PositionID: p.PositionID,
		ClientRef:  p.ClientRef,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type closePayload struct {
	Account    string `json:"account_id"`
	PositionID string `json:"position_id"`
}

// ClosePosition fully closes a position at the last cached mid.
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var p closePayload
	if err := httputil.DecodeJSON(r, &p); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid json"})
		return
	}
	result, err := h.positions.ClosePosition(r.Context(), p.Account, p.PositionID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type adjustPayload struct {
	Account   string `json:"account_id"`
	Amount    string `json:"amount"`
	Kind      string `json:"kind"`
	Reference string `json:"ref"`
}

// Adjust books a non-trading balance change (deposit, withdrawal, fee).
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var p adjustPayload
	if err := httputil.DecodeJSON(r, &p); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid json"})
		return
	}
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}
	balance, err := h.ledger.Adjust(r.Context(), p.Account, amount, types.LedgerEntryKind(p.Kind), p.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}
