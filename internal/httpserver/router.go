package httpserver

import (
	"net/http"

	"lv-posengine/internal/auth"
	"lv-posengine/internal/httputil"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	Handler       *Handler
	AuthService   *auth.Service
	InternalToken string
	UserWS        http.Handler
	QuoteWS       http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS middleware for development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Token")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/v1", func(r chi.Router) {
		r.Get("/ws", d.UserWS.ServeHTTP)
		r.Get("/market/ws", d.QuoteWS.ServeHTTP)
		r.Get("/market/quotes/{symbol}", d.Handler.Quote)
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/positions", func(w http.ResponseWriter, r *http.Request) {
				account, ok := AccountID(r)
				if !ok {
					httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
					return
				}
				d.Handler.Positions(w, r, account)
			})
			r.Get("/capital", func(w http.ResponseWriter, r *http.Request) {
				account, ok := AccountID(r)
				if !ok {
					httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
					return
				}
				d.Handler.Capital(w, r, account)
			})
			r.Get("/ledger", func(w http.ResponseWriter, r *http.Request) {
				account, ok := AccountID(r)
				if !ok {
					httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
					return
				}
				d.Handler.Ledger(w, r, account)
			})
		})
		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/internal/fills", d.Handler.ApplyFill)
			r.Post("/internal/positions/close", d.Handler.ClosePosition)
			r.Post("/internal/adjustments", d.Handler.Adjust)
		})
	})
	return r
}
