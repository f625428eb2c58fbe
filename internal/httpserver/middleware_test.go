package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lv-posengine/internal/auth"
	"lv-posengine/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAuth(t *testing.T) {
	t.Parallel()

	svc := auth.NewService("posengine", []byte("test-secret"), time.Hour)
	token, err := svc.SignToken("acct-1")
	require.NoError(t, err)

	var gotAccount string
	handler := WithAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount, _ = AccountID(r)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authz      string
		wantStatus int
	}{
		{"valid bearer", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer junk", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/positions", nil)
			if tt.authz != "" {
				req.Header.Set("Authorization", tt.authz)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
	assert.Equal(t, "acct-1", gotAccount)
}

func TestInternalAuth(t *testing.T) {
	t.Parallel()

	handler := InternalAuth("sekret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/internal/fills", nil)
	req.Header.Set("X-Internal-Token", "sekret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/internal/fills", nil)
	req.Header.Set("X-Internal-Token", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWriteErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errs.Validation("bad input"), http.StatusBadRequest},
		{"insufficient margin", errs.InsufficientMarginError{}, http.StatusBadRequest},
		{"not found", errs.ErrNotFound, http.StatusNotFound},
		{"conflict", errs.ErrConflict, http.StatusConflict},
		{"price unavailable", errs.ErrPriceUnavailable, http.StatusServiceUnavailable},
		{"upstream", errs.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{"other", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
