package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ovaphlow/pitchfork/service-auth/internal/auth"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get(requestIDHeader) != "abc-123" {
		t.Errorf("inbound id not kept: %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", 65))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if len(seen) != 27 {
		t.Errorf("oversized id not replaced with a ksuid: %q", seen)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := RecoverMiddleware(zap.New(core).Sugar())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if logs.FilterMessage("panic in handler").Len() != 1 {
		t.Error("panic not logged")
	}
}

func TestHealth(t *testing.T) {
	lg := zap.NewNop().Sugar()
	tests := []struct {
		name string
		db   Pinger
		want int
	}{
		{"no db", nil, http.StatusOK},
		{"db up", pinger{}, http.StatusOK},
		{"db down", pinger{errors.New("refused")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RegisterRoutes(lg, Options{Auth: auth.NewHandler(nil, lg), DB: tt.db})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	lg := zap.NewNop().Sugar()
	h := RegisterRoutes(lg, Options{Auth: auth.NewHandler(nil, lg)})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/auth/login", nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("status = %d, content-type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}
