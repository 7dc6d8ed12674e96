package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth([]string{"k1", "k2"})(okHandler())

	cases := []struct {
		name   string
		method string
		header map[string]string
		want   int
	}{
		{"no key", http.MethodPost, nil, http.StatusUnauthorized},
		{"bearer", http.MethodPost, map[string]string{"Authorization": "Bearer k2"}, http.StatusOK},
		{"bearer lower case", http.MethodPost, map[string]string{"Authorization": "bearer  k1 "}, http.StatusOK},
		{"x-api-key", http.MethodGet, map[string]string{"X-API-Key": "k1"}, http.StatusOK},
		{"wrong key", http.MethodGet, map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"basic scheme", http.MethodGet, map[string]string{"Authorization": "Basic k1"}, http.StatusUnauthorized},
		{"options", http.MethodOptions, nil, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/datasets", nil)
		for k, v := range tc.header {
			req.Header.Set(k, v)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s: status=%d want %d", tc.name, rr.Code, tc.want)
		}
		if rr.Code == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
			t.Fatalf("%s: missing WWW-Authenticate", tc.name)
		}
	}
}

func TestAPIKeyAuth_EmptyListIsOpen(t *testing.T) {
	h := APIKeyAuth(nil)(okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
}

func TestLogging_SetsRequestID(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Logging(l)(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc" {
		t.Fatalf("X-Request-ID=%q want abc", got)
	}
}

func TestRecover(t *testing.T) {
	h := Recover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", rr.Code)
	}
}
