package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func TestCORS(t *testing.T) {
	testCases := []struct {
		name         string
		origins      []string
		origin       string
		method       string
		expectOrigin string
		expectStatus int
	}{
		{"wildcard", []string{"*"}, "https://a.test", http.MethodGet, "*", http.StatusTeapot},
		{"listed origin", []string{"https://a.test"}, "https://a.test", http.MethodGet, "https://a.test", http.StatusTeapot},
		{"unlisted origin", []string{"https://a.test"}, "https://b.test", http.MethodGet, "", http.StatusTeapot},
		{"preflight", []string{"*"}, "https://a.test", http.MethodOptions, "*", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/automation/stats", nil)
			req.Header.Set("Origin", tc.origin)
			rec := httptest.NewRecorder()

			withCORS(tc.origins)(okHandler).ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.expectOrigin {
				t.Errorf("Expected allow-origin '%s', got '%s'", tc.expectOrigin, got)
			}
			if rec.Code != tc.expectStatus {
				t.Errorf("Expected status %d, got %d", tc.expectStatus, rec.Code)
			}
		})
	}
}

func TestRecoveryReturnsJSON500(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler bug")
	})

	rec := httptest.NewRecorder()
	withRecovery(zap.New(core))(panicky).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
	if rec.Body.String() != "{\"detail\":\"Internal server error occurred\"}\n" {
		t.Errorf("Unexpected body: %s", rec.Body.String())
	}
	if logs.Len() != 1 {
		t.Errorf("Expected the panic to be logged once, got %d entries", logs.Len())
	}
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	h := withRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "abc-123" || rec.Header().Get("X-Request-Id") != "abc-123" {
		t.Errorf("Expected caller request id to be reused, got ctx=%s header=%s", seen, rec.Header().Get("X-Request-Id"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc-123" {
		t.Errorf("Expected a generated request id, got '%s'", seen)
	}
}

func TestLoggingRecordsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	rec := httptest.NewRecorder()
	withLogging(zap.New(core))(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["status"]; got != int64(http.StatusTeapot) {
		t.Errorf("Expected logged status 418, got %v", got)
	}
}
