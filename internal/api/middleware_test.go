package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nutria0/nutria/internal/log"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{name: "direct", remoteAddr: "203.0.113.7:1234", want: "203.0.113.7"},
		{name: "proxy headers ignored when untrusted", remoteAddr: "10.0.0.1:80", realIP: "203.0.113.7", want: "10.0.0.1"},
		{name: "x-real-ip preferred", remoteAddr: "10.0.0.1:80", realIP: "203.0.113.7", forwarded: "198.51.100.9", trustProxy: true, want: "203.0.113.7"},
		{name: "x-forwarded-for first hop", remoteAddr: "10.0.0.1:80", forwarded: "198.51.100.9, 10.0.0.2", trustProxy: true, want: "198.51.100.9"},
		{name: "invalid header falls through", remoteAddr: "10.0.0.1:80", realIP: "not-an-ip", trustProxy: true, want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Fatalf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiterExhaustion(t *testing.T) {
	rl := newRateLimiter(0.001, 2)

	if !rl.allow("203.0.113.7") || !rl.allow("203.0.113.7") {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("203.0.113.7") {
		t.Fatal("third request should be limited")
	}
	// Independent buckets per IP.
	if !rl.allow("198.51.100.9") {
		t.Fatal("other IP should not be affected")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(log.NewNop())(panicking)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = requestIDFromContext(r.Context())
	})
	handler := requestIDMiddleware()(inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	header := rec.Header().Get("X-Request-ID")
	if header == "" || header != seen {
		t.Fatalf("header %q, context %q", header, seen)
	}
}

func TestCORSMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware([]string{"https://app.example.com"})(inner)

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin must not be allowed")
	}
}
