package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: time.Minute}
	rl := &ipRateLimiter{visitors: make(map[string]*visitor), cfg: cfg}

	for i := 0; i < 3; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Errorf("request over the limit should be denied")
	}
	// A different IP has its own budget.
	if !rl.allow("10.0.0.2") {
		t.Errorf("separate ip should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute}
	rl := &ipRateLimiter{visitors: make(map[string]*visitor), cfg: cfg}
	for i := 0; i < 10; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("disabled limiter denied request %d", i+1)
		}
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: 10 * time.Millisecond}
	rl := &ipRateLimiter{visitors: make(map[string]*visitor), cfg: cfg}

	if !rl.allow("10.0.0.1") {
		t.Fatalf("first request should be allowed")
	}
	if rl.allow("10.0.0.1") {
		t.Fatalf("second request inside window should be denied")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.allow("10.0.0.1") {
		t.Errorf("request after window expiry should be allowed")
	}
}

func TestRateLimitMiddlewareForwardedFor(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: time.Minute}
	rl := newIPRateLimiter(context.Background(), cfg)
	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), rl)

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/channels/1/posts", nil)
		req.RemoteAddr = "127.0.0.1:1234"
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("203.0.113.7"); got != http.StatusOK {
		t.Fatalf("first request status = %d", got)
	}
	if got := send("203.0.113.7, 10.0.0.1"); got != http.StatusTooManyRequests {
		t.Errorf("second request from same forwarded ip = %d, want 429", got)
	}
	// A different client behind the same proxy is not penalized.
	if got := send("203.0.113.8"); got != http.StatusOK {
		t.Errorf("different forwarded ip = %d, want 200", got)
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "")
	cfg := loadRateLimiterConfig()
	if !cfg.enabled || cfg.requestsPerIP != 30 || cfg.window != time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}

	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "5")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "10")
	cfg = loadRateLimiterConfig()
	if cfg.enabled || cfg.requestsPerIP != 5 || cfg.window != 10*time.Second {
		t.Errorf("overrides = %+v", cfg)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://forum.example.com", "*.chat.example.com"}
	cases := []struct {
		origin string
		want   bool
	}{
		{"https://forum.example.com", true},
		{"https://evil.example.com", false},
		{"https://eu.chat.example.com", true},
		{"https://chat.example.com", true},
		{"", false},
	}
	for _, tc := range cases {
		if got := isOriginAllowed(tc.origin, allowed); got != tc.want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestCORSPermissive(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/channels", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("allow origin = %q, want *", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSRestricted(t *testing.T) {
	cfg := &corsConfig{allowedOrigins: []string{"https://forum.example.com"}}
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg)

	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	req.Header.Set("Origin", "https://forum.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://forum.example.com" {
		t.Errorf("allowed origin not echoed: %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/channels", nil)
	req.Header.Set("Origin", "https://stranger.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("disallowed origin received CORS headers")
	}
}
