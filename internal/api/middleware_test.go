package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware(CORSConfig{
		AllowedOrigins: []string{"http://localhost:5173"},
		AllowedMethods: []string{"GET", "PUT"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		method         string
		origin         string
		preflight      bool
		wantStatus     int
		wantCORSHeader bool
	}{
		{"no origin", "GET", "", false, http.StatusOK, false},
		{"allowed origin", "GET", "http://localhost:5173", false, http.StatusOK, true},
		{"other origin", "GET", "http://evil.example", false, http.StatusOK, false},
		{"preflight", "OPTIONS", "http://localhost:5173", true, http.StatusNoContent, true},
		{"preflight from other origin", "OPTIONS", "http://evil.example", true, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/records", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "PUT")
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			got := w.Header().Get("Access-Control-Allow-Origin") != ""
			if got != tt.wantCORSHeader {
				t.Errorf("CORS header present = %v, want %v", got, tt.wantCORSHeader)
			}
			if tt.preflight && tt.wantCORSHeader && w.Header().Get("Access-Control-Max-Age") != "600" {
				t.Errorf("Max-Age = %q, want 600", w.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestCORSMiddlewareDisabled(t *testing.T) {
	handler := CORSMiddleware(CORSConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("no origins configured, CORS header should be absent")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Close()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("limits are per client")
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()

	rl.Allow("old")
	rl.Allow("new")
	rl.mu.Lock()
	rl.limiters["old"].lastSeen = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.evict(time.Now().Add(-limiterIdleTTL))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.limiters["old"]; ok {
		t.Error("idle client should be evicted")
	}
	if _, ok := rl.limiters["new"]; !ok {
		t.Error("active client should be kept")
	}
}

func TestRateLimiterCloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Close()
	rl.Close()
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	if got := clientIP(req); got != "10.0.0.7" {
		t.Errorf("clientIP = %q, want 10.0.0.7", got)
	}
	req.RemoteAddr = "pipe"
	if got := clientIP(req); got != "pipe" {
		t.Errorf("clientIP = %q, want pipe", got)
	}
}
