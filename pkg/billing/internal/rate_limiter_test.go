package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("Request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("Request over the limit should be denied")
	}

	// A different IP has its own bucket
	if !limiter.allow("192.168.1.2") {
		t.Error("Different IP should not share the bucket")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(1, window)

	if !limiter.allow("10.0.0.1") {
		t.Fatal("First request should be allowed")
	}
	if limiter.allow("10.0.0.1") {
		t.Fatal("Second request should be denied")
	}

	time.Sleep(window + 10*time.Millisecond)

	if !limiter.allow("10.0.0.1") {
		t.Error("Request after window reset should be allowed")
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	limiter := NewRateLimiter(10, 50*time.Millisecond)

	now := time.Now()
	limiter.requests["192.168.1.100"] = &bucket{
		count:   5,
		resetAt: now.Add(-time.Second), // Already expired
	}
	limiter.requests["192.168.1.200"] = &bucket{
		count:   3,
		resetAt: now.Add(time.Minute), // Not expired
	}

	limiter.cleanupExpired(now)

	if _, exists := limiter.requests["192.168.1.100"]; exists {
		t.Error("Expired entry should have been removed")
	}
	if _, exists := limiter.requests["192.168.1.200"]; !exists {
		t.Error("Active entry should not have been removed")
	}
}

func TestRateLimiter_CleanupBoundsMapSize(t *testing.T) {
	window := 50 * time.Millisecond
	limiter := NewRateLimiter(10, window)

	for i := 0; i < 300; i++ {
		limiter.allow("172.16.0." + string(rune(i%256)))
	}
	time.Sleep(window + 10*time.Millisecond)
	for i := 0; i < 100; i++ {
		limiter.allow("10.0.0.1")
	}

	if len(limiter.requests) > 50 {
		t.Errorf("Map size (%d) suggests cleanup is not keeping up", len(limiter.requests))
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)

	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/", http.NoBody)
		req.RemoteAddr = "192.168.1.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("First two requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Third request should be rate limited, got %d", codes[2])
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("POST", "/", http.NoBody)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := GetClientIP(req); got != "192.0.2.1:1234" {
		t.Errorf("Expected RemoteAddr fallback, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := GetClientIP(req); got != "203.0.113.7" {
		t.Errorf("Expected first X-Forwarded-For entry, got %s", got)
	}
}
