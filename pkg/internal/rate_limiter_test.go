package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestRateLimiter_LimitsPerKey(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	now, clock := fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter.now = clock

	ok, _ := limiter.allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limiter.allow("10.0.0.1")
	assert.True(t, ok)
	ok, resetAt := limiter.allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, now.Add(time.Minute), resetAt)

	ok, _ = limiter.allow("10.0.0.2")
	assert.True(t, ok, "other clients have their own bucket")

	*now = now.Add(time.Minute + time.Second)
	ok, _ = limiter.allow("10.0.0.1")
	assert.True(t, ok, "window reset")
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)
	now := time.Now()

	limiter.requests["expired"] = &bucket{count: 5, resetAt: now.Add(-time.Second)}
	limiter.requests["active"] = &bucket{count: 3, resetAt: now.Add(time.Minute)}

	limiter.cleanupExpired(now)

	_, expired := limiter.requests["expired"]
	_, active := limiter.requests["active"]
	assert.False(t, expired)
	assert.True(t, active)
}

func TestRateLimiter_LazyCleanupBoundsMap(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)
	now, clock := fixedClock(time.Now())
	limiter.now = clock

	for i := 0; i < 150; i++ {
		limiter.allow(fmt.Sprintf("192.168.1.%d", i))
	}
	require.Len(t, limiter.requests, 150)

	*now = now.Add(2 * time.Minute)
	for i := 0; i < 100; i++ {
		limiter.allow("10.0.0.1")
	}
	assert.LessOrEqual(t, len(limiter.requests), 1)
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", http.NoBody)
	req.RemoteAddr = "203.0.113.7:5555"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "198.51.100.4:1234"
	assert.Equal(t, "198.51.100.4", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
}
