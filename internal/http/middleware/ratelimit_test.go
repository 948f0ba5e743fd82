package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowWithinBurst(t *testing.T) {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    1,
		burst:   3,
		now:     time.Now,
	}

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("1.2.3.4"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("1.2.3.4"), "burst exhausted")
	assert.True(t, rl.Allow("5.6.7.8"), "buckets are per IP")
}

func TestRateLimiter_Refills(t *testing.T) {
	current := time.Now()
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    2,
		burst:   2,
		now:     func() time.Time { return current },
	}

	assert.True(t, rl.Allow("ip"))
	assert.True(t, rl.Allow("ip"))
	assert.False(t, rl.Allow("ip"))

	current = current.Add(time.Second)
	assert.True(t, rl.Allow("ip"), "tokens refill over time")
}

func TestRateLimitWith_Returns429(t *testing.T) {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    1,
		burst:   1,
		now:     time.Now,
	}
	handler := RateLimitWith(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/airbnb", nil)
	req.Header.Set("X-Real-Ip", "9.9.9.9")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
