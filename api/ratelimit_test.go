package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	// Burst of two, then empty.
	assert.True(t, rl.Allow("acme/user-1"))
	assert.True(t, rl.Allow("acme/user-1"))
	assert.False(t, rl.Allow("acme/user-1"))

	// Keys do not share buckets.
	assert.True(t, rl.Allow("globex/user-1"))

	// One token refills per second.
	now = now.Add(time.Second)
	assert.True(t, rl.Allow("acme/user-1"))
	assert.False(t, rl.Allow("acme/user-1"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(5 * time.Minute)
	rl.Allow("b")

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, rl.Cleanup())
	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, "b")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) }
	calls := 0
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(headerClientID, "acme")
		req.Header.Set(headerUserID, "user-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"RATE_LIMITED","message":"Too many claim attempts. Please wait a moment and try again."}`, rec.Body.String())
	assert.Equal(t, 1, calls)
}
