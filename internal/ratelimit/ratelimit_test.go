package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedRateLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		burst    int
		calls    int
		wantPass int
	}{
		{name: "burst allows initial requests", burst: 3, calls: 3, wantPass: 3},
		{name: "exceeding burst blocks", burst: 2, calls: 5, wantPass: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := New(0.001, tt.burst)
			defer rl.Stop()

			passed := 0
			for range tt.calls {
				if rl.Allow("library-a") {
					passed++
				}
			}
			assert.Equal(t, tt.wantPass, passed)
		})
	}
}

func TestKeyedRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := New(0.001, 1)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestKeyedRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := New(0.001, 1)
	defer rl.Stop()

	require.NoError(t, rl.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx, "k"))
}

func TestKeyedRateLimiter_EvictIdle(t *testing.T) {
	rl := New(1, 1, WithIdleTTL(time.Minute))
	defer rl.Stop()

	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return current }

	rl.Allow("old")
	current = current.Add(2 * time.Minute)
	rl.Allow("fresh")

	rl.evictIdle()
	assert.Equal(t, 1, rl.Len())

	rl.mu.Lock()
	_, ok := rl.limiters["fresh"]
	rl.mu.Unlock()
	assert.True(t, ok)
}

func TestKeyedRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := New(1, 1)
	rl.Stop()
	rl.Stop()
}
