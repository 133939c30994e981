package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimiter_DisabledNeverBlocks(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, rate.Inf, rl.limiter.Limit())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for range 100 {
		require.NoError(t, rl.Wait(ctx))
	}
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestNewRateLimiter_Normalizes(t *testing.T) {
	rl := NewRateLimiter(50, 0)
	assert.Equal(t, rate.Limit(50), rl.limiter.Limit())
	assert.Equal(t, 1, rl.limiter.Burst())

	rl = NewRateLimiter(-1, 5)
	assert.Equal(t, rate.Inf, rl.limiter.Limit())
	assert.Equal(t, 5, rl.limiter.Burst())
}
