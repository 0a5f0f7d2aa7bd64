package papersources

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	t.Run("creates limiter with specified rate and burst", func(t *testing.T) {
		rl := NewRateLimiter(10, 5)

		require.NotNil(t, rl)
		require.NotNil(t, rl.limiter)

		for i := 0; i < 5; i++ {
			assert.True(t, rl.Allow(), "should allow request %d within burst", i+1)
		}
		assert.False(t, rl.Allow())
	})

	t.Run("creates limiter with fractional rate", func(t *testing.T) {
		// 0.5 requests per second, one request every 2 seconds.
		rl := NewRateLimiter(0.5, 1)

		require.NotNil(t, rl)
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
	})
}

func TestRateLimiter_Wait(t *testing.T) {
	t.Run("burst allows instant requests", func(t *testing.T) {
		rl := NewRateLimiter(100, 5)

		ctx := context.Background()
		start := time.Now()

		for i := 0; i < 5; i++ {
			require.NoError(t, rl.Wait(ctx))
		}

		elapsed := time.Since(start)
		assert.Less(t, elapsed, 50*time.Millisecond,
			"burst requests should be nearly instant, took %v", elapsed)
	})

	t.Run("waits for token after burst exhausted", func(t *testing.T) {
		rl := NewRateLimiter(20, 1)

		ctx := context.Background()
		require.NoError(t, rl.Wait(ctx))

		start := time.Now()
		require.NoError(t, rl.Wait(ctx))
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		rl := NewRateLimiter(0.1, 1)
		require.NoError(t, rl.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := rl.Wait(ctx)
		require.Error(t, err)
	})
}

func TestRateLimiter_SetRate(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	rl.SetRate(1000)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, rl.Allow())
}
