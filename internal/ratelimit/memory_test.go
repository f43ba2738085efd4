package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"studiodesk.app/internal/ratelimit"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemory_Allow(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	lim := ratelimit.NewMemory(5, time.Minute, ratelimit.WithClock(clk.Now))
	defer lim.Close()
	ctx := context.Background()

	for i := range 5 {
		d, err := lim.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
	}

	d, err := lim.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, (12 * time.Second).Seconds(), d.RetryAfter.Seconds(), 0.5)

	other, err := lim.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	clk.Advance(12 * time.Second)
	d, err = lim.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one token refilled")

	d, err = lim.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "bucket is empty again")
}

func TestMemory_CloseStopsJanitor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	lim := ratelimit.NewMemory(1, time.Second)
	_, err := lim.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, lim.Len())
	require.NoError(t, lim.Close())
	require.NoError(t, lim.Close(), "close is idempotent")
}

func TestMemory_ConcurrentCallers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	lim := ratelimit.NewMemory(10, time.Hour)
	defer lim.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := lim.Allow(context.Background(), "shared")
			if err != nil || !d.Allowed {
				return
			}
			mu.Lock()
			allowed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

var _ ratelimit.Limiter = (*ratelimit.Memory)(nil)
