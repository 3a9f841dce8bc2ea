package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestReserveConsumesBurst(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := New(10, 3).WithClock(clock.Now)

	for i := 0; i < 3; i++ {
		_, ok := l.reserve()
		assert.True(t, ok, "attempt %d", i)
	}
	wait, ok := l.reserve()
	assert.False(t, ok)
	assert.InDelta(t, float64(100*time.Millisecond), float64(wait), float64(time.Microsecond))

	clock.Advance(100 * time.Millisecond)
	_, ok = l.reserve()
	assert.True(t, ok)
	_, ok = l.reserve()
	assert.False(t, ok)
}

func TestRefillCapsAtBurst(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := New(100, 2).WithClock(clock.Now)
	clock.Advance(time.Hour)

	for i := 0; i < 2; i++ {
		_, ok := l.reserve()
		require.True(t, ok)
	}
	_, ok := l.reserve()
	assert.False(t, ok)
}

func TestZeroRateIsUnlimited(t *testing.T) {
	l := New(0, 1)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	l := New(100, 1)
	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(0.001, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
