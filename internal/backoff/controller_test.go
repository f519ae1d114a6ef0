package backoff

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	advance bool
	slept   []time.Duration
}

func newFakeClock(advance bool) *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC), advance: advance}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slept = append(f.slept, d)
	if f.advance {
		f.now = f.now.Add(d)
	}
	return ctx.Err()
}

func (f *fakeClock) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.slept)
}

func newTestController(cfg Config, clock *fakeClock) *Controller {
	return New(cfg, WithClock(clock.Now), WithSleeper(clock.Sleep))
}

func TestPenaltyIsMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	c := New(Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxExponent: 6})

	prev := time.Duration(0)
	for n := 0; n < 10; n++ {
		p := c.Penalty(n)
		assert.GreaterOrEqual(t, p, prev, "penalty for %d failures", n)
		assert.LessOrEqual(t, p, 10*time.Second)
		prev = p
	}
	assert.Equal(t, time.Second, c.Penalty(0))
	assert.Equal(t, 4*time.Second, c.Penalty(2))
	assert.Equal(t, 10*time.Second, c.Penalty(9))
}

func TestPenaltyExponentIsBounded(t *testing.T) {
	t.Parallel()

	c := New(Config{BaseDelay: time.Second, MaxExponent: 2})
	assert.Equal(t, 4*time.Second, c.Penalty(2))
	assert.Equal(t, 4*time.Second, c.Penalty(50))
}

func TestWaitSpacesRequests(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(true)
	c := newTestController(Config{}, clock)
	c.Register("gemini", 16*time.Second)

	ctx := context.Background()
	require.NoError(t, c.Wait(ctx, "gemini"))
	require.NoError(t, c.Wait(ctx, "gemini"))
	require.NoError(t, c.Wait(ctx, "gemini"))

	assert.Equal(t, []time.Duration{16 * time.Second, 16 * time.Second}, clock.Slept())
}

func TestWaitUnregisteredIsUnthrottled(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(false)
	c := newTestController(Config{}, clock)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Wait(context.Background(), "local"))
	}
	assert.Empty(t, clock.Slept())
}

func TestWaitConcurrentCallersGetDistinctSlots(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(false)
	c := newTestController(Config{}, clock)
	c.Register("openai", 8*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Wait(context.Background(), "openai"))
		}()
	}
	wg.Wait()

	slept := clock.Slept()
	slices.Sort(slept)
	assert.Equal(t, []time.Duration{
		8 * time.Second, 16 * time.Second, 24 * time.Second, 32 * time.Second,
	}, slept)
}

func TestWaitRejectsSlotsBeyondMaxWait(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(false)
	c := newTestController(Config{MaxWait: 12 * time.Second}, clock)
	c.Register("gemini", 8*time.Second)

	ctx := context.Background()
	require.NoError(t, c.Wait(ctx, "gemini"))
	require.NoError(t, c.Wait(ctx, "gemini"))
	err := c.Wait(ctx, "gemini")
	require.ErrorIs(t, err, ErrWaitTooLong)

	// the rejected reservation is released, so the horizon did not move
	assert.Equal(t, clock.Now().Add(8*time.Second), c.LastRequestAt("gemini"))
}

func TestRateLimitedEscalatesAndResets(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(true)
	c := newTestController(Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second, MaxExponent: 8}, clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := c.RateLimited(ctx, "gemini", 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, c.Failures("gemini"))
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second,
	}, clock.Slept())

	c.Succeeded("gemini")
	assert.Zero(t, c.Failures("gemini"))

	wait, err := c.RateLimited(ctx, "gemini", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Second, wait)
}

func TestRateLimitedHonorsHintWithinCap(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(true)
	c := newTestController(Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxExponent: 4}, clock)
	ctx := context.Background()

	wait, err := c.RateLimited(ctx, "gemini", 12*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, wait)

	wait, err = c.RateLimited(ctx, "gemini", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, wait)
}

func TestRateLimitedHintBoundedByMaxWaitWithoutMaxDelay(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(true)
	c := newTestController(Config{MaxWait: 2 * time.Minute}, clock)

	wait, err := c.RateLimited(context.Background(), "openai", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, wait)
	assert.Equal(t, []time.Duration{2 * time.Minute}, clock.Slept())
}

func TestRateLimitedBlocksOtherCallers(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(false)
	c := newTestController(Config{BaseDelay: 8 * time.Second, MaxDelay: time.Minute, MaxExponent: 3}, clock)
	ctx := context.Background()

	_, err := c.RateLimited(ctx, "openai", 0)
	require.NoError(t, err)
	require.NoError(t, c.Wait(ctx, "openai"))

	assert.Equal(t, []time.Duration{8 * time.Second, 8 * time.Second}, clock.Slept())
}

func TestWaitHonorsCancellation(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	c.Register("gemini", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Wait(ctx, "gemini"))
	cancel()

	err := c.Wait(ctx, "gemini")
	require.ErrorIs(t, err, context.Canceled)
}
