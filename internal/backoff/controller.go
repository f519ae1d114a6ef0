// Package backoff spaces requests per provider and applies escalating waits
// after rate-limit rejections. One Controller is shared by every worker of a
// run so that the combined request rate never exceeds a provider's quota.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrWaitTooLong is returned when the next free slot lies beyond Config.MaxWait.
var ErrWaitTooLong = errors.New("backoff: wait exceeds limit")

// Config bounds every wait the controller may impose.
type Config struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxExponent int
	MaxWait     time.Duration
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes a Controller.
type Option func(*Controller)

// WithSleeper replaces the timer-based sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleep = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

type providerState struct {
	limiter       *rate.Limiter
	failures      int
	lastRequestAt time.Time
	blockedUntil  time.Time
}

// Controller holds per-provider spacing and failure state for one run.
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*providerState
	sleep  Sleeper
	now    func() time.Time
}

// New builds a controller. Providers not registered explicitly are unthrottled.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		states: map[string]*providerState{},
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register sets the minimum spacing between requests to engineID.
// A zero interval disables spacing.
func (c *Controller) Register(engineID string, interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	c.states[engineID] = &providerState{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until engineID may receive the next request. The slot is
// reserved before sleeping, so concurrent callers are spaced apart.
func (c *Controller) Wait(ctx context.Context, engineID string) error {
	c.mu.Lock()
	st := c.state(engineID)
	now := c.now()

	reservation := st.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		c.mu.Unlock()
		return fmt.Errorf("backoff: %s cannot be reserved", engineID)
	}

	delay := reservation.DelayFrom(now)
	if blocked := st.blockedUntil.Sub(now); blocked > delay {
		delay = blocked
	}
	if c.cfg.MaxWait > 0 && delay > c.cfg.MaxWait {
		reservation.CancelAt(now)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s needs %s", ErrWaitTooLong, engineID, delay)
	}
	st.lastRequestAt = now.Add(delay)
	c.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	if err := c.sleep(ctx, delay); err != nil {
		reservation.CancelAt(c.now())
		return err
	}
	return nil
}

// RateLimited records a rate-limit rejection and blocks for the penalty:
// the larger of hint and Penalty(previous failures), never above MaxDelay
// (or MaxWait when MaxDelay is unset).
// The provider stays blocked for other callers until the penalty ends.
func (c *Controller) RateLimited(ctx context.Context, engineID string, hint time.Duration) (time.Duration, error) {
	c.mu.Lock()
	st := c.state(engineID)
	wait := c.Penalty(st.failures)
	st.failures++
	if hint > wait {
		wait = hint
	}
	if ceiling := c.penaltyCeiling(); ceiling > 0 && wait > ceiling {
		wait = ceiling
	}
	until := c.now().Add(wait)
	if until.After(st.blockedUntil) {
		st.blockedUntil = until
	}
	c.mu.Unlock()

	if wait <= 0 {
		return 0, nil
	}
	return wait, c.sleep(ctx, wait)
}

// Succeeded resets the failure streak of engineID.
func (c *Controller) Succeeded(engineID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state(engineID).failures = 0
}

// Failures returns the current failure streak of engineID.
func (c *Controller) Failures(engineID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(engineID).failures
}

// LastRequestAt returns when the latest slot for engineID was granted.
func (c *Controller) LastRequestAt(engineID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(engineID).lastRequestAt
}

// Penalty returns BaseDelay * 2^min(failures, MaxExponent), capped at MaxDelay.
func (c *Controller) Penalty(failures int) time.Duration {
	if c.cfg.BaseDelay <= 0 {
		return 0
	}
	exp := failures
	if exp < 0 {
		exp = 0
	}
	if exp > c.cfg.MaxExponent {
		exp = c.cfg.MaxExponent
	}

	penalty := c.cfg.BaseDelay
	for i := 0; i < exp; i++ {
		penalty *= 2
		if c.cfg.MaxDelay > 0 && penalty >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if c.cfg.MaxDelay > 0 && penalty > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return penalty
}

func (c *Controller) penaltyCeiling() time.Duration {
	if c.cfg.MaxDelay > 0 {
		return c.cfg.MaxDelay
	}
	return c.cfg.MaxWait
}

// state must be called with mu held.
func (c *Controller) state(engineID string) *providerState {
	st, ok := c.states[engineID]
	if !ok {
		st = &providerState{limiter: rate.NewLimiter(rate.Inf, 1)}
		c.states[engineID] = st
	}
	return st
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
