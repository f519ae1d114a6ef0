package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ImpactScanner/internal/ports"
)

// CronScheduler drives jobs from a standard five-field cron expression.
type CronScheduler struct {
	spec       string
	location   *time.Location
	logger     cron.Logger
	runOnStart bool

	mu   sync.Mutex
	cron *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// Option customizes a CronScheduler.
type Option func(*CronScheduler)

// WithLocation evaluates the expression in loc instead of UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *CronScheduler) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithLogger routes cron's own diagnostics to l.
func WithLogger(l *log.Logger) Option {
	return func(c *CronScheduler) {
		if l != nil {
			c.logger = cron.PrintfLogger(l)
		}
	}
}

// WithRunOnStart fires the job once as soon as Start is called.
func WithRunOnStart() Option {
	return func(c *CronScheduler) {
		c.runOnStart = true
	}
}

// NewCronScheduler validates spec and builds a stopped scheduler.
func NewCronScheduler(spec string, opts ...Option) (*CronScheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}

	c := &CronScheduler{
		spec:     spec,
		location: time.UTC,
		logger:   cron.DiscardLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start registers job and begins ticking. Overlapping firings are skipped
// and a panicking job does not take the scheduler down. The scheduler stops
// when ctx is cancelled.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	runner := cron.New(
		cron.WithLocation(c.location),
		cron.WithLogger(c.logger),
		cron.WithChain(cron.Recover(c.logger), cron.SkipIfStillRunning(c.logger)),
	)
	if _, err := runner.AddFunc(c.spec, func() { job(time.Now().In(c.location)) }); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	c.cron = runner
	runner.Start()

	if c.runOnStart {
		go job(time.Now().In(c.location))
	}

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop halts the scheduler and waits for a running job until ctx expires.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	runner := c.cron
	c.cron = nil
	c.mu.Unlock()

	if runner == nil {
		return nil
	}

	select {
	case <-runner.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when the expression fires after t.
func (c *CronScheduler) Next(t time.Time) time.Time {
	schedule, err := cron.ParseStandard(c.spec)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(t.In(c.location))
}
