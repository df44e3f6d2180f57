package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of work run on a cron schedule.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function into a Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name implements Job.
func (j JobFunc) Name() string { return j.JobName }

// Run implements Job.
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Cron runs jobs on second-resolution cron schedules.
type Cron struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewCron creates a cron runner. Each job run is bounded by timeout when it
// is positive.
func NewCron(timeout time.Duration, logger zerolog.Logger) *Cron {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cron{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger.With().Str("component", "cron").Logger(),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob registers job under schedule, e.g. "0 0 8 * * *" or "@every 1h".
func (c *Cron) AddJob(schedule string, job Job) error {
	_, err := c.cron.AddFunc(schedule, func() {
		ctx := c.ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		c.logger.Debug().Str("job", job.Name()).Msg("running job")
		if err := job.Run(ctx); err != nil {
			c.logger.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		c.logger.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name(), schedule, err)
	}
	c.logger.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// Len returns the number of registered jobs.
func (c *Cron) Len() int {
	return len(c.cron.Entries())
}

// Start begins running jobs in the background.
func (c *Cron) Start() {
	c.cron.Start()
	c.logger.Info().Msg("cron started")
}

// Stop cancels running jobs and waits for them to return.
func (c *Cron) Stop() {
	c.cancel()
	<-c.cron.Stop().Done()
	c.logger.Info().Msg("cron stopped")
}

// ValidateSchedule reports whether schedule parses with the seconds field.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}
