package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultMaxAge   = 7 * 24 * time.Hour
	DefaultSchedule = "@hourly"
)

// Retention prunes messages older than MaxAge on a cron schedule.
type Retention struct {
	store    *Store
	maxAge   time.Duration
	schedule string
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRetention creates a retention job. Zero values select DefaultMaxAge and
// DefaultSchedule.
func NewRetention(store *Store, maxAge time.Duration, schedule string) *Retention {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Retention{
		store:    store,
		maxAge:   maxAge,
		schedule: schedule,
		now:      time.Now,
	}
}

// RunOnce prunes immediately.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	return r.store.Prune(ctx, r.now().Add(-r.maxAge))
}

// Start validates the schedule and starts the job.
func (r *Retention) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("retention is already running")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, r.prune); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", r.schedule, err)
	}
	c.Start()

	r.cron = c
	r.running = true
	r.store.logger.Info().
		Str("schedule", r.schedule).
		Dur("max_age", r.maxAge).
		Msg("History retention started")
	return nil
}

// Stop stops the job and waits for a running prune to finish.
func (r *Retention) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		r.store.logger.Info().Msg("History retention stopped")
	}
}

func (r *Retention) prune() {
	if _, err := r.RunOnce(context.Background()); err != nil {
		r.store.logger.Error().Err(err).Msg("History retention failed")
	}
}
