// Package reaper runs the stuck-operation reaper as an explicit background
// task. The engine already reaps opportunistically on every worker poll;
// this loop bounds worst-case staleness when no worker is polling.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/saverelay/saverelay/pkg/core"
	"github.com/saverelay/saverelay/pkg/schedule"
)

// DefaultInterval is how often the background reaper scans when no
// schedule is configured.
const DefaultInterval = 5 * time.Minute

// Reaper periodically fails operations stuck in_progress beyond the
// timeout. Running repeatedly has no additional effect on already-failed
// records.
//
// Reaper implements core.Starter.
type Reaper struct {
	storage core.Storage
	timeout time.Duration
	sched   schedule.Schedule
	logger  *slog.Logger
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithTimeout sets the stuck-operation timeout. Must match the engine's
// reap timeout so both paths record the same failure message.
func WithTimeout(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithSchedule sets the scan schedule.
func WithSchedule(s schedule.Schedule) Option {
	return func(r *Reaper) {
		if s != nil {
			r.sched = s
		}
	}
}

// WithLogger sets the reaper logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reaper) {
		if l != nil {
			r.logger = l
		}
	}
}

var _ core.Starter = (*Reaper)(nil)

// New creates a Reaper over the given storage.
func New(s core.Storage, opts ...Option) *Reaper {
	r := &Reaper{
		storage: s,
		timeout: 30 * time.Minute,
		sched:   schedule.Every(DefaultInterval),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce performs a single reap scan.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	return r.storage.ReapStale(ctx, r.timeout)
}

// Start runs the reap loop until the context is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	for {
		next := r.sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		reaped, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("reap scan failed", "error", err)
			continue
		}
		if reaped > 0 {
			r.logger.Warn("reaped stale operations", "count", reaped, "timeout", r.timeout)
		}
	}
}
