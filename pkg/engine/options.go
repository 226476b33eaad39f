package engine

import (
	"log/slog"
	"time"

	"github.com/saverelay/saverelay/pkg/security"
)

// Defaults. The reap timeout must stay well above any client-side polling
// ceiling (a few minutes) so the server-side failed state is authoritative.
const (
	DefaultReapTimeout = 30 * time.Minute
	DefaultClaimLimit  = 25
)

// Config holds engine configuration.
type Config struct {
	// ReapTimeout is how long an operation may stay in_progress before the
	// reaper fails it.
	ReapTimeout time.Duration

	// ClaimLimit caps how many pending operations one poll may claim.
	ClaimLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithReapTimeout sets the stuck-operation timeout.
func WithReapTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cfg.ReapTimeout = d
		}
	}
}

// WithClaimLimit sets the per-poll claim limit.
func WithClaimLimit(n int) Option {
	return func(e *Engine) {
		e.cfg.ClaimLimit = security.ClampClaimLimit(n)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
