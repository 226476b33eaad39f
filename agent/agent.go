// Package agent implements the SaveRelay client worker process: it
// registers against the dispatch API, heartbeats on an interval, polls for
// assigned operations, executes them through a pluggable transfer
// executor, and reports progress and completion back.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saverelay/saverelay/pkg/core"
	"github.com/saverelay/saverelay/pkg/registry"
)

// Config holds agent configuration.
type Config struct {
	// UserID is the authenticated user this worker represents.
	UserID string
	// ClientID identifies this worker process. Defaults to a new UUID.
	ClientID string
	// PollInterval is how often the agent asks for work. Default: 5s.
	PollInterval time.Duration
	// HeartbeatInterval defaults to the registry's 15s.
	HeartbeatInterval time.Duration
	// ReportRetry governs retry of reporting calls. Defaults to
	// DefaultRetryConfig.
	ReportRetry *RetryConfig
}

// Agent is a client worker process.
type Agent struct {
	client   *Client
	executor TransferExecutor
	config   Config
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an agent polling the given dispatch API.
func New(client *Client, executor TransferExecutor, cfg Config, opts ...Option) *Agent {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.New().String()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = registry.DefaultHeartbeatInterval
	}
	if cfg.ReportRetry == nil {
		retryCfg := DefaultRetryConfig()
		cfg.ReportRetry = &retryCfg
	}

	a := &Agent{
		client:   client,
		executor: executor,
		config:   cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ClientID returns the worker's identity.
func (a *Agent) ClientID() string { return a.config.ClientID }

// Start registers the worker and runs the heartbeat and poll loops.
// Blocks until the context is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.client.Register(ctx, a.config.UserID, a.config.ClientID); err != nil {
		return err
	}
	a.logger.Info("worker registered", "client_id", a.config.ClientID, "user_id", a.config.UserID)

	a.wg.Add(1)
	go a.heartbeatLoop(ctx)

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			ops, err := a.client.Poll(ctx, a.config.ClientID)
			if err != nil {
				a.logger.Error("poll failed", "error", err)
				continue
			}
			for _, op := range ops {
				a.processOperation(ctx, op)
			}
		}
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.client.Heartbeat(ctx, a.config.ClientID); err != nil {
				a.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (a *Agent) processOperation(ctx context.Context, op Operation) {
	a.logger.Info("executing operation", "operation_id", op.OperationID, "kind", op.Kind)

	report := func(p core.Progress) {
		// Fire-and-forget: progress is advisory and may race; the server
		// applies last-write-wins.
		if err := a.client.ReportProgress(ctx, op.OperationID, p); err != nil {
			a.logger.Debug("progress report failed", "operation_id", op.OperationID, "error", err)
		}
	}

	resultData, execErr := a.execute(ctx, op, report)

	var reportErr error
	if execErr != nil {
		a.logger.Error("operation failed", "operation_id", op.OperationID, "error", execErr)
		reportErr = retryWithBackoff(ctx, *a.config.ReportRetry, func() error {
			return a.client.ReportCompletion(ctx, op.OperationID, false, nil, execErr.Error())
		})
	} else {
		a.logger.Info("operation completed", "operation_id", op.OperationID)
		reportErr = retryWithBackoff(ctx, *a.config.ReportRetry, func() error {
			return a.client.ReportCompletion(ctx, op.OperationID, true, resultData, "")
		})
	}
	if reportErr != nil {
		// The reaper will eventually fail the operation server-side.
		a.logger.Error("completion report failed after retries",
			"operation_id", op.OperationID, "error", reportErr)
	}
}

func (a *Agent) execute(ctx context.Context, op Operation, report ProgressFunc) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.executor.Execute(ctx, op, report)
}
