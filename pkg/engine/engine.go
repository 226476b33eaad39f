// Package engine implements the SaveRelay dispatch core: operation
// creation with worker-binding preconditions, exactly-once claim on worker
// polls, completion reporting, and status queries.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saverelay/saverelay/pkg/batch"
	"github.com/saverelay/saverelay/pkg/core"
	"github.com/saverelay/saverelay/pkg/registry"
	"github.com/saverelay/saverelay/pkg/security"
)

// Engine coordinates operation records between request handlers, the
// worker registry, and polling client workers.
type Engine struct {
	storage  core.Storage
	registry *registry.Registry
	logger   *slog.Logger
	cfg      Config
	mu       sync.RWMutex

	// Hooks
	onComplete []func(context.Context, *core.OperationRecord)
	onFail     []func(context.Context, *core.OperationRecord)

	// Event stream
	eventSubs []chan core.Event
}

// New creates an Engine over the given storage and registry.
func New(s core.Storage, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		storage:  s,
		registry: reg,
		logger:   slog.Default(),
		cfg: Config{
			ReapTimeout: DefaultReapTimeout,
			ClaimLimit:  DefaultClaimLimit,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Storage returns the underlying storage.
func (e *Engine) Storage() core.Storage { return e.storage }

// Registry returns the worker registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// ReapTimeout returns the configured stuck-operation timeout.
func (e *Engine) ReapTimeout() time.Duration { return e.cfg.ReapTimeout }

// BatchItem is one sub-operation of a batch create request.
type BatchItem struct {
	Kind    core.OperationKind
	Payload json.RawMessage
}

// resolveWorker resolves the user's bound worker and checks it is online.
// This is the hard precondition for creation: no record is persisted when
// it fails, so no operation can ever be queued for a worker that will
// never claim it.
func (e *Engine) resolveWorker(ctx context.Context, userID string) (*core.WorkerBinding, error) {
	binding, err := e.registry.Binding(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve worker binding: %w", err)
	}
	if binding == nil {
		return nil, core.ErrNoWorkerAvailable
	}
	if !binding.Online(e.registry.OfflineTimeout()) {
		return nil, core.ErrWorkerOffline
	}
	return binding, nil
}

// Create validates the payload and persists one pending operation assigned
// to the user's bound online worker. Fails with ErrNoWorkerAvailable or
// ErrWorkerOffline before any state exists.
func (e *Engine) Create(ctx context.Context, userID string, kind core.OperationKind, payload json.RawMessage) (*core.OperationRecord, error) {
	if err := security.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := security.ValidatePayloadSize(payload); err != nil {
		return nil, err
	}
	if _, err := core.DecodePayload(kind, payload); err != nil {
		return nil, err
	}

	binding, err := e.resolveWorker(ctx, userID)
	if err != nil {
		return nil, err
	}

	op := &core.OperationRecord{
		ID:             uuid.New().String(),
		Kind:           kind,
		Owner:          userID,
		AssignedWorker: binding.ClientID,
		Status:         core.StatusPending,
		Payload:        payload,
	}
	if err := e.storage.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("create operation: %w", err)
	}

	e.Emit(&core.OperationCreated{Operation: op, Timestamp: time.Now()})
	e.logger.Debug("operation created",
		"operation_id", op.ID, "kind", op.Kind, "worker", op.AssignedWorker)
	return op, nil
}

// CreateBatch persists sibling operations sharing one batch id, all bound
// to the same worker snapshot taken once at the start. If the worker goes
// offline mid-batch, already-created records stay valid but no further
// ones are created.
func (e *Engine) CreateBatch(ctx context.Context, userID string, items []BatchItem) ([]*core.OperationRecord, error) {
	if err := security.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := security.ValidateBatchSize(len(items)); err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := security.ValidatePayloadSize(item.Payload); err != nil {
			return nil, err
		}
		if _, err := core.DecodePayload(item.Kind, item.Payload); err != nil {
			return nil, err
		}
	}

	// One worker snapshot for the whole batch.
	binding, err := e.resolveWorker(ctx, userID)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New().String()
	created := make([]*core.OperationRecord, 0, len(items))
	for i, item := range items {
		if i > 0 {
			// Going offline mid-batch does not invalidate earlier records,
			// but stops further creation.
			online, onlineErr := e.registry.IsOnline(ctx, binding.ClientID)
			if onlineErr != nil {
				return created, onlineErr
			}
			if !online {
				e.logger.Warn("worker went offline mid-batch",
					"batch_id", batchID, "worker", binding.ClientID, "created", len(created))
				break
			}
		}

		op := &core.OperationRecord{
			ID:             uuid.New().String(),
			Kind:           item.Kind,
			Owner:          userID,
			AssignedWorker: binding.ClientID,
			Status:         core.StatusPending,
			BatchID:        batchID,
			Payload:        item.Payload,
		}
		if err := e.storage.CreateOperation(ctx, op); err != nil {
			return created, fmt.Errorf("create batch operation: %w", err)
		}
		e.Emit(&core.OperationCreated{Operation: op, Timestamp: time.Now()})
		created = append(created, op)
	}
	return created, nil
}

// Poll runs the stale-operation reaper, then atomically claims pending
// operations assigned to clientID. Claim is exactly-once: no record is
// ever returned to more than one poll call.
func (e *Engine) Poll(ctx context.Context, clientID string) ([]*core.OperationRecord, error) {
	if err := security.ValidateClientID(clientID); err != nil {
		return nil, err
	}

	// Reap opportunistically on every poll; cheap and idempotent. The
	// background reaper bounds staleness when no worker is polling.
	if reaped, err := e.storage.ReapStale(ctx, e.cfg.ReapTimeout); err != nil {
		e.logger.Error("reap on poll failed", "error", err)
	} else if reaped > 0 {
		e.logger.Warn("reaped stale operations", "count", reaped)
		e.Emit(&core.OperationsReaped{Count: reaped, Timeout: e.cfg.ReapTimeout, Timestamp: time.Now()})
	}

	claimed, err := e.storage.ClaimPending(ctx, clientID, e.cfg.ClaimLimit)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	for _, op := range claimed {
		e.Emit(&core.OperationClaimed{Operation: op, ClientID: clientID, Timestamp: time.Now()})
	}
	return claimed, nil
}

// ReportProgress stores a progress update for an in_progress operation.
// Reports against any other state are no-ops; concurrent reports race
// last-write-wins, which is fine for an advisory payload.
func (e *Engine) ReportProgress(ctx context.Context, opID string, p core.Progress) error {
	_, err := e.storage.UpdateProgress(ctx, opID, p)
	return err
}

// ReportCompletion records a worker's final report. Only legal while the
// operation is in_progress; duplicate or retried reports are no-ops, so the
// record keeps the state set by the first report.
func (e *Engine) ReportCompletion(ctx context.Context, opID string, success bool, resultData []byte, errMsg string) error {
	var applied bool
	var err error
	if success {
		applied, err = e.storage.Complete(ctx, opID, resultData)
	} else {
		applied, err = e.storage.Fail(ctx, opID, errMsg)
	}
	if err != nil {
		return fmt.Errorf("report completion: %w", err)
	}
	if !applied {
		return nil
	}

	op, err := e.storage.GetOperation(ctx, opID)
	if err != nil || op == nil {
		return err
	}

	if success {
		var dur time.Duration
		if op.StartedAt != nil && op.FinishedAt != nil {
			dur = op.FinishedAt.Sub(*op.StartedAt)
		}
		e.Emit(&core.OperationCompleted{Operation: op, Duration: dur, Timestamp: time.Now()})
		e.callCompleteHooks(ctx, op)
	} else {
		e.Emit(&core.OperationFailed{Operation: op, Timestamp: time.Now()})
		e.callFailHooks(ctx, op)
	}
	return nil
}

// Status is the polling-client view of one operation.
type Status struct {
	OperationID string               `json:"operation_id"`
	Status      core.OperationStatus `json:"status"`
	Completed   bool                 `json:"completed"`
	Failed      bool                 `json:"failed"`
	Progress    core.Progress        `json:"progress"`
	Message     string               `json:"message,omitempty"`
	ResultData  json.RawMessage      `json:"result_data,omitempty"`
}

// GetStatus returns the derived status view for one operation.
func (e *Engine) GetStatus(ctx context.Context, opID string) (*Status, error) {
	op, err := e.storage.GetOperation(ctx, opID)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, core.ErrOperationNotFound
	}
	return statusOf(op), nil
}

func statusOf(op *core.OperationRecord) *Status {
	msg := op.ProgressMessage
	if op.Status == core.StatusFailed {
		msg = op.ErrorMessage
	}
	return &Status{
		OperationID: op.ID,
		Status:      op.Status,
		Completed:   op.Status == core.StatusCompleted,
		Failed:      op.Status == core.StatusFailed,
		Progress:    op.Progress(),
		Message:     msg,
		ResultData:  op.ResultData,
	}
}

// BatchStatus is the polling-client view of a batch of siblings.
type BatchStatus struct {
	BatchID    string        `json:"batch_id"`
	Summary    batch.Summary `json:"summary"`
	Operations []*Status     `json:"operations"`
}

// GetBatchStatus aggregates sibling statuses into the tri-state batch
// outcome. The outcome stays "processing" until every sibling is terminal.
func (e *Engine) GetBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	ops, err := e.storage.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, core.ErrBatchNotFound
	}

	bs := &BatchStatus{
		BatchID:    batchID,
		Summary:    batch.Aggregate(ops),
		Operations: make([]*Status, len(ops)),
	}
	for i, op := range ops {
		bs.Operations[i] = statusOf(op)
	}
	return bs, nil
}

// ListOperations returns the owner's most recent operations.
func (e *Engine) ListOperations(ctx context.Context, owner string, limit int) ([]*core.OperationRecord, error) {
	if err := security.ValidateUserID(owner); err != nil {
		return nil, err
	}
	return e.storage.ListByOwner(ctx, owner, limit)
}

// --- Hooks ---

// OnOperationComplete registers a callback fired once per successful
// completion. Callers use this to apply conditional side effects on parent
// resources (a resource is removed only when its operation succeeded).
func (e *Engine) OnOperationComplete(fn func(context.Context, *core.OperationRecord)) {
	e.mu.Lock()
	e.onComplete = append(e.onComplete, fn)
	e.mu.Unlock()
}

// OnOperationFail registers a callback fired once per failure report.
func (e *Engine) OnOperationFail(fn func(context.Context, *core.OperationRecord)) {
	e.mu.Lock()
	e.onFail = append(e.onFail, fn)
	e.mu.Unlock()
}

func (e *Engine) callCompleteHooks(ctx context.Context, op *core.OperationRecord) {
	e.mu.RLock()
	hooks := make([]func(context.Context, *core.OperationRecord), len(e.onComplete))
	copy(hooks, e.onComplete)
	e.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, op)
	}
}

func (e *Engine) callFailHooks(ctx context.Context, op *core.OperationRecord) {
	e.mu.RLock()
	hooks := make([]func(context.Context, *core.OperationRecord), len(e.onFail))
	copy(hooks, e.onFail)
	e.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, op)
	}
}

// --- Event stream ---

// Events returns a channel for receiving dispatch events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (e *Engine) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	e.mu.Lock()
	e.eventSubs = append(e.eventSubs, ch)
	e.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling
// Unsubscribe.
func (e *Engine) Unsubscribe(ch <-chan core.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.eventSubs {
		if sub == ch {
			e.eventSubs = append(e.eventSubs[:i], e.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (e *Engine) Emit(ev core.Event) {
	e.mu.RLock()
	subs := make([]chan core.Event, len(e.eventSubs))
	copy(subs, e.eventSubs)
	e.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Drop if full - this prevents blocking on slow consumers
		}
	}
}
