package core

import (
	"context"
	"time"
)

// Starter is the interface for long-running components started by main.
type Starter interface {
	Start(ctx context.Context) error
}

// Storage defines the durable persistence layer for operations and worker
// bindings. Both tables survive process restarts; workers and polling UIs
// operate across possibly-restarting server processes.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Operation lifecycle
	CreateOperation(ctx context.Context, op *OperationRecord) error
	// CreateOperations persists a batch of sibling operations in a single
	// transaction; either all are created or none.
	CreateOperations(ctx context.Context, ops []*OperationRecord) error
	// ClaimPending atomically transitions up to limit pending operations
	// assigned to clientID into in_progress and returns them. No operation
	// is ever returned by more than one call, even under concurrent polls
	// for the same client id.
	ClaimPending(ctx context.Context, clientID string, limit int) ([]*OperationRecord, error)
	// ReapStale fails in_progress operations whose started_at is older than
	// timeout. Idempotent; returns the number of operations failed.
	ReapStale(ctx context.Context, timeout time.Duration) (int64, error)

	// Reporting. All three are legal only while the operation is
	// in_progress; against any other state they are no-ops returning
	// applied=false, tolerating duplicate or retried worker reports.
	UpdateProgress(ctx context.Context, opID string, p Progress) (applied bool, err error)
	Complete(ctx context.Context, opID string, resultData []byte) (applied bool, err error)
	Fail(ctx context.Context, opID string, errMsg string) (applied bool, err error)

	// Queries
	GetOperation(ctx context.Context, opID string) (*OperationRecord, error)
	GetBatch(ctx context.Context, batchID string) ([]*OperationRecord, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]*OperationRecord, error)

	// Worker bindings
	UpsertBinding(ctx context.Context, userID, clientID string) error
	GetBinding(ctx context.Context, userID string) (*WorkerBinding, error)
	GetBindingByClient(ctx context.Context, clientID string) (*WorkerBinding, error)
	// TouchBinding refreshes last_seen for the binding holding clientID.
	// Returns false if no such binding exists.
	TouchBinding(ctx context.Context, clientID string) (bool, error)
	DeleteBinding(ctx context.Context, userID string) error
}
