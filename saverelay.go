// Package saverelay provides a durable dispatch core for relaying save
// operations between request handlers and per-user client workers.
//
// This is the main package users should import. It re-exports all public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage, registry and engine
//	db, _ := gorm.Open(sqlite.Open("saverelay.db"), &gorm.Config{})
//	store := saverelay.NewGormStorage(db)
//	store.Migrate(context.Background())
//	reg := saverelay.NewRegistry(store)
//	eng := saverelay.New(store, reg)
//
//	// Worker side: register, then poll for assigned operations
//	reg.Bind(ctx, "user-1", "worker-abc")
//	ops, _ := eng.Poll(ctx, "worker-abc")
//
//	// Request side: create an operation for the user's bound worker
//	op, _ := eng.Create(ctx, "user-1", saverelay.KindSave, payload)
package saverelay

import (
	"time"

	"gorm.io/gorm"

	"github.com/saverelay/saverelay/pkg/batch"
	"github.com/saverelay/saverelay/pkg/core"
	"github.com/saverelay/saverelay/pkg/engine"
	"github.com/saverelay/saverelay/pkg/reaper"
	"github.com/saverelay/saverelay/pkg/registry"
	"github.com/saverelay/saverelay/pkg/schedule"
	"github.com/saverelay/saverelay/pkg/security"
	"github.com/saverelay/saverelay/pkg/storage"
)

// Type aliases re-exported from pkg/ packages
type (
	// OperationRecord is one durable dispatched operation.
	OperationRecord = core.OperationRecord

	// OperationStatus represents the current state of an operation.
	OperationStatus = core.OperationStatus

	// OperationKind identifies what kind of transfer an operation performs.
	OperationKind = core.OperationKind

	// Progress is the advisory progress payload attached to an operation.
	Progress = core.Progress

	// WorkerBinding maps a user session to its client worker.
	WorkerBinding = core.WorkerBinding

	// Storage defines the persistence layer for operations and bindings.
	Storage = core.Storage

	// Event is the interface for all dispatch events.
	Event = core.Event

	// OperationCreated is emitted when an operation is persisted.
	OperationCreated = core.OperationCreated

	// OperationClaimed is emitted when a worker claims an operation.
	OperationClaimed = core.OperationClaimed

	// OperationCompleted is emitted on a successful completion report.
	OperationCompleted = core.OperationCompleted

	// OperationFailed is emitted on a failure report or a reap.
	OperationFailed = core.OperationFailed

	// OperationsReaped is emitted when stuck operations are timed out.
	OperationsReaped = core.OperationsReaped

	// Engine coordinates creation, claiming, reporting and status queries.
	Engine = engine.Engine

	// BatchItem is one sub-operation of a batch create request.
	BatchItem = engine.BatchItem

	// Status is the polling-client view of one operation.
	Status = engine.Status

	// BatchStatus is the polling-client view of a batch of siblings.
	BatchStatus = engine.BatchStatus

	// Registry tracks worker bindings and heartbeat liveness.
	Registry = registry.Registry

	// AuthFunc reports whether a user is currently authenticated.
	AuthFunc = registry.AuthFunc

	// Reaper fails operations stuck in_progress beyond the timeout.
	Reaper = reaper.Reaper

	// BatchOutcome is the aggregated tri-state result of a batch.
	BatchOutcome = batch.Outcome

	// BatchSummary holds per-batch terminal counts and the outcome.
	BatchSummary = batch.Summary

	// Schedule defines when a recurring task should run next.
	Schedule = schedule.Schedule

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage
)

// Status constants
const (
	StatusPending    = core.StatusPending
	StatusInProgress = core.StatusInProgress
	StatusCompleted  = core.StatusCompleted
	StatusFailed     = core.StatusFailed
)

// Operation kind constants
const (
	KindSave                = core.KindSave
	KindLoad                = core.KindLoad
	KindDeleteFolder        = core.KindDeleteFolder
	KindDeleteAll           = core.KindDeleteAll
	KindDeleteGameDirectory = core.KindDeleteGameDirectory
	KindOpenLocation        = core.KindOpenLocation
)

// Batch outcome constants
const (
	BatchProcessing = batch.OutcomeProcessing
	BatchSuccess    = batch.OutcomeSuccess
	BatchPartial    = batch.OutcomePartial
	BatchFailure    = batch.OutcomeFailure
)

// Security limits
const (
	MaxPayloadSize        = security.MaxPayloadSize
	MaxBatchSize          = security.MaxBatchSize
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxClaimLimit         = security.MaxClaimLimit
)

// Error variables
var (
	ErrNoWorkerAvailable = core.ErrNoWorkerAvailable
	ErrWorkerOffline     = core.ErrWorkerOffline
	ErrUnknownKind       = core.ErrUnknownKind
	ErrInvalidPayload    = core.ErrInvalidPayload
	ErrPayloadTooLarge   = core.ErrPayloadTooLarge
	ErrEmptyBatch        = core.ErrEmptyBatch
	ErrBatchTooLarge     = core.ErrBatchTooLarge
	ErrOperationNotFound = core.ErrOperationNotFound
	ErrBatchNotFound     = core.ErrBatchNotFound
)

// New creates a dispatch Engine over the given storage and registry.
func New(s Storage, reg *Registry, opts ...engine.Option) *Engine {
	return engine.New(s, reg, opts...)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewRegistry creates a worker registry over the given storage.
func NewRegistry(s Storage, opts ...registry.Option) *Registry {
	return registry.New(s, opts...)
}

// NewReaper creates a background stuck-operation reaper.
func NewReaper(s Storage, opts ...reaper.Option) *Reaper {
	return reaper.New(s, opts...)
}

// AggregateBatch derives the tri-state batch outcome from sibling records.
func AggregateBatch(ops []*OperationRecord) BatchSummary {
	return batch.Aggregate(ops)
}

// ValidateUserID validates a user identifier.
func ValidateUserID(id string) error {
	return security.ValidateUserID(id)
}

// ValidateClientID validates a worker client identifier.
func ValidateClientID(id string) error {
	return security.ValidateClientID(id)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}

// TimeoutMessage returns the error message recorded on reaped operations.
func TimeoutMessage(timeout time.Duration) string {
	return core.TimeoutMessage(timeout)
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// DecodePayload validates and decodes a raw payload for the given kind.
func DecodePayload(kind OperationKind, raw []byte) (any, error) {
	return core.DecodePayload(kind, raw)
}
