package core

import "time"

// Event is the interface for all dispatch events.
type Event interface {
	eventMarker()
}

// OperationCreated is emitted when an operation is persisted as pending.
type OperationCreated struct {
	Operation *OperationRecord
	Timestamp time.Time
}

func (*OperationCreated) eventMarker() {}

// OperationClaimed is emitted when a worker poll claims a pending operation.
type OperationClaimed struct {
	Operation *OperationRecord
	ClientID  string
	Timestamp time.Time
}

func (*OperationClaimed) eventMarker() {}

// OperationCompleted is emitted when a worker reports success.
type OperationCompleted struct {
	Operation *OperationRecord
	Duration  time.Duration
	Timestamp time.Time
}

func (*OperationCompleted) eventMarker() {}

// OperationFailed is emitted when a worker reports failure.
type OperationFailed struct {
	Operation *OperationRecord
	Timestamp time.Time
}

func (*OperationFailed) eventMarker() {}

// OperationsReaped is emitted when the reaper fails stale operations.
type OperationsReaped struct {
	Count     int64
	Timeout   time.Duration
	Timestamp time.Time
}

func (*OperationsReaped) eventMarker() {}
