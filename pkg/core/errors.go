package core

import "errors"

// Precondition errors, surfaced at creation time before any state exists.
var (
	ErrNoWorkerAvailable = errors.New("saverelay: no worker bound for user")
	ErrWorkerOffline     = errors.New("saverelay: bound worker is offline")
)

// Validation errors.
var (
	ErrUnknownKind       = errors.New("saverelay: unknown operation kind")
	ErrInvalidPayload    = errors.New("saverelay: invalid operation payload")
	ErrPayloadTooLarge   = errors.New("saverelay: operation payload exceeds size limit")
	ErrInvalidClientID   = errors.New("saverelay: invalid client id")
	ErrInvalidUserID     = errors.New("saverelay: invalid user id")
	ErrEmptyBatch        = errors.New("saverelay: batch contains no operations")
	ErrBatchTooLarge     = errors.New("saverelay: batch exceeds size limit")
	ErrOperationNotFound = errors.New("saverelay: operation not found")
	ErrBatchNotFound     = errors.New("saverelay: batch not found")
)

// ErrorCode maps an error to the boundary error code exposed to clients,
// or "" if the error has no dedicated code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNoWorkerAvailable):
		return "NoWorkerAvailable"
	case errors.Is(err, ErrWorkerOffline):
		return "WorkerOffline"
	default:
		return ""
	}
}
