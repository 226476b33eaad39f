package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OperationStatus represents the current state of an operation.
//
// Transitions are monotonic: pending -> in_progress -> {completed, failed}.
// There is no transition out of a terminal state.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusInProgress OperationStatus = "in_progress"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
)

// Terminal reports whether the status is completed or failed.
func (s OperationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OperationKind identifies the type of file operation a worker executes.
type OperationKind string

const (
	KindSave                OperationKind = "save"
	KindLoad                OperationKind = "load"
	KindDeleteFolder        OperationKind = "delete_folder"
	KindDeleteAll           OperationKind = "delete_all"
	KindDeleteGameDirectory OperationKind = "delete_game_directory"
	KindOpenLocation        OperationKind = "open_location"
)

// Kinds lists every known operation kind.
var Kinds = []OperationKind{
	KindSave,
	KindLoad,
	KindDeleteFolder,
	KindDeleteAll,
	KindDeleteGameDirectory,
	KindOpenLocation,
}

// Valid reports whether the kind is a known operation kind.
func (k OperationKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// OperationRecord is one unit of dispatched work, durably stored.
//
// AssignedWorker is never empty: creation fails with ErrNoWorkerAvailable
// or ErrWorkerOffline rather than persisting an unassigned operation.
type OperationRecord struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	Kind           OperationKind   `gorm:"size:32;not null;index" json:"kind"`
	Owner          string          `gorm:"size:255;not null;index" json:"owner"`
	AssignedWorker string          `gorm:"size:255;not null;index:idx_worker_status" json:"assigned_worker"`
	Status         OperationStatus `gorm:"size:20;not null;default:'pending';index:idx_worker_status" json:"status"`
	BatchID        string          `gorm:"size:36;index" json:"batch_id,omitempty"`
	Payload        []byte          `gorm:"type:bytes" json:"payload,omitempty"`

	// Progress is advisory and UI-facing only; last write wins.
	ProgressCurrent int     `gorm:"default:0" json:"progress_current"`
	ProgressTotal   int     `gorm:"default:0" json:"progress_total"`
	ProgressMessage string  `gorm:"size:1024" json:"progress_message,omitempty"`
	ProgressPercent float64 `gorm:"default:0" json:"progress_percent"`

	ResultData   []byte `gorm:"type:bytes" json:"result_data,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	StartedAt  *time.Time `gorm:"index" json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TableName returns the table name for OperationRecord.
func (OperationRecord) TableName() string { return "operations" }

// BeforeCreate generates a UUID if not set.
func (o *OperationRecord) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	return nil
}

// Progress is the structured progress payload reported by a worker while an
// operation is in progress.
type Progress struct {
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Message    string  `json:"message,omitempty"`
	Percentage float64 `json:"percentage"`
}

// Normalize derives Percentage from Current/Total when not supplied.
func (p Progress) Normalize() Progress {
	if p.Percentage == 0 && p.Total > 0 {
		p.Percentage = float64(p.Current) / float64(p.Total) * 100
	}
	if p.Percentage > 100 {
		p.Percentage = 100
	}
	return p
}

// Progress returns the latest reported progress payload.
func (o *OperationRecord) Progress() Progress {
	return Progress{
		Current:    o.ProgressCurrent,
		Total:      o.ProgressTotal,
		Message:    o.ProgressMessage,
		Percentage: o.ProgressPercent,
	}
}

// TimeoutMessage is the standard error message recorded by the reaper.
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("Operation timed out after %d minutes", int(timeout.Minutes()))
}
