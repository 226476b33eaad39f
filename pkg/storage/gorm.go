// Package storage provides the GORM-backed Storage implementation for SaveRelay.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/saverelay/saverelay/pkg/core"
	"github.com/saverelay/saverelay/pkg/security"
)

// GormStorage implements core.Storage using GORM. It works against SQLite
// and PostgreSQL; on PostgreSQL the claim query uses FOR UPDATE SKIP LOCKED
// so concurrent polls for the same client never contend on the same rows.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB exposes the underlying gorm handle (used by the api package for
// ad-hoc listing queries and by tests).
func (s *GormStorage) DB() *gorm.DB { return s.db }

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.OperationRecord{}, &core.WorkerBinding{})
}

// CreateOperation persists a single pending operation.
func (s *GormStorage) CreateOperation(ctx context.Context, op *core.OperationRecord) error {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.Status == "" {
		op.Status = core.StatusPending
	}
	return s.db.WithContext(ctx).Create(op).Error
}

// CreateOperations persists a batch of sibling operations in one transaction.
func (s *GormStorage) CreateOperations(ctx context.Context, ops []*core.OperationRecord) error {
	if len(ops) == 0 {
		return core.ErrEmptyBatch
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			if op.ID == "" {
				op.ID = uuid.New().String()
			}
			if op.Status == "" {
				op.Status = core.StatusPending
			}
			if err := tx.Create(op).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ClaimPending atomically transitions pending operations assigned to
// clientID into in_progress and returns them.
//
// The per-row update is guarded by `status = pending`, so a row already
// taken by a concurrent poll is skipped rather than double-claimed. On
// PostgreSQL the select additionally locks rows with SKIP LOCKED.
func (s *GormStorage) ClaimPending(ctx context.Context, clientID string, limit int) ([]*core.OperationRecord, error) {
	limit = security.ClampClaimLimit(limit)
	now := time.Now()

	var claimed []*core.OperationRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("assigned_worker = ?", clientID).
			Where("status = ?", core.StatusPending).
			Order("created_at ASC").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var pending []core.OperationRecord
		if err := q.Find(&pending).Error; err != nil {
			return err
		}

		for i := range pending {
			op := pending[i]
			result := tx.Model(&core.OperationRecord{}).
				Where("id = ? AND status = ?", op.ID, core.StatusPending).
				Updates(map[string]any{
					"status":     core.StatusInProgress,
					"started_at": now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// Lost the race to a concurrent poll; skip.
				continue
			}
			op.Status = core.StatusInProgress
			op.StartedAt = &now
			claimed = append(claimed, &op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReapStale fails in_progress operations started before now-timeout.
func (s *GormStorage) ReapStale(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.OperationRecord{}).
		Where("status = ?", core.StatusInProgress).
		Where("started_at < ?", cutoff).
		Updates(map[string]any{
			"status":        core.StatusFailed,
			"error_message": core.TimeoutMessage(timeout),
			"finished_at":   now,
		})
	return result.RowsAffected, result.Error
}

// UpdateProgress stores the latest progress payload. Legal only while the
// operation is in_progress; otherwise a no-op returning applied=false.
func (s *GormStorage) UpdateProgress(ctx context.Context, opID string, p core.Progress) (bool, error) {
	p = p.Normalize()
	result := s.db.WithContext(ctx).
		Model(&core.OperationRecord{}).
		Where("id = ? AND status = ?", opID, core.StatusInProgress).
		Updates(map[string]any{
			"progress_current": p.Current,
			"progress_total":   p.Total,
			"progress_message": p.Message,
			"progress_percent": p.Percentage,
		})
	return result.RowsAffected > 0, result.Error
}

// Complete marks an in_progress operation completed with its result data.
// Duplicate reports are no-ops.
func (s *GormStorage) Complete(ctx context.Context, opID string, resultData []byte) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.OperationRecord{}).
		Where("id = ? AND status = ?", opID, core.StatusInProgress).
		Updates(map[string]any{
			"status":      core.StatusCompleted,
			"result_data": resultData,
			"finished_at": now,
		})
	return result.RowsAffected > 0, result.Error
}

// Fail marks an in_progress operation failed with a sanitized error
// message. Duplicate reports are no-ops.
func (s *GormStorage) Fail(ctx context.Context, opID string, errMsg string) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.OperationRecord{}).
		Where("id = ? AND status = ?", opID, core.StatusInProgress).
		Updates(map[string]any{
			"status":        core.StatusFailed,
			"error_message": security.SanitizeErrorMessage(errMsg),
			"finished_at":   now,
		})
	return result.RowsAffected > 0, result.Error
}

// GetOperation retrieves an operation by id, or nil if not found.
func (s *GormStorage) GetOperation(ctx context.Context, opID string) (*core.OperationRecord, error) {
	var op core.OperationRecord
	err := s.db.WithContext(ctx).First(&op, "id = ?", opID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// GetBatch retrieves all sibling operations sharing a batch id.
func (s *GormStorage) GetBatch(ctx context.Context, batchID string) ([]*core.OperationRecord, error) {
	var ops []*core.OperationRecord
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&ops).Error
	return ops, err
}

// ListByOwner retrieves the most recent operations for an owner.
func (s *GormStorage) ListByOwner(ctx context.Context, owner string, limit int) ([]*core.OperationRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var ops []*core.OperationRecord
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at DESC").
		Limit(limit).
		Find(&ops).Error
	return ops, err
}

// UpsertBinding creates or refreshes the user's worker binding.
func (s *GormStorage) UpsertBinding(ctx context.Context, userID, clientID string) error {
	now := time.Now()
	binding := &core.WorkerBinding{
		UserID:   userID,
		ClientID: clientID,
		LastSeen: now,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{"client_id": clientID, "last_seen": now}),
		}).
		Create(binding).Error
}

// GetBinding retrieves a user's worker binding, or nil if absent.
func (s *GormStorage) GetBinding(ctx context.Context, userID string) (*core.WorkerBinding, error) {
	var b core.WorkerBinding
	err := s.db.WithContext(ctx).First(&b, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBindingByClient retrieves the binding holding clientID, or nil.
func (s *GormStorage) GetBindingByClient(ctx context.Context, clientID string) (*core.WorkerBinding, error) {
	var b core.WorkerBinding
	err := s.db.WithContext(ctx).First(&b, "client_id = ?", clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// TouchBinding refreshes last_seen for the binding holding clientID.
func (s *GormStorage) TouchBinding(ctx context.Context, clientID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&core.WorkerBinding{}).
		Where("client_id = ?", clientID).
		Update("last_seen", time.Now())
	return result.RowsAffected > 0, result.Error
}

// DeleteBinding removes the user's worker binding. Removing a missing
// binding is not an error.
func (s *GormStorage) DeleteBinding(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&core.WorkerBinding{}).Error
}
