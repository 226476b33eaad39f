package engine_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/saverelay/saverelay/pkg/core"
	"github.com/saverelay/saverelay/pkg/engine"
	"github.com/saverelay/saverelay/pkg/registry"
	"github.com/saverelay/saverelay/pkg/storage"
)

var dbCounter atomic.Int64

const savePayload = `{"game_id":"g1","folder_name":"slot-1","path":"/saves/slot-1"}`

func setupEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *storage.GormStorage) {
	t.Helper()

	n := dbCounter.Add(1)
	dbPath := fmt.Sprintf("%s/saverelay_engine_test_%d_%d.db", os.TempDir(), os.Getpid(), n)
	t.Cleanup(func() { _ = os.Remove(dbPath) })

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	reg := registry.New(store)
	return engine.New(store, reg, opts...), store
}

func bindWorker(t *testing.T, e *engine.Engine, userID, clientID string) {
	t.Helper()
	require.NoError(t, e.Registry().Bind(context.Background(), userID, clientID))
}

func countOperations(t *testing.T, store *storage.GormStorage) int64 {
	t.Helper()
	var n int64
	require.NoError(t, store.DB().Model(&core.OperationRecord{}).Count(&n).Error)
	return n
}

func TestEngine_CreateRequiresBoundWorker(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	assert.ErrorIs(t, err, core.ErrNoWorkerAvailable)

	// The precondition failure leaves no trace: nothing to time out,
	// nothing to clean up.
	assert.Equal(t, int64(0), countOperations(t, store))
}

func TestEngine_CreateRequiresOnlineWorker(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")
	require.NoError(t, store.DB().Model(&core.WorkerBinding{}).
		Where("user_id = ?", "user-1").
		Update("last_seen", time.Now().Add(-time.Minute)).Error)

	_, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	assert.ErrorIs(t, err, core.ErrWorkerOffline)
	assert.Equal(t, int64(0), countOperations(t, store))
}

func TestEngine_Create(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")

	op, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, core.StatusPending, op.Status)
	assert.Equal(t, "worker-a", op.AssignedWorker)
	assert.Equal(t, "user-1", op.Owner)
	assert.Empty(t, op.BatchID)
}

func TestEngine_CreateValidatesPayload(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")

	_, err := e.Create(ctx, "user-1", "bogus", []byte(`{}`))
	assert.ErrorIs(t, err, core.ErrUnknownKind)

	_, err = e.Create(ctx, "user-1", core.KindSave, []byte(`{"game_id":"g1"}`))
	assert.ErrorIs(t, err, core.ErrInvalidPayload)

	_, err = e.Create(ctx, "bad user!", core.KindSave, []byte(savePayload))
	assert.ErrorIs(t, err, core.ErrInvalidUserID)

	assert.Equal(t, int64(0), countOperations(t, store))
}

func TestEngine_CreateBatch(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")

	items := []engine.BatchItem{
		{Kind: core.KindSave, Payload: []byte(`{"game_id":"g1","path":"/saves/a"}`)},
		{Kind: core.KindSave, Payload: []byte(`{"game_id":"g1","path":"/saves/b"}`)},
		{Kind: core.KindSave, Payload: []byte(`{"game_id":"g1","path":"/saves/c"}`)},
	}
	ops, err := e.CreateBatch(ctx, "user-1", items)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	batchID := ops[0].BatchID
	require.NotEmpty(t, batchID)
	for _, op := range ops {
		assert.Equal(t, batchID, op.BatchID)
		assert.Equal(t, "worker-a", op.AssignedWorker)
		assert.Equal(t, core.StatusPending, op.Status)
	}
}

func TestEngine_CreateBatchValidatesAllItemsFirst(t *testing.T) {
	e, store := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")

	items := []engine.BatchItem{
		{Kind: core.KindSave, Payload: []byte(`{"game_id":"g1","path":"/saves/a"}`)},
		{Kind: core.KindSave, Payload: []byte(`{"game_id":"g1"}`)},
	}
	_, err := e.CreateBatch(ctx, "user-1", items)
	assert.ErrorIs(t, err, core.ErrInvalidPayload)

	// Validation runs before any record is written.
	assert.Equal(t, int64(0), countOperations(t, store))
}

func TestEngine_CreateBatchEmpty(t *testing.T) {
	e, _ := setupEngine(t)

	_, err := e.CreateBatch(context.Background(), "user-1", nil)
	assert.ErrorIs(t, err, core.ErrEmptyBatch)
}

func TestEngine_PollClaimsExactlyOnce(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")

	op, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)

	claimed, err := e.Poll(ctx, "worker-a")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, op.ID, claimed[0].ID)
	assert.Equal(t, core.StatusInProgress, claimed[0].Status)

	// Subsequent polls return nothing for the same record.
	claimed, err = e.Poll(ctx, "worker-a")
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestEngine_PollOtherWorkerSeesNothing(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")
	_, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)

	claimed, err := e.Poll(ctx, "worker-b")
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestEngine_PollReapsStaleOperations(t *testing.T) {
	e, store := setupEngine(t, engine.WithReapTimeout(30*time.Minute))
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")

	stale, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)
	require.NoError(t, store.DB().Model(&core.OperationRecord{}).
		Where("id = ?", stale.ID).
		Updates(map[string]any{
			"status":     core.StatusInProgress,
			"started_at": time.Now().Add(-31 * time.Minute),
		}).Error)

	fresh, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)

	claimed, err := e.Poll(ctx, "worker-a")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, fresh.ID, claimed[0].ID)

	got, err := store.GetOperation(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, "Operation timed out after 30 minutes", got.ErrorMessage)
}

func TestEngine_ReportCompletion(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")
	op, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)
	_, err = e.Poll(ctx, "worker-a")
	require.NoError(t, err)

	require.NoError(t, e.ReportCompletion(ctx, op.ID, true, []byte(`{"folder_id":"f1"}`), ""))

	status, err := e.GetStatus(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, status.Status)
	assert.True(t, status.Completed)
	assert.False(t, status.Failed)
	assert.JSONEq(t, `{"folder_id":"f1"}`, string(status.ResultData))
}

func TestEngine_ReportCompletionIdempotent(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")
	op, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)
	_, err = e.Poll(ctx, "worker-a")
	require.NoError(t, err)

	require.NoError(t, e.ReportCompletion(ctx, op.ID, true, nil, ""))

	// The retried report, and even a contradictory one, change nothing.
	require.NoError(t, e.ReportCompletion(ctx, op.ID, true, nil, ""))
	require.NoError(t, e.ReportCompletion(ctx, op.ID, false, nil, "late failure"))

	status, err := e.GetStatus(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, status.Status)
	assert.Empty(t, status.Message)
}

func TestEngine_ReportFailure(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")
	op, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)
	_, err = e.Poll(ctx, "worker-a")
	require.NoError(t, err)

	require.NoError(t, e.ReportCompletion(ctx, op.ID, false, nil, "disk full"))

	status, err := e.GetStatus(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, status.Status)
	assert.True(t, status.Failed)
	assert.Equal(t, "disk full", status.Message)
}

func TestEngine_ReportProgress(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")
	op, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)
	_, err = e.Poll(ctx, "worker-a")
	require.NoError(t, err)

	require.NoError(t, e.ReportProgress(ctx, op.ID, core.Progress{Current: 1, Total: 2, Message: "uploading"}))

	status, err := e.GetStatus(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Progress.Current)
	assert.Equal(t, "uploading", status.Message)
	assert.InDelta(t, 50.0, status.Progress.Percentage, 0.01)
}

func TestEngine_GetStatusNotFound(t *testing.T) {
	e, _ := setupEngine(t)

	_, err := e.GetStatus(context.Background(), "no-such-op")
	assert.ErrorIs(t, err, core.ErrOperationNotFound)
}

func TestEngine_GetBatchStatus(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")

	items := []engine.BatchItem{
		{Kind: core.KindSave, Payload: []byte(`{"game_id":"g1","path":"/saves/a"}`)},
		{Kind: core.KindSave, Payload: []byte(`{"game_id":"g1","path":"/saves/b"}`)},
	}
	ops, err := e.CreateBatch(ctx, "user-1", items)
	require.NoError(t, err)
	batchID := ops[0].BatchID

	bs, err := e.GetBatchStatus(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 2, bs.Summary.Total)
	assert.False(t, bs.Summary.Outcome.Final())

	_, err = e.Poll(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, e.ReportCompletion(ctx, ops[0].ID, true, nil, ""))
	require.NoError(t, e.ReportCompletion(ctx, ops[1].ID, false, nil, "copy failed"))

	bs, err = e.GetBatchStatus(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, bs.Summary.Completed)
	assert.Equal(t, 1, bs.Summary.Failed)
	assert.True(t, bs.Summary.Outcome.Final())
	require.Len(t, bs.Operations, 2)
}

func TestEngine_GetBatchStatusNotFound(t *testing.T) {
	e, _ := setupEngine(t)

	_, err := e.GetBatchStatus(context.Background(), "no-such-batch")
	assert.ErrorIs(t, err, core.ErrBatchNotFound)
}

func TestEngine_ListOperations(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	bindWorker(t, e, "user-1", "worker-a")
	for i := 0; i < 3; i++ {
		_, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
		require.NoError(t, err)
	}

	ops, err := e.ListOperations(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, ops, 3)

	ops, err = e.ListOperations(ctx, "user-2", 10)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestEngine_CompletionHooksFireOnce(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	var completions, failures atomic.Int64
	e.OnOperationComplete(func(ctx context.Context, op *core.OperationRecord) {
		completions.Add(1)
	})
	e.OnOperationFail(func(ctx context.Context, op *core.OperationRecord) {
		failures.Add(1)
	})

	bindWorker(t, e, "user-1", "worker-a")
	op, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)
	_, err = e.Poll(ctx, "worker-a")
	require.NoError(t, err)

	require.NoError(t, e.ReportCompletion(ctx, op.ID, true, nil, ""))
	require.NoError(t, e.ReportCompletion(ctx, op.ID, true, nil, ""))

	assert.Equal(t, int64(1), completions.Load())
	assert.Equal(t, int64(0), failures.Load())
}

func TestEngine_Events(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	ch := e.Events()
	defer e.Unsubscribe(ch)

	bindWorker(t, e, "user-1", "worker-a")
	op, err := e.Create(ctx, "user-1", core.KindSave, []byte(savePayload))
	require.NoError(t, err)
	_, err = e.Poll(ctx, "worker-a")
	require.NoError(t, err)
	require.NoError(t, e.ReportCompletion(ctx, op.ID, true, nil, ""))

	var created, claimed, completed bool
	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			switch ev.(type) {
			case *core.OperationCreated:
				created = true
			case *core.OperationClaimed:
				claimed = true
			case *core.OperationCompleted:
				completed = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.True(t, created)
	assert.True(t, claimed)
	assert.True(t, completed)
}
