package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/repositories/sqltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(status models.Status, op models.OperationKind) *models.UploadTask {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &models.UploadTask{
		BatchID:    "batch-1",
		SourcePath: "/tmp/a.txt",
		ParentID:   models.IDPtr(3),
		Status:     status,
		Operation:  op,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestInsertUpdateGet(t *testing.T) {
	r := NewSQLiteRepository(sqltest.Open(t))
	ctx := context.Background()

	task := newTask(models.StatusUploading, models.OperationUpload)
	require.NoError(t, r.Insert(ctx, task))
	require.NotZero(t, task.ID)

	task.Status = models.StatusFailed
	task.Progress = 40
	task.Message = "stat mismatch"
	task.Retryable = true
	task.NodeID = models.IDPtr(9)
	require.NoError(t, r.Update(ctx, task))

	got, err := r.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 40, got.Progress)
	assert.True(t, got.Retryable)
	assert.Equal(t, models.OperationUpload, got.Operation)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, int64(3), *got.ParentID)
	require.NotNil(t, got.NodeID)
	assert.Equal(t, int64(9), *got.NodeID)

	_, err = r.GetByID(ctx, 12345)
	assert.ErrorIs(t, err, common.ErrNotFound)

	ghost := newTask(models.StatusFailed, models.OperationDelete)
	ghost.ID = 777
	assert.ErrorIs(t, r.Update(ctx, ghost), common.ErrNotFound)
}

func TestListAndDeleteFinished(t *testing.T) {
	r := NewSQLiteRepository(sqltest.Open(t))
	ctx := context.Background()

	for _, s := range []models.Status{models.StatusSuccess, models.StatusFailed, models.StatusUploading, models.StatusSkipped, models.StatusFailed} {
		require.NoError(t, r.Insert(ctx, newTask(s, models.OperationUpload)))
	}

	all, err := r.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}

	failed, err := r.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	n, err := r.DeleteFinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	left, err := r.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, models.StatusUploading, left[0].Status)
}

func TestList_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("db is down"))

	_, err = NewSQLiteRepository(db).List(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select tasks")
}
