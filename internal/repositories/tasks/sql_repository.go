package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/dbx"
	"github.com/dmitrijs2005/treevault/internal/models"
)

const taskColumns = `id, batch_id, source_path, parent_id, node_id, status, progress, message,
	blob_ref, retryable, operation, created_at, updated_at`

// SQLRepository implements Repository over a dbx.DBTX.
type SQLRepository struct {
	db dbx.DBTX

	insertQ, updateQ, getQ, listQ, listFailedQ, deleteQ string
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{
		db: db,
		insertQ: d.Rebind(`INSERT INTO upload_tasks (batch_id, source_path, parent_id, node_id, status, progress,
			message, blob_ref, retryable, operation, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		updateQ: d.Rebind(`UPDATE upload_tasks SET node_id = ?, status = ?, progress = ?, message = ?,
			blob_ref = ?, retryable = ?, updated_at = ? WHERE id = ?`),
		getQ:        d.Rebind(`SELECT ` + taskColumns + ` FROM upload_tasks WHERE id = ?`),
		listQ:       `SELECT ` + taskColumns + ` FROM upload_tasks ORDER BY id`,
		listFailedQ: d.Rebind(`SELECT ` + taskColumns + ` FROM upload_tasks WHERE status = ? ORDER BY id`),
		deleteQ:     d.Rebind(`DELETE FROM upload_tasks WHERE status IN (?, ?, ?)`),
	}
}

func NewSQLiteRepository(db dbx.DBTX) *SQLRepository {
	return NewSQLRepository(db, dbx.SQLite)
}

func NewPostgresRepository(db dbx.DBTX) *SQLRepository {
	return NewSQLRepository(db, dbx.Postgres)
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func scanTask(s interface{ Scan(...any) error }) (*models.UploadTask, error) {
	var (
		t              models.UploadTask
		parent, nodeID sql.NullInt64
		status         string
	)
	if err := s.Scan(&t.ID, &t.BatchID, &t.SourcePath, &parent, &nodeID, &status, &t.Progress, &t.Message,
		&t.BlobRef, &t.Retryable, &t.Operation, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = models.Status(status)
	if parent.Valid {
		t.ParentID = models.IDPtr(parent.Int64)
	}
	if nodeID.Valid {
		t.NodeID = models.IDPtr(nodeID.Int64)
	}
	return &t, nil
}

func (r *SQLRepository) Insert(ctx context.Context, t *models.UploadTask) error {
	err := r.db.QueryRowContext(ctx, r.insertQ,
		t.BatchID, t.SourcePath, nullableID(t.ParentID), nullableID(t.NodeID), string(t.Status), t.Progress,
		t.Message, t.BlobRef, t.Retryable, int(t.Operation), t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *SQLRepository) Update(ctx context.Context, t *models.UploadTask) error {
	res, err := r.db.ExecContext(ctx, r.updateQ,
		nullableID(t.NodeID), string(t.Status), t.Progress, t.Message, t.BlobRef, t.Retryable, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %d: %w", t.ID, common.ErrNotFound)
	}
	return nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id int64) (*models.UploadTask, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, r.getQ, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

func (r *SQLRepository) List(ctx context.Context, failedOnly bool) ([]*models.UploadTask, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if failedOnly {
		rows, err = r.db.QueryContext(ctx, r.listFailedQ, string(models.StatusFailed))
	} else {
		rows, err = r.db.QueryContext(ctx, r.listQ)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select tasks: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLRepository) DeleteFinished(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.deleteQ,
		string(models.StatusSuccess), string(models.StatusSkipped), string(models.StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("delete finished tasks: %w", err)
	}
	return res.RowsAffected()
}
