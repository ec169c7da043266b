// Package tasks persists the upload/delete operation log.
package tasks

import (
	"context"

	"github.com/dmitrijs2005/treevault/internal/models"
)

type Repository interface {
	// Insert stores t and assigns its ID.
	Insert(ctx context.Context, t *models.UploadTask) error
	Update(ctx context.Context, t *models.UploadTask) error
	GetByID(ctx context.Context, id int64) (*models.UploadTask, error)
	// List returns tasks in submission order, optionally only Failed ones.
	List(ctx context.Context, failedOnly bool) ([]*models.UploadTask, error)
	// DeleteFinished drops every task in a terminal state.
	DeleteFinished(ctx context.Context) (int64, error)
}
