// Package nodes persists TreeNode metadata.
//
// A single SQL implementation serves both SQLite and PostgreSQL: queries are
// written with '?' placeholders and rebound for the dialect at construction.
// Writes are guarded by the version column; a conditional update that
// touches no row reports common.ErrConflict.
package nodes

import (
	"context"

	"github.com/dmitrijs2005/treevault/internal/models"
)

// Repository describes the metadata operations the tree needs.
type Repository interface {
	// Insert stores n, assigning ID and Version.
	Insert(ctx context.Context, n *models.TreeNode) error

	// Update writes n if its Version still matches the stored row and
	// bumps n.Version on success.
	Update(ctx context.Context, n *models.TreeNode) error

	GetByID(ctx context.Context, id int64) (*models.TreeNode, error)

	// ListChildren returns direct children of parentID (nil = root),
	// most recently updated first, then by name.
	ListChildren(ctx context.Context, parentID *int64) ([]*models.TreeNode, error)

	// ListDescendants returns every node strictly below path, deepest first.
	ListDescendants(ctx context.Context, path string) ([]*models.TreeNode, error)

	// RewriteDescendantPaths replaces the oldPath prefix of every descendant
	// with newPath and returns the number of rows touched.
	RewriteDescendantPaths(ctx context.Context, oldPath, newPath string) (int64, error)

	// FindByHash returns some non-folder node carrying hash.
	FindByHash(ctx context.Context, hash string) (*models.TreeNode, error)

	// CountByHashExcluding counts nodes carrying hash, ignoring exclude.
	CountByHashExcluding(ctx context.Context, hash string, exclude []int64) (int64, error)

	// ListBlobRefs returns every distinct non-empty blob reference.
	ListBlobRefs(ctx context.Context) ([]string, error)

	// Search matches text case-insensitively against name, notes and blob ref.
	Search(ctx context.Context, text string) ([]*models.TreeNode, error)

	// DeleteByIDs removes the given rows, children before parents, and
	// reports how many went away.
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}
