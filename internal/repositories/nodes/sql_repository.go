package nodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/dbx"
	"github.com/dmitrijs2005/treevault/internal/models"
)

const nodeColumns = `id, parent_id, name, extension, is_folder, path, notes, blob_ref,
	content_hash, display_hash, created_at, updated_at, version`

type queries struct {
	insert, update, getByID, childrenOfRoot, childrenOf, descendants,
	rewrite, findByHash, countByHash, blobRefs, search, deleteByID string
}

func buildQueries(d dbx.Dialect) queries {
	return queries{
		insert: d.Rebind(`INSERT INTO nodes (parent_id, name, extension, is_folder, path, notes, blob_ref,
			content_hash, display_hash, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			RETURNING id`),
		update: d.Rebind(`UPDATE nodes SET parent_id = ?, name = ?, extension = ?, path = ?, notes = ?,
			blob_ref = ?, content_hash = ?, display_hash = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`),
		getByID:        d.Rebind(`SELECT ` + nodeColumns + ` FROM nodes WHERE id = ?`),
		childrenOfRoot: `SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id IS NULL ORDER BY updated_at DESC, name ASC`,
		childrenOf:     d.Rebind(`SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id = ? ORDER BY updated_at DESC, name ASC`),
		deleteByID: d.Rebind(`DELETE FROM nodes WHERE id = ?`),
		descendants: d.Rebind(`SELECT ` + nodeColumns + ` FROM nodes
			WHERE substr(path, 1, ?) = ? ORDER BY length(path) DESC, path ASC`),
		rewrite: d.Rebind(`UPDATE nodes SET path = CAST(? AS TEXT) || substr(path, CAST(? AS INTEGER)),
			version = version + 1
			WHERE substr(path, 1, ?) = ?`),
		findByHash: d.Rebind(`SELECT ` + nodeColumns + ` FROM nodes
			WHERE content_hash = ? AND is_folder = ? ORDER BY id LIMIT 1`),
		countByHash: `SELECT COUNT(*) FROM nodes WHERE content_hash = ?`,
		blobRefs:    `SELECT DISTINCT blob_ref FROM nodes WHERE blob_ref <> '' ORDER BY blob_ref`,
		search: d.Rebind(`SELECT ` + nodeColumns + ` FROM nodes
			WHERE lower(name) LIKE ? ESCAPE '\' OR lower(notes) LIKE ? ESCAPE '\' OR lower(blob_ref) LIKE ? ESCAPE '\'
			ORDER BY path ASC`),
	}
}

// SQLRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
	q       queries
}

// NewSQLRepository returns a repository speaking the given dialect.
func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: d, q: buildQueries(d)}
}

func NewSQLiteRepository(db dbx.DBTX) *SQLRepository {
	return NewSQLRepository(db, dbx.SQLite)
}

func NewPostgresRepository(db dbx.DBTX) *SQLRepository {
	return NewSQLRepository(db, dbx.Postgres)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(s rowScanner) (*models.TreeNode, error) {
	var (
		n      models.TreeNode
		parent sql.NullInt64
	)
	if err := s.Scan(&n.ID, &parent, &n.Name, &n.Extension, &n.IsFolder, &n.Path, &n.Notes,
		&n.BlobRef, &n.ContentHash, &n.DisplayHash, &n.CreatedAt, &n.UpdatedAt, &n.Version); err != nil {
		return nil, err
	}
	if parent.Valid {
		n.ParentID = models.IDPtr(parent.Int64)
	}
	return &n, nil
}

func parentArg(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func (r *SQLRepository) queryNodes(ctx context.Context, query string, args ...any) ([]*models.TreeNode, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select nodes: %w", err)
	}
	defer rows.Close()

	var result []*models.TreeNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLRepository) Insert(ctx context.Context, n *models.TreeNode) error {
	err := r.db.QueryRowContext(ctx, r.q.insert,
		parentArg(n.ParentID), n.Name, n.Extension, n.IsFolder, n.Path, n.Notes, n.BlobRef,
		n.ContentHash, n.DisplayHash, n.CreatedAt, n.UpdatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert node %q: %w", n.Path, err)
	}
	n.Version = 1
	return nil
}

func (r *SQLRepository) Update(ctx context.Context, n *models.TreeNode) error {
	res, err := r.db.ExecContext(ctx, r.q.update,
		parentArg(n.ParentID), n.Name, n.Extension, n.Path, n.Notes,
		n.BlobRef, n.ContentHash, n.DisplayHash, n.UpdatedAt,
		n.ID, n.Version,
	)
	if err != nil {
		return fmt.Errorf("update node %d: %w", n.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}

	switch affected {
	case 1:
		n.Version++
		return nil
	case 0:
		// distinguish a vanished row from a stale version
		if _, err := r.GetByID(ctx, n.ID); errors.Is(err, common.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update node %d at version %d: %w", n.ID, n.Version, common.ErrConflict)
	default:
		return fmt.Errorf("unexpected rows affected: %d", affected)
	}
}

func (r *SQLRepository) GetByID(ctx context.Context, id int64) (*models.TreeNode, error) {
	n, err := scanNode(r.db.QueryRowContext(ctx, r.q.getByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %d: %w", id, err)
	}
	return n, nil
}

func (r *SQLRepository) ListChildren(ctx context.Context, parentID *int64) ([]*models.TreeNode, error) {
	if parentID == nil {
		return r.queryNodes(ctx, r.q.childrenOfRoot)
	}
	return r.queryNodes(ctx, r.q.childrenOf, *parentID)
}

func (r *SQLRepository) ListDescendants(ctx context.Context, path string) ([]*models.TreeNode, error) {
	prefix := path + models.PathSeparator
	return r.queryNodes(ctx, r.q.descendants, utf8.RuneCountInString(prefix), prefix)
}

func (r *SQLRepository) RewriteDescendantPaths(ctx context.Context, oldPath, newPath string) (int64, error) {
	oldPrefix := oldPath + models.PathSeparator
	// substr is 1-based: keep everything after oldPath, separator included
	tail := utf8.RuneCountInString(oldPath) + 1

	res, err := r.db.ExecContext(ctx, r.q.rewrite, newPath, tail, utf8.RuneCountInString(oldPrefix), oldPrefix)
	if err != nil {
		return 0, fmt.Errorf("rewrite paths under %q: %w", oldPath, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return affected, nil
}

func (r *SQLRepository) FindByHash(ctx context.Context, hash string) (*models.TreeNode, error) {
	n, err := scanNode(r.db.QueryRowContext(ctx, r.q.findByHash, hash, false))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hash %s: %w", hash, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) CountByHashExcluding(ctx context.Context, hash string, exclude []int64) (int64, error) {
	query := r.q.countByHash
	args := make([]any, 0, len(exclude)+1)
	args = append(args, hash)

	if len(exclude) > 0 {
		query += " AND id NOT IN (" + placeholders(len(exclude)) + ")"
		for _, id := range exclude {
			args = append(args, id)
		}
	}

	var count int64
	if err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count references of %s: %w", hash, err)
	}
	return count, nil
}

func (r *SQLRepository) ListBlobRefs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.q.blobRefs)
	if err != nil {
		return nil, fmt.Errorf("failed to select blob refs: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *SQLRepository) Search(ctx context.Context, text string) ([]*models.TreeNode, error) {
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	return r.queryNodes(ctx, r.q.search, pattern, pattern, pattern)
}

func (r *SQLRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	// one row per statement: rows removed by ON DELETE CASCADE are not
	// reported in RowsAffected, so callers pass children before parents
	var total int64
	for _, id := range ids {
		res, err := r.db.ExecContext(ctx, r.q.deleteByID, id)
		if err != nil {
			return total, fmt.Errorf("delete node %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected error: %w", err)
		}
		total += affected
	}
	return total, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
