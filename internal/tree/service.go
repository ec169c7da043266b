// Package tree implements the operations on the virtual namespace:
// creating, renaming, moving, copying and deleting nodes, plus the read
// paths used by the shells.
//
// Paths are materialized, so every structural change rewrites the paths of
// the affected subtree in the same transaction. Sibling names are unique,
// which keeps a path pointing at exactly one node.
//
// The service assumes it is the only writer of the metadata store. Callers
// that need batches to be serialized go through the ingest orchestrator.
package tree

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/treevault/internal/blobstore"
	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/dbx"
	"github.com/dmitrijs2005/treevault/internal/dedup"
	"github.com/dmitrijs2005/treevault/internal/logging"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/repositories/nodes"
	"github.com/dmitrijs2005/treevault/internal/repositories/repomanager"
	"github.com/dmitrijs2005/treevault/internal/tracker"
)

// maxAscent bounds every walk towards the root.
const maxAscent = 10_000

type Service struct {
	db      *sql.DB
	rm      repomanager.RepositoryManager
	blobs   blobstore.Store
	tracker *tracker.Tracker
	dedup   *dedup.Engine
	log     logging.Logger
	retry   dbx.RetryPolicy
	now     func() time.Time
}

// New wires a tree service. Metadata writes are retried on conflicts
// according to retry.
func New(db *sql.DB, rm repomanager.RepositoryManager, blobs blobstore.Store, tr *tracker.Tracker, dd *dedup.Engine, log logging.Logger, retry dbx.RetryPolicy) *Service {
	return &Service{
		db:      db,
		rm:      rm,
		blobs:   blobs,
		tracker: tr,
		dedup:   dd,
		log:     log,
		retry:   retry,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (s *Service) nodes() nodes.Repository {
	return s.rm.Nodes(s.db)
}

// write runs fn in a transaction, retrying the whole transaction on
// conflicts.
func (s *Service) write(ctx context.Context, fn func(ctx context.Context, repo nodes.Repository) error) error {
	return dbx.RetryTx(ctx, s.db, s.retry, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, s.rm.Nodes(tx))
	})
}

// validateName trims name and rejects values that cannot be a path segment.
func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", &common.ValidationError{Field: "name", Message: "must not be empty"}
	case strings.Contains(name, models.PathSeparator):
		return "", &common.ValidationError{Field: "name", Message: "must not contain " + models.PathSeparator}
	case name == "." || name == "..":
		return "", &common.ValidationError{Field: "name", Message: "is reserved"}
	}
	return name, nil
}

// resolveFolder loads the folder id points at. A nil id is the root and
// yields a nil node.
func resolveFolder(ctx context.Context, repo nodes.Repository, id *int64) (*models.TreeNode, error) {
	if id == nil {
		return nil, nil
	}
	n, err := repo.GetByID(ctx, *id)
	if err != nil {
		return nil, fmt.Errorf("folder %d: %w", *id, err)
	}
	if !n.IsFolder {
		return nil, &common.ValidationError{Field: "parent", Message: fmt.Sprintf("%q is not a folder", n.Path)}
	}
	return n, nil
}

func parentIDOf(n *models.TreeNode) *int64 {
	if n == nil {
		return nil
	}
	return models.IDPtr(n.ID)
}

// siblingNames returns the names used under parent, skipping exclude.
func siblingNames(ctx context.Context, repo nodes.Repository, parent *models.TreeNode, exclude int64) (map[string]struct{}, error) {
	children, err := repo.ListChildren(ctx, parentIDOf(parent))
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(children))
	for _, c := range children {
		if c.ID != exclude {
			names[c.Name] = struct{}{}
		}
	}
	return names, nil
}

func ensureFree(ctx context.Context, repo nodes.Repository, parent *models.TreeNode, name string, exclude int64) error {
	names, err := siblingNames(ctx, repo, parent, exclude)
	if err != nil {
		return err
	}
	if _, taken := names[name]; taken {
		return &common.ValidationError{Field: "name", Message: fmt.Sprintf("%q already exists in %s", name, describe(parent))}
	}
	return nil
}

// freeName returns name, or "base (n).ext" with the lowest n >= 2 that is
// not used under parent.
func freeName(ctx context.Context, repo nodes.Repository, parent *models.TreeNode, name string, folder bool) (string, error) {
	names, err := siblingNames(ctx, repo, parent, 0)
	if err != nil {
		return "", err
	}
	if _, taken := names[name]; !taken {
		return name, nil
	}

	base, ext := name, ""
	if !folder {
		ext = models.ExtensionOf(name)
		base = strings.TrimSuffix(name, ext)
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, taken := names[candidate]; !taken {
			return candidate, nil
		}
	}
}

func describe(folder *models.TreeNode) string {
	if folder == nil {
		return "root"
	}
	return folder.Path
}

// ancestry returns the ids from start up to the root, start included.
func ancestry(ctx context.Context, repo nodes.Repository, start *models.TreeNode) (map[int64]struct{}, error) {
	seen := make(map[int64]struct{})
	current := start
	for steps := 0; current != nil; steps++ {
		if steps >= maxAscent {
			return nil, fmt.Errorf("%w: ancestry of %d exceeds %d steps", common.ErrCycle, start.ID, maxAscent)
		}
		if _, dup := seen[current.ID]; dup {
			return nil, fmt.Errorf("%w: node %d is its own ancestor", common.ErrCycle, current.ID)
		}
		seen[current.ID] = struct{}{}
		if current.ParentID == nil {
			break
		}
		parent, err := repo.GetByID(ctx, *current.ParentID)
		if err != nil {
			return nil, fmt.Errorf("ancestor %d: %w", *current.ParentID, err)
		}
		current = parent
	}
	return seen, nil
}

// guardCycle fails when target is one of sources or lies below one of them.
func guardCycle(ctx context.Context, repo nodes.Repository, sourceIDs []int64, target *models.TreeNode) error {
	if target == nil {
		return nil
	}
	ancestors, err := ancestry(ctx, repo, target)
	if err != nil {
		return err
	}
	for _, id := range sourceIDs {
		if _, ok := ancestors[id]; ok {
			return &common.CycleError{SourceID: id, TargetID: target.ID}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
