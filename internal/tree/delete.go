package tree

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/repositories/nodes"
	"github.com/dmitrijs2005/treevault/internal/tracker"
)

// DeleteResult is the outcome of deleting one target.
type DeleteResult struct {
	NodeID int64
	Path   string
	TaskID int64

	// Removed counts metadata rows deleted, Reclaimed lists blob keys
	// physically removed from the store.
	Removed   int
	Reclaimed []string

	// Kept lists nodes left in place because their blob could not be
	// removed (or because they are ancestors of such nodes).
	Kept []int64

	// Err is set when the task ended Failed.
	Err error
}

// Deleter is the subset used by the ingest orchestrator.
type Deleter interface {
	Delete(ctx context.Context, ids []int64) ([]DeleteResult, error)
}

var _ Deleter = (*Service)(nil)

type blobGroup struct {
	hash  string
	refs  []string
	items []*models.TreeNode
}

// Delete removes each target with its subtree. Every target gets its own
// Delete task. Targets that lie below another target of the same call are
// handled as part of that target.
//
// Blobs are removed only when no node outside the doomed subtree still
// references the same content. A blob that cannot be removed keeps its
// nodes, and their ancestors, in place.
func (s *Service) Delete(ctx context.Context, ids []int64) ([]DeleteResult, error) {

	repo := s.nodes()

	var targets []*models.TreeNode
	var results []DeleteResult
	for _, id := range uniqueIDs(ids) {
		n, err := repo.GetByID(ctx, id)
		if err != nil {
			if !isNotFound(err) {
				return results, err
			}
			res, ferr := s.failMissing(ctx, id, err)
			if ferr != nil {
				return results, ferr
			}
			results = append(results, res)
			continue
		}
		targets = append(targets, n)
	}

	for _, t := range targets {
		if coveredBy(t, targets) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.deleteOne(ctx, t)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func coveredBy(n *models.TreeNode, targets []*models.TreeNode) bool {
	for _, t := range targets {
		if t.ID != n.ID && strings.HasPrefix(n.Path, t.Path+models.PathSeparator) {
			return true
		}
	}
	return false
}

func (s *Service) failMissing(ctx context.Context, id int64, cause error) (DeleteResult, error) {
	task, err := s.tracker.Begin(ctx, tracker.Spec{Operation: models.OperationDelete, NodeID: models.IDPtr(id)})
	if err != nil {
		return DeleteResult{}, err
	}
	res := DeleteResult{NodeID: id, TaskID: task.ID, Err: fmt.Errorf("node %d: %w", id, cause)}
	if err := s.tracker.Fail(ctx, task.ID, false, res.Err.Error()); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) deleteOne(ctx context.Context, target *models.TreeNode) (DeleteResult, error) {

	res := DeleteResult{NodeID: target.ID, Path: target.Path}

	task, err := s.tracker.Begin(ctx, tracker.Spec{
		Operation:  models.OperationDelete,
		SourcePath: target.Path,
		ParentID:   target.ParentID,
		NodeID:     models.IDPtr(target.ID),
		BlobRef:    target.BlobRef,
	})
	if err != nil {
		return res, err
	}
	res.TaskID = task.ID

	fail := func(retryable bool, msg string, cause error) (DeleteResult, error) {
		res.Err = cause
		if err := s.tracker.Fail(context.WithoutCancel(ctx), task.ID, retryable, msg); err != nil {
			return res, err
		}
		return res, nil
	}

	descendants, err := s.nodes().ListDescendants(ctx, target.Path)
	if err != nil {
		return fail(common.IsRetryable(err), "list descendants: "+err.Error(), err)
	}

	// deepest first, target last
	doomed := append(descendants, target)
	exclude := make([]int64, len(doomed))
	for i, n := range doomed {
		exclude[i] = n.ID
	}

	groups := groupByHash(doomed)

	var (
		messages  []string
		failed    []*models.TreeNode
		retryable bool
		absent    bool
	)
	for i, g := range groups {
		others, err := s.dedup.HasOtherReferences(ctx, g.hash, exclude...)
		if err != nil {
			return fail(common.IsRetryable(err), "reference check: "+err.Error(), err)
		}
		if others {
			s.log.Debug(ctx, "blob still referenced", "hash", g.hash)
		} else {
			for _, ref := range g.refs {
				err := s.blobs.Delete(ctx, ref)
				switch {
				case err == nil:
					res.Reclaimed = append(res.Reclaimed, ref)
				case errors.Is(err, common.ErrNotFound):
					absent = true
					messages = append(messages, fmt.Sprintf("%s: blob already absent", ref))
				default:
					if cerr := ctx.Err(); cerr != nil {
						return fail(true, "interrupted: "+cerr.Error(), cerr)
					}
					failed = append(failed, g.items...)
					retryable = retryable || common.IsRetryable(err)
					messages = append(messages, fmt.Sprintf("%s: %v", ref, err))
				}
			}
		}
		if err := s.tracker.Progress(ctx, task.ID, (i+1)*90/len(groups), fmt.Sprintf("blobs %d/%d", i+1, len(groups))); err != nil {
			s.log.Debug(ctx, "progress not recorded", "task", task.ID, "error", err)
		}
	}

	removable, kept := partition(doomed, failed)
	for _, n := range kept {
		res.Kept = append(res.Kept, n.ID)
	}

	if len(removable) > 0 {
		ids := make([]int64, len(removable))
		for i, n := range removable {
			ids[i] = n.ID
		}
		err := s.write(ctx, func(ctx context.Context, repo nodes.Repository) error {
			removed, err := repo.DeleteByIDs(ctx, ids)
			res.Removed = int(removed)
			return err
		})
		if err != nil {
			return fail(true, "remove metadata: "+err.Error(), err)
		}
	}

	s.log.Info(ctx, "subtree deleted", "path", target.Path, "removed", res.Removed,
		"reclaimed", len(res.Reclaimed), "kept", len(res.Kept))

	switch {
	case len(failed) > 0:
		return fail(retryable, strings.Join(messages, "; "), fmt.Errorf("delete %s: %s", target.Path, strings.Join(messages, "; ")))
	case absent:
		msg := "blob already absent; metadata removed"
		return fail(false, msg, fmt.Errorf("delete %s: %w: %s", target.Path, common.ErrNotFound, strings.Join(messages, "; ")))
	}

	msg := fmt.Sprintf("removed %d node(s), reclaimed %d blob(s)", res.Removed, len(res.Reclaimed))
	if err := s.tracker.Succeed(ctx, task.ID, tracker.Result{BlobRef: target.BlobRef, NodeID: models.IDPtr(target.ID), Message: msg}); err != nil {
		return res, err
	}
	return res, nil
}

// groupByHash collects blob-bearing nodes per content hash, keeping the
// order in which hashes first appear.
func groupByHash(doomed []*models.TreeNode) []*blobGroup {
	var groups []*blobGroup
	index := make(map[string]*blobGroup)
	for _, n := range doomed {
		if !n.HasContent() {
			continue
		}
		g, ok := index[n.ContentHash]
		if !ok {
			g = &blobGroup{hash: n.ContentHash}
			index[n.ContentHash] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, n)
		if !slices.Contains(g.refs, n.BlobRef) {
			g.refs = append(g.refs, n.BlobRef)
		}
	}
	return groups
}

// partition splits doomed into rows that can go and rows that must stay:
// the failed items and every doomed ancestor of one of them. Order is kept.
func partition(doomed, failed []*models.TreeNode) (removable, kept []*models.TreeNode) {
	if len(failed) == 0 {
		return doomed, nil
	}
	for _, n := range doomed {
		if keeps(n, failed) {
			kept = append(kept, n)
		} else {
			removable = append(removable, n)
		}
	}
	return removable, kept
}

func keeps(n *models.TreeNode, failed []*models.TreeNode) bool {
	for _, f := range failed {
		if f.ID == n.ID || strings.HasPrefix(f.Path, n.Path+models.PathSeparator) {
			return true
		}
	}
	return false
}
