package tree

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/repositories/nodes"
)

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Move re-parents every source under targetID (nil = root). Either all
// sources move or none does. A target inside one of the sources yields a
// *common.CycleError.
func (s *Service) Move(ctx context.Context, sourceIDs []int64, targetID *int64) ([]*models.TreeNode, error) {

	sourceIDs = uniqueIDs(sourceIDs)

	var (
		moved []*models.TreeNode
		where string
	)
	err := s.write(ctx, func(ctx context.Context, repo nodes.Repository) error {
		moved = moved[:0]

		target, err := resolveFolder(ctx, repo, targetID)
		if err != nil {
			return err
		}
		where = describe(target)
		if err := guardCycle(ctx, repo, sourceIDs, target); err != nil {
			return err
		}
		for _, id := range sourceIDs {
			if _, err := repo.GetByID(ctx, id); err != nil {
				return fmt.Errorf("source %d: %w", id, err)
			}
		}

		for _, id := range sourceIDs {
			// an earlier source may have been an ancestor, so re-read
			n, err := repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if sameParent(n.ParentID, parentIDOf(target)) {
				moved = append(moved, n)
				continue
			}
			if err := ensureFree(ctx, repo, target, n.Name, n.ID); err != nil {
				return err
			}

			oldPath := n.Path
			n.ParentID = parentIDOf(target)
			n.Path = models.ChildPath(target, n.Name)
			n.UpdatedAt = s.now()
			if err := repo.Update(ctx, n); err != nil {
				return err
			}
			if _, err := repo.RewriteDescendantPaths(ctx, oldPath, n.Path); err != nil {
				return err
			}
			moved = append(moved, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "nodes moved", "count", len(moved), "target", where)
	return moved, nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type copyItem struct {
	source *models.TreeNode
	parent *models.TreeNode
}

// Copy clones every source subtree under targetID. Clones get fresh ids and
// timestamps and share content with the originals; nothing is uploaded.
// A clone whose name is taken in the target is renamed "name (n)". Copying
// a folder into its own subtree yields a *common.CycleError.
func (s *Service) Copy(ctx context.Context, sourceIDs []int64, targetID *int64) ([]*models.TreeNode, error) {

	sourceIDs = uniqueIDs(sourceIDs)

	var roots []*models.TreeNode
	total := 0
	err := s.write(ctx, func(ctx context.Context, repo nodes.Repository) error {
		roots, total = roots[:0], 0

		target, err := resolveFolder(ctx, repo, targetID)
		if err != nil {
			return err
		}
		if err := guardCycle(ctx, repo, sourceIDs, target); err != nil {
			return err
		}

		for _, id := range sourceIDs {
			src, err := repo.GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("source %d: %w", id, err)
			}
			root, n, err := s.cloneSubtree(ctx, repo, src, target)
			if err != nil {
				return err
			}
			roots = append(roots, root)
			total += n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "nodes copied", "roots", len(roots), "nodes", total)
	return roots, nil
}

// cloneSubtree walks src breadth-first with an explicit queue and inserts a
// clone of every node. It returns the root clone and the number of nodes
// created.
func (s *Service) cloneSubtree(ctx context.Context, repo nodes.Repository, src, target *models.TreeNode) (*models.TreeNode, int, error) {

	var root *models.TreeNode
	visited := make(map[int64]struct{})
	queue := []copyItem{{source: src, parent: target}}
	now := s.now()

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if _, dup := visited[item.source.ID]; dup {
			continue
		}
		visited[item.source.ID] = struct{}{}

		name := item.source.Name
		if root == nil {
			var err error
			if name, err = freeName(ctx, repo, item.parent, name, item.source.IsFolder); err != nil {
				return nil, 0, err
			}
		}

		clone := item.source.Clone()
		clone.ID = 0
		clone.ParentID = parentIDOf(item.parent)
		clone.Name = name
		clone.Path = models.ChildPath(item.parent, name)
		if !clone.IsFolder {
			clone.Extension = models.ExtensionOf(name)
		}
		clone.CreatedAt, clone.UpdatedAt = now, now
		if err := repo.Insert(ctx, clone); err != nil {
			return nil, 0, err
		}
		if root == nil {
			root = clone
		}

		if !item.source.IsFolder {
			continue
		}
		children, err := repo.ListChildren(ctx, models.IDPtr(item.source.ID))
		if err != nil {
			return nil, 0, err
		}
		for _, c := range children {
			queue = append(queue, copyItem{source: c, parent: clone})
		}
	}
	return root, len(visited), nil
}
