package tree

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/repositories/nodes"
)

// Edit lists the attributes to change. Nil fields are left alone. Content
// fields are never editable.
type Edit struct {
	Name        *string
	Notes       *string
	DisplayHash *string
}

// Update applies e to the node. A new name moves the node's path and the
// paths of all its descendants.
func (s *Service) Update(ctx context.Context, id int64, e Edit) (*models.TreeNode, error) {

	var name string
	if e.Name != nil {
		var err error
		if name, err = validateName(*e.Name); err != nil {
			return nil, err
		}
	}

	var updated *models.TreeNode
	err := s.write(ctx, func(ctx context.Context, repo nodes.Repository) error {
		n, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		oldPath := n.Path
		if e.Name != nil && name != n.Name {
			var parent *models.TreeNode
			if n.ParentID != nil {
				if parent, err = repo.GetByID(ctx, *n.ParentID); err != nil {
					return err
				}
			}
			if err := ensureFree(ctx, repo, parent, name, n.ID); err != nil {
				return err
			}
			n.Path = strings.TrimSuffix(n.Path, n.Name) + name
			n.Name = name
			if !n.IsFolder {
				n.Extension = models.ExtensionOf(name)
			}
		}
		if e.Notes != nil {
			n.Notes = *e.Notes
		}
		if e.DisplayHash != nil {
			n.DisplayHash = *e.DisplayHash
		}
		n.UpdatedAt = s.now()

		if err := repo.Update(ctx, n); err != nil {
			return err
		}
		if n.Path != oldPath {
			if _, err := repo.RewriteDescendantPaths(ctx, oldPath, n.Path); err != nil {
				return err
			}
		}
		updated = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug(ctx, "node updated", "id", id, "path", updated.Path)
	return updated, nil
}
