package tree

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/models"
)

func (s *Service) Get(ctx context.Context, id int64) (*models.TreeNode, error) {
	return s.nodes().GetByID(ctx, id)
}

// Children lists the direct children of parentID (nil = root), most
// recently updated first.
func (s *Service) Children(ctx context.Context, parentID *int64) ([]*models.TreeNode, error) {
	if parentID != nil {
		if _, err := resolveFolder(ctx, s.nodes(), parentID); err != nil {
			return nil, err
		}
	}
	return s.nodes().ListChildren(ctx, parentID)
}

// Child returns the child of parentID called name.
func (s *Service) Child(ctx context.Context, parentID *int64, name string) (*models.TreeNode, error) {
	children, err := s.nodes().ListChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, common.ErrNotFound)
}

// Lookup resolves a "/"-separated path relative to from (nil = root).
// "." and ".." are honoured; a leading "/" starts at the root. A nil node
// with a nil error means the path names the root itself.
func (s *Service) Lookup(ctx context.Context, from *int64, path string) (*models.TreeNode, error) {

	var current *models.TreeNode
	if from != nil && !strings.HasPrefix(path, models.PathSeparator) {
		n, err := s.Get(ctx, *from)
		if err != nil {
			return nil, err
		}
		current = n
	}

	for _, part := range strings.Split(path, models.PathSeparator) {
		switch part {
		case "", ".":
			continue
		case "..":
			if current == nil || current.ParentID == nil {
				current = nil
				continue
			}
			parent, err := s.Get(ctx, *current.ParentID)
			if err != nil {
				return nil, err
			}
			current = parent
		default:
			if current != nil && !current.IsFolder {
				return nil, &common.ValidationError{Field: "path", Message: fmt.Sprintf("%q is not a folder", current.Path)}
			}
			child, err := s.Child(ctx, parentIDOf(current), part)
			if err != nil {
				return nil, err
			}
			current = child
		}
	}
	return current, nil
}

// Breadcrumbs returns the chain from the root down to id.
func (s *Service) Breadcrumbs(ctx context.Context, id int64) ([]*models.TreeNode, error) {

	repo := s.nodes()
	n, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	chain := []*models.TreeNode{n}
	for n.ParentID != nil {
		if len(chain) >= maxAscent {
			return nil, fmt.Errorf("%w: ancestry of %d exceeds %d steps", common.ErrCycle, id, maxAscent)
		}
		if n, err = repo.GetByID(ctx, *n.ParentID); err != nil {
			return nil, err
		}
		chain = append(chain, n)
	}
	slices.Reverse(chain)
	return chain, nil
}

// Search matches text against names, notes and blob refs, ignoring case.
// Blank text lists nothing.
func (s *Service) Search(ctx context.Context, text string) ([]*models.TreeNode, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return s.nodes().Search(ctx, text)
}
