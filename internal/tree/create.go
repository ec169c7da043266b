package tree

import (
	"context"

	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/repositories/nodes"
)

// Draft describes a node to create.
type Draft struct {
	Name     string
	IsFolder bool
	Notes    string

	// BlobRef and ContentHash are set together or not at all.
	BlobRef     string
	ContentHash string
	DisplayHash string

	// AutoRename picks "name (n).ext" when a sibling already uses Name
	// instead of failing.
	AutoRename bool
}

// CreateFolder adds an empty folder under parentID (nil = root).
func (s *Service) CreateFolder(ctx context.Context, parentID *int64, name string) (*models.TreeNode, error) {
	return s.CreateNode(ctx, parentID, Draft{Name: name, IsFolder: true})
}

// CreateFile adds a file node under parentID. No content is uploaded.
func (s *Service) CreateFile(ctx context.Context, parentID *int64, d Draft) (*models.TreeNode, error) {
	d.IsFolder = false
	return s.CreateNode(ctx, parentID, d)
}

func (s *Service) CreateNode(ctx context.Context, parentID *int64, d Draft) (*models.TreeNode, error) {

	name, err := validateName(d.Name)
	if err != nil {
		return nil, err
	}
	if d.IsFolder && (d.BlobRef != "" || d.ContentHash != "") {
		return nil, &common.ValidationError{Field: "blob_ref", Message: "folders carry no content"}
	}
	if (d.BlobRef == "") != (d.ContentHash == "") {
		return nil, &common.ValidationError{Field: "blob_ref", Message: "blob ref and content hash must be given together"}
	}

	var created *models.TreeNode
	err = s.write(ctx, func(ctx context.Context, repo nodes.Repository) error {
		parent, err := resolveFolder(ctx, repo, parentID)
		if err != nil {
			return err
		}

		final := name
		if d.AutoRename {
			if final, err = freeName(ctx, repo, parent, name, d.IsFolder); err != nil {
				return err
			}
		} else if err := ensureFree(ctx, repo, parent, name, 0); err != nil {
			return err
		}

		now := s.now()
		n := &models.TreeNode{
			ParentID:    parentIDOf(parent),
			Name:        final,
			IsFolder:    d.IsFolder,
			Path:        models.ChildPath(parent, final),
			Notes:       d.Notes,
			BlobRef:     d.BlobRef,
			ContentHash: d.ContentHash,
			DisplayHash: d.DisplayHash,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if !d.IsFolder {
			n.Extension = models.ExtensionOf(final)
		}
		if err := repo.Insert(ctx, n); err != nil {
			return err
		}
		created = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug(ctx, "node created", "id", created.ID, "path", created.Path, "folder", created.IsFolder)
	return created, nil
}
