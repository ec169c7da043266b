// Package models defines the tree and task records persisted in the
// metadata store.
package models

import (
	"path/filepath"
	"strings"
	"time"
)

// PathSeparator joins ancestor names in a materialized path.
const PathSeparator = "/"

// TreeNode is a file or folder in the virtual namespace.
//
// Path is materialized: it always equals the parent's Path, the separator
// and Name, or just Name for root nodes. Non-folder nodes carry BlobRef and
// ContentHash together; several nodes may point at the same blob.
type TreeNode struct {
	ID       int64
	ParentID *int64

	Name      string
	Extension string
	IsFolder  bool
	Path      string
	Notes     string

	BlobRef     string
	ContentHash string
	DisplayHash string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is managed by the repository and guards concurrent updates.
	Version int64
}

// HasContent reports whether the node points at a blob.
func (n *TreeNode) HasContent() bool {
	return !n.IsFolder && n.BlobRef != ""
}

// Depth is the number of ancestors implied by the materialized path.
func (n *TreeNode) Depth() int {
	return strings.Count(n.Path, PathSeparator)
}

// Clone returns a copy that shares no pointers with n.
func (n *TreeNode) Clone() *TreeNode {
	c := *n
	if n.ParentID != nil {
		id := *n.ParentID
		c.ParentID = &id
	}
	return &c
}

// ChildPath computes the materialized path of a child called name under
// parent. A nil parent means the root.
func ChildPath(parent *TreeNode, name string) string {
	if parent == nil {
		return name
	}
	return parent.Path + PathSeparator + name
}

// ExtensionOf returns the extension of a file name including the dot.
func ExtensionOf(name string) string {
	return filepath.Ext(name)
}

// IDPtr is a small helper for optional parent ids.
func IDPtr(id int64) *int64 {
	return &id
}
