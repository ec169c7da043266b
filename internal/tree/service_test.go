package tree

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/treevault/internal/blobstore/memory"
	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/dbx"
	"github.com/dmitrijs2005/treevault/internal/dedup"
	"github.com/dmitrijs2005/treevault/internal/logging"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/repositories/repomanager"
	"github.com/dmitrijs2005/treevault/internal/repositories/sqltest"
	"github.com/dmitrijs2005/treevault/internal/repositories/tasks"
	"github.com/dmitrijs2005/treevault/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *Service
	db    *sql.DB
	blobs *memory.Store
	tr    *tracker.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := sqltest.Open(t)
	rm := repomanager.New(dbx.SQLite)
	log := logging.Discard()
	blobs := memory.New()
	tr := tracker.New(rm.Tasks(db), log, nil)
	dd := dedup.New(rm.Nodes(db), log)
	svc := New(db, rm, blobs, tr, dd, log, dbx.RetryPolicy{Attempts: 3})
	return &fixture{svc: svc, db: db, blobs: blobs, tr: tr}
}

func (f *fixture) folder(t *testing.T, parent *models.TreeNode, name string) *models.TreeNode {
	t.Helper()
	n, err := f.svc.CreateFolder(context.Background(), parentIDOf(parent), name)
	require.NoError(t, err)
	return n
}

// file creates a node and stores its blob under "{hash}/{name}" unless a
// node with the same hash already put it there.
func (f *fixture) file(t *testing.T, parent *models.TreeNode, name, hash string) *models.TreeNode {
	t.Helper()
	ctx := context.Background()
	ref := hash + "/" + name
	if existing, err := f.svc.dedup.Resolve(ctx, hash); err == nil && existing != nil {
		ref = existing.BlobRef
	} else {
		_, err := f.blobs.Put(ctx, ref, bytes.NewReader([]byte(name)), int64(len(name)), "text/plain", nil)
		require.NoError(t, err)
	}
	n, err := f.svc.CreateFile(ctx, parentIDOf(parent), Draft{Name: name, BlobRef: ref, ContentHash: hash})
	require.NoError(t, err)
	return n
}

func (f *fixture) reload(t *testing.T, n *models.TreeNode) *models.TreeNode {
	t.Helper()
	got, err := f.svc.Get(context.Background(), n.ID)
	require.NoError(t, err)
	return got
}

// assertPaths walks the whole tree and checks that every path is the
// parent's path plus the node's name.
func assertPaths(t *testing.T, svc *Service) int {
	t.Helper()
	ctx := context.Background()
	count := 0
	type item struct {
		parent *models.TreeNode
	}
	queue := []item{{parent: nil}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		children, err := svc.nodes().ListChildren(ctx, parentIDOf(it.parent))
		require.NoError(t, err)
		for _, c := range children {
			count++
			assert.Equal(t, models.ChildPath(it.parent, c.Name), c.Path, "node %d", c.ID)
			if c.IsFolder {
				queue = append(queue, item{parent: c})
			}
		}
	}
	return count
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docs := f.folder(t, nil, "docs")
	file := f.file(t, docs, "a.txt", "h1")

	tests := []struct {
		name   string
		parent *int64
		draft  Draft
		want   error
	}{
		{"empty", nil, Draft{Name: "   ", IsFolder: true}, common.ErrValidation},
		{"slash", nil, Draft{Name: "a/b", IsFolder: true}, common.ErrValidation},
		{"dotdot", nil, Draft{Name: "..", IsFolder: true}, common.ErrValidation},
		{"missing parent", models.IDPtr(999), Draft{Name: "x", IsFolder: true}, common.ErrNotFound},
		{"parent is file", models.IDPtr(file.ID), Draft{Name: "x", IsFolder: true}, common.ErrValidation},
		{"ref without hash", nil, Draft{Name: "x.txt", BlobRef: "h/x.txt"}, common.ErrValidation},
		{"hash without ref", nil, Draft{Name: "x.txt", ContentHash: "h"}, common.ErrValidation},
		{"folder with content", nil, Draft{Name: "x", IsFolder: true, BlobRef: "h/x", ContentHash: "h"}, common.ErrValidation},
		{"duplicate", models.IDPtr(docs.ID), Draft{Name: "a.txt", BlobRef: "h2/a.txt", ContentHash: "h2"}, common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateNode(ctx, tt.parent, tt.draft)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreate_TrimsAndDerivesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docs := f.folder(t, nil, "  docs ")
	assert.Equal(t, "docs", docs.Name)
	assert.Equal(t, "docs", docs.Path)
	assert.Nil(t, docs.ParentID)

	n, err := f.svc.CreateFile(ctx, models.IDPtr(docs.ID), Draft{Name: "report.PDF", Notes: "q3", BlobRef: "h/report.PDF", ContentHash: "h"})
	require.NoError(t, err)
	assert.Equal(t, "docs/report.PDF", n.Path)
	assert.Equal(t, ".PDF", n.Extension)
	assert.Equal(t, "q3", n.Notes)
	require.NotNil(t, n.ParentID)
	assert.Equal(t, docs.ID, *n.ParentID)
}

func TestCreate_AutoRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, nil, "a.txt", "h1")

	second, err := f.svc.CreateFile(ctx, nil, Draft{Name: "a.txt", BlobRef: "h1/a.txt", ContentHash: "h1", AutoRename: true})
	require.NoError(t, err)
	assert.Equal(t, "a (2).txt", second.Name)

	third, err := f.svc.CreateFile(ctx, nil, Draft{Name: "a.txt", BlobRef: "h1/a.txt", ContentHash: "h1", AutoRename: true})
	require.NoError(t, err)
	assert.Equal(t, "a (3).txt", third.Name)
	assert.Equal(t, ".txt", third.Extension)
}

func TestUpdate_RenameRewritesDescendants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "a")
	b := f.folder(t, a, "b")
	c := f.file(t, b, "c.txt", "h1")
	other := f.folder(t, nil, "ab")
	f.file(t, other, "keep.txt", "h2")

	renamed, err := f.svc.Update(ctx, a.ID, Edit{Name: ptr("z")})
	require.NoError(t, err)
	assert.Equal(t, "z", renamed.Path)
	assert.Equal(t, "z/b", f.reload(t, b).Path)
	assert.Equal(t, "z/b/c.txt", f.reload(t, c).Path)

	keep, err := f.svc.Lookup(ctx, nil, "ab/keep.txt")
	require.NoError(t, err)
	assert.Equal(t, "ab/keep.txt", keep.Path, "sibling with shared prefix untouched")
	assert.Equal(t, 5, assertPaths(t, f.svc))
}

func TestUpdate_AttributesOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.file(t, nil, "a.txt", "h1")

	got, err := f.svc.Update(ctx, n.ID, Edit{Notes: ptr("hello"), DisplayHash: ptr("#1")})
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Notes)
	assert.Equal(t, "#1", got.DisplayHash)
	assert.Equal(t, "h1", got.ContentHash)
	assert.Equal(t, "h1/a.txt", got.BlobRef)
	assert.Equal(t, "a.txt", got.Path)
	assert.False(t, got.UpdatedAt.Before(n.UpdatedAt))
}

func TestUpdate_RenameErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.folder(t, nil, "a")
	b := f.folder(t, nil, "b")

	_, err := f.svc.Update(ctx, b.ID, Edit{Name: ptr("a")})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.Update(ctx, b.ID, Edit{Name: ptr("")})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.Update(ctx, 404, Edit{Notes: ptr("x")})
	assert.ErrorIs(t, err, common.ErrNotFound)

	same, err := f.svc.Update(ctx, b.ID, Edit{Name: ptr("b")})
	require.NoError(t, err)
	assert.Equal(t, "b", same.Path)
}

func TestMove_PreservesPathInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "a")
	b := f.folder(t, a, "b")
	c := f.folder(t, b, "c")
	d := f.file(t, c, "d.txt", "h1")
	x := f.folder(t, nil, "x")
	y := f.folder(t, x, "y")

	moved, err := f.svc.Move(ctx, []int64{b.ID}, models.IDPtr(y.ID))
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, "x/y/b", moved[0].Path)
	assert.Equal(t, "x/y/b/c", f.reload(t, c).Path)
	assert.Equal(t, "x/y/b/c/d.txt", f.reload(t, d).Path)

	// exactly one rewrite per descendant
	assert.Equal(t, c.Version+1, f.reload(t, c).Version)
	assert.Equal(t, d.Version+1, f.reload(t, d).Version)

	_, err = f.svc.Move(ctx, []int64{c.ID, x.ID}, models.IDPtr(a.ID))
	require.NoError(t, err)
	assert.Equal(t, "a/c/d.txt", f.reload(t, d).Path)
	assert.Equal(t, "a/x/y/b", f.reload(t, b).Path)

	_, err = f.svc.Move(ctx, []int64{y.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, "y/b", f.reload(t, b).Path)
	assert.Nil(t, f.reload(t, y).ParentID)

	assert.Equal(t, 6, assertPaths(t, f.svc))
}

func TestMove_AncestorAndDescendantTogether(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "a")
	b := f.folder(t, a, "b")
	t1 := f.folder(t, nil, "t")

	_, err := f.svc.Move(ctx, []int64{a.ID, b.ID}, models.IDPtr(t1.ID))
	require.NoError(t, err)
	assert.Equal(t, "t/a", f.reload(t, a).Path)
	assert.Equal(t, "t/b", f.reload(t, b).Path)
	assertPaths(t, f.svc)
}

func TestMove_RejectsCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "a")
	b := f.folder(t, a, "b")
	c := f.folder(t, b, "c")

	_, err := f.svc.Move(ctx, []int64{a.ID}, models.IDPtr(c.ID))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCycle)
	var ce *common.CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, a.ID, ce.SourceID)
	assert.Equal(t, c.ID, ce.TargetID)

	_, err = f.svc.Move(ctx, []int64{b.ID}, models.IDPtr(b.ID))
	assert.ErrorIs(t, err, common.ErrCycle)

	assert.Equal(t, "a/b/c", f.reload(t, c).Path, "tree unchanged")
	assert.Equal(t, a.Version, f.reload(t, a).Version)
}

func TestMove_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "a")
	file := f.file(t, nil, "f.txt", "h1")
	dst := f.folder(t, nil, "dst")
	f.folder(t, dst, "a")
	b := f.folder(t, nil, "b")

	_, err := f.svc.Move(ctx, []int64{a.ID}, models.IDPtr(file.ID))
	assert.ErrorIs(t, err, common.ErrValidation, "target must be a folder")

	_, err = f.svc.Move(ctx, []int64{a.ID}, models.IDPtr(404))
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.Move(ctx, []int64{404}, models.IDPtr(dst.ID))
	assert.ErrorIs(t, err, common.ErrNotFound)

	// b moves first, then a collides: nothing is applied
	_, err = f.svc.Move(ctx, []int64{b.ID, a.ID}, models.IDPtr(dst.ID))
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, "b", f.reload(t, b).Path)
	assert.Equal(t, "a", f.reload(t, a).Path)
}

func TestCopy_ClonesSubtree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "a")
	b := f.folder(t, a, "b")
	f.file(t, a, "one.txt", "h1")
	f.file(t, b, "two.txt", "h2")
	dst := f.folder(t, nil, "dst")
	puts := f.blobs.Puts()

	roots, err := f.svc.Copy(ctx, []int64{a.ID}, models.IDPtr(dst.ID))
	require.NoError(t, err)
	require.Len(t, roots, 1)
	root := roots[0]
	assert.NotEqual(t, a.ID, root.ID)
	assert.Equal(t, "dst/a", root.Path)

	two, err := f.svc.Lookup(ctx, nil, "dst/a/b/two.txt")
	require.NoError(t, err)
	assert.Equal(t, "h2", two.ContentHash)
	assert.Equal(t, "h2/two.txt", two.BlobRef)
	one, err := f.svc.Lookup(ctx, nil, "/dst/a/one.txt")
	require.NoError(t, err)
	assert.Equal(t, "h1/one.txt", one.BlobRef)

	assert.Equal(t, puts, f.blobs.Puts(), "copy never uploads")
	assert.Equal(t, 9, assertPaths(t, f.svc))

	// original untouched
	orig, err := f.svc.Lookup(ctx, nil, "a/b/two.txt")
	require.NoError(t, err)
	assert.NotEqual(t, two.ID, orig.ID)
}

func TestCopy_IntoSameFolderRenames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "a")
	f.file(t, a, "x.txt", "h1")

	roots, err := f.svc.Copy(ctx, []int64{a.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a (2)", roots[0].Path)

	got, err := f.svc.Lookup(ctx, nil, "a (2)/x.txt")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.ContentHash)
}

func TestCopy_RejectsOwnSubtree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "a")
	b := f.folder(t, a, "b")

	_, err := f.svc.Copy(ctx, []int64{a.ID}, models.IDPtr(b.ID))
	assert.ErrorIs(t, err, common.ErrCycle)

	_, err = f.svc.Copy(ctx, []int64{a.ID}, models.IDPtr(a.ID))
	assert.ErrorIs(t, err, common.ErrCycle)
	assert.Equal(t, 2, assertPaths(t, f.svc))
}

func TestDelete_SharedHashKeepsBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n1 := f.file(t, nil, "a.txt", "h1")
	n2 := f.file(t, nil, "b.txt", "h1")
	require.Equal(t, "h1/a.txt", n2.BlobRef)

	res, err := f.svc.Delete(ctx, []int64{n1.ID})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	assert.Equal(t, 1, res[0].Removed)
	assert.Empty(t, res[0].Reclaimed)
	assert.Equal(t, 0, f.blobs.Deletes())
	assert.True(t, f.blobs.Has("h1/a.txt"))

	res, err = f.svc.Delete(ctx, []int64{n2.ID})
	require.NoError(t, err)
	require.NoError(t, res[0].Err)
	assert.Equal(t, []string{"h1/a.txt"}, res[0].Reclaimed)
	assert.False(t, f.blobs.Has("h1/a.txt"))

	task, ok := f.tr.Get(res[0].TaskID)
	require.True(t, ok)
	assert.Equal(t, models.StatusSuccess, task.Status)
	assert.Equal(t, models.OperationDelete, task.Operation)
	assert.Equal(t, 100, task.Progress)
}

func TestDelete_SubtreeReclaimsOncePerHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "a")
	b := f.folder(t, a, "b")
	f.file(t, a, "x.txt", "h1")
	f.file(t, b, "y.txt", "h1")
	f.file(t, b, "z.txt", "h2")
	outside := f.file(t, nil, "w.txt", "h2")

	res, err := f.svc.Delete(ctx, []int64{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, res, 1, "b is covered by a")
	require.NoError(t, res[0].Err)
	assert.Equal(t, 5, res[0].Removed)
	assert.Equal(t, []string{"h1/x.txt"}, res[0].Reclaimed)
	assert.Equal(t, 1, f.blobs.Deletes())
	assert.True(t, f.blobs.Has(outside.BlobRef))

	assert.Equal(t, 1, assertPaths(t, f.svc))

	task, ok := f.tr.Get(res[0].TaskID)
	require.True(t, ok)
	assert.Equal(t, "removed 5 node(s), reclaimed 1 blob(s)", task.Message)
}

// stuckTasks refuses to persist changes to running delete tasks.
type stuckTasks struct {
	tasks.Repository
}

func (s stuckTasks) Update(ctx context.Context, t *models.UploadTask) error {
	if t.Status == models.StatusDeleting {
		return errors.New("disk full")
	}
	return s.Repository.Update(ctx, t)
}

func TestDelete_ProgressErrorIsLogged(t *testing.T) {
	db := sqltest.Open(t)
	rm := repomanager.New(dbx.SQLite)
	blobs := memory.New()
	var logs bytes.Buffer
	tr := tracker.New(stuckTasks{rm.Tasks(db)}, logging.Discard(), nil)
	dd := dedup.New(rm.Nodes(db), logging.Discard())
	svc := New(db, rm, blobs, tr, dd, logging.New(&logs, "debug", "text"), dbx.RetryPolicy{Attempts: 3})
	f := &fixture{svc: svc, db: db, blobs: blobs, tr: tr}
	n := f.file(t, nil, "a.txt", "h1")

	res, err := svc.Delete(context.Background(), []int64{n.ID})
	require.NoError(t, err)
	require.NoError(t, res[0].Err)
	assert.Equal(t, []string{"h1/a.txt"}, res[0].Reclaimed)
	assert.Contains(t, logs.String(), "progress not recorded")
	assert.Contains(t, logs.String(), "disk full")
}

func TestDelete_AbsentBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := f.file(t, nil, "a.txt", "h1")
	require.NoError(t, f.blobs.Delete(ctx, n.BlobRef))

	res, err := f.svc.Delete(ctx, []int64{n.ID})
	require.NoError(t, err)
	require.Error(t, res[0].Err)
	assert.ErrorIs(t, res[0].Err, common.ErrNotFound)
	assert.Equal(t, 1, res[0].Removed)

	_, err = f.svc.Get(ctx, n.ID)
	assert.ErrorIs(t, err, common.ErrNotFound, "metadata removed anyway")

	task, ok := f.tr.Get(res[0].TaskID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.False(t, task.Retryable)
	assert.Equal(t, "blob already absent; metadata removed", task.Message)
}

func TestDelete_BlobFailureKeepsItemAndAncestors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "a")
	b := f.folder(t, a, "b")
	stuck := f.file(t, b, "stuck.txt", "h1")
	c := f.folder(t, a, "c")
	gone := f.file(t, c, "gone.txt", "h2")

	f.blobs.SetHooks(memory.Hooks{BeforeDelete: func(key string) error {
		if key == stuck.BlobRef {
			return fmt.Errorf("%w: 503", common.ErrTransient)
		}
		return nil
	}})

	res, err := f.svc.Delete(ctx, []int64{a.ID})
	require.NoError(t, err)
	require.Error(t, res[0].Err)
	assert.ElementsMatch(t, []int64{stuck.ID, b.ID, a.ID}, res[0].Kept)
	assert.Equal(t, 2, res[0].Removed)
	assert.Equal(t, []string{gone.BlobRef}, res[0].Reclaimed)

	for _, kept := range []*models.TreeNode{a, b, stuck} {
		_, err := f.svc.Get(ctx, kept.ID)
		assert.NoError(t, err)
	}
	for _, removed := range []*models.TreeNode{c, gone} {
		_, err := f.svc.Get(ctx, removed.ID)
		assert.ErrorIs(t, err, common.ErrNotFound)
	}

	task, ok := f.tr.Get(res[0].TaskID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.True(t, task.Retryable)
	assert.Contains(t, task.Message, stuck.BlobRef)
}

func TestDelete_MissingTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Delete(ctx, []int64{404})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.ErrorIs(t, res[0].Err, common.ErrNotFound)

	task, ok := f.tr.Get(res[0].TaskID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.False(t, task.Retryable)
}

func TestBrowse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.folder(t, nil, "Photos")
	b := f.folder(t, a, "2024")
	n := f.file(t, b, "Beach_1.JPG", "h1")
	_, err := f.svc.Update(ctx, n.ID, Edit{Notes: ptr("sunset 100%")})
	require.NoError(t, err)

	crumbs, err := f.svc.Breadcrumbs(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, crumbs, 3)
	assert.Equal(t, []string{"Photos", "2024", "Beach_1.JPG"}, []string{crumbs[0].Name, crumbs[1].Name, crumbs[2].Name})

	kids, err := f.svc.Children(ctx, models.IDPtr(a.ID))
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, b.ID, kids[0].ID)

	_, err = f.svc.Children(ctx, models.IDPtr(n.ID))
	assert.ErrorIs(t, err, common.ErrValidation)

	hits, err := f.svc.Search(ctx, "beach")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	hits, err = f.svc.Search(ctx, "100%")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	hits, err = f.svc.Search(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, hits)

	got, err := f.svc.Lookup(ctx, models.IDPtr(b.ID), "../2024/./Beach_1.JPG")
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	root, err := f.svc.Lookup(ctx, models.IDPtr(b.ID), "../..")
	require.NoError(t, err)
	assert.Nil(t, root)
	_, err = f.svc.Lookup(ctx, nil, "Photos/missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func ptr(s string) *string { return &s }
