package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/treevault/internal/blobstore"
	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/dbx"
	"github.com/dmitrijs2005/treevault/internal/dedup"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/tracker"
	"github.com/dmitrijs2005/treevault/internal/tree"
	"github.com/dustin/go-humanize"
)

var readDir = os.ReadDir

// ingestPath dispatches on the kind of local entry. Only context errors
// are returned; everything else ends up in a task.
func (o *Orchestrator) ingestPath(ctx context.Context, batch *BatchResult, parentID *int64, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fi, err := os.Stat(path)
	if err != nil {
		o.failItem(ctx, batch, parentID, path, false, fmt.Errorf("%w: %w", common.ErrIO, err))
		return nil
	}

	switch {
	case fi.IsDir():
		return o.ingestFolder(ctx, batch, parentID, path)
	case fi.Mode().IsRegular():
		o.ingestFile(ctx, batch, parentID, path, fi.Size())
		return nil
	default:
		o.failItem(ctx, batch, parentID, path, false, &common.ValidationError{Field: "path", Message: "not a regular file or folder"})
		return nil
	}
}

func (o *Orchestrator) ingestFolder(ctx context.Context, batch *BatchResult, parentID *int64, path string) error {

	var folder *models.TreeNode
	err := dbx.Retry(ctx, o.opts.Retry, func(ctx context.Context) error {
		var err error
		folder, err = o.tree.CreateNode(ctx, parentID, tree.Draft{Name: filepath.Base(path), IsFolder: true, AutoRename: true})
		return err
	})
	if err != nil {
		o.failItem(ctx, batch, parentID, path, true, fmt.Errorf("create folder: %w", err))
		return nil
	}
	batch.add(ItemResult{SourcePath: path, IsFolder: true, NodeID: models.IDPtr(folder.ID), Status: models.StatusSuccess})
	o.log.Debug(ctx, "folder created", "path", path, "node", folder.ID, "tree_path", folder.Path)

	return o.ingestEntries(ctx, batch, folder, path)
}

// ingestEntries fills an existing folder node from the local folder at
// path, files first and then subfolders.
func (o *Orchestrator) ingestEntries(ctx context.Context, batch *BatchResult, folder *models.TreeNode, path string) error {
	entries, err := readDir(path)
	if err != nil {
		// Retry refills this node, see existingFolder
		o.recordFailure(ctx, batch, tracker.Spec{
			BatchID:    batch.BatchID,
			Operation:  models.OperationUpload,
			SourcePath: path,
			ParentID:   folder.ParentID,
			NodeID:     models.IDPtr(folder.ID),
		}, true, fmt.Errorf("%w: read folder: %w", common.ErrIO, err))
		return nil
	}

	// ReadDir sorts by name
	var dirs []string
	for _, e := range entries {
		child := filepath.Join(path, e.Name())
		if e.IsDir() {
			dirs = append(dirs, child)
			continue
		}
		if err := o.ingestPath(ctx, batch, models.IDPtr(folder.ID), child); err != nil {
			return err
		}
	}
	for _, d := range dirs {
		if err := o.ingestPath(ctx, batch, models.IDPtr(folder.ID), d); err != nil {
			return err
		}
	}
	return nil
}

// failItem records a failure that happened before a task was running.
func (o *Orchestrator) failItem(ctx context.Context, batch *BatchResult, parentID *int64, path string, canRetry bool, cause error) {
	o.recordFailure(ctx, batch, tracker.Spec{BatchID: batch.BatchID, Operation: models.OperationUpload, SourcePath: path, ParentID: parentID}, canRetry, cause)
}

func (o *Orchestrator) recordFailure(ctx context.Context, batch *BatchResult, spec tracker.Spec, canRetry bool, cause error) {
	it := ItemResult{SourcePath: spec.SourcePath, Status: models.StatusFailed, Err: cause}
	task, err := o.tracker.Begin(ctx, spec)
	if err != nil {
		o.log.Error(ctx, "task not recorded", "path", spec.SourcePath, "error", err, "cause", cause)
	} else {
		it.TaskID = task.ID
		if err := o.tracker.Fail(ctx, task.ID, canRetry, cause.Error()); err != nil {
			o.log.Error(ctx, "task outcome not recorded", "task", task.ID, "error", err)
		}
	}
	o.log.Warn(ctx, "item failed", "path", spec.SourcePath, "error", cause)
	batch.add(it)
}

func (o *Orchestrator) ingestFile(ctx context.Context, batch *BatchResult, parentID *int64, path string, size int64) {

	it := ItemResult{SourcePath: path}
	defer func() { batch.add(it) }()

	task, err := o.tracker.Begin(ctx, tracker.Spec{BatchID: batch.BatchID, Operation: models.OperationUpload, SourcePath: path, ParentID: parentID})
	if err != nil {
		it.Status, it.Err = models.StatusFailed, err
		o.log.Error(ctx, "task not recorded", "path", path, "error", err)
		return
	}
	it.TaskID = task.ID
	log := o.log.With("task", task.ID, "path", path)

	fail := func(canRetry bool, cause error) {
		it.Status, it.Err = models.StatusFailed, cause
		if err := o.tracker.Fail(context.WithoutCancel(ctx), task.ID, canRetry, cause.Error()); err != nil {
			log.Error(ctx, "task outcome not recorded", "error", err)
		}
		log.Warn(ctx, "upload failed", "retryable", canRetry, "error", cause)
	}

	hash, err := o.hasher.HashFile(path)
	if err != nil {
		fail(true, err)
		return
	}
	name := filepath.Base(path)

	var existing *dedup.ExistingBlob
	err = dbx.Retry(ctx, o.opts.Retry, func(ctx context.Context) error {
		var err error
		existing, err = o.dedup.Resolve(ctx, hash)
		return err
	})
	if err != nil {
		fail(true, fmt.Errorf("dedup lookup: %w", err))
		return
	}

	if existing != nil {
		node, err := o.createFile(ctx, parentID, name, existing.BlobRef, hash)
		if err != nil {
			fail(retryable(err), fmt.Errorf("create node: %w", err))
			return
		}
		it.NodeID, it.Status = models.IDPtr(node.ID), models.StatusSkipped
		msg := fmt.Sprintf("content already stored as %s; upload skipped", existing.BlobRef)
		if err := o.tracker.Skip(ctx, task.ID, tracker.Result{BlobRef: existing.BlobRef, NodeID: it.NodeID, Message: msg}); err != nil {
			log.Error(ctx, "task outcome not recorded", "error", err)
		}
		log.Info(ctx, "deduplicated", "blob", existing.BlobRef, "node", node.ID)
		return
	}

	key := blobstore.ObjectKey(hash, name)
	if err := o.upload(ctx, task.ID, path, key, size); err != nil {
		fail(true, err)
		return
	}

	st, err := o.blobs.Stat(ctx, key)
	switch {
	case err != nil:
		fail(true, fmt.Errorf("verify upload: %w", err))
		return
	case st.Size != size:
		o.reclaim(ctx, hash, key)
		fail(true, fmt.Errorf("verify upload: stored %d bytes, local file has %d", st.Size, size))
		return
	}

	node, err := o.createFile(ctx, parentID, name, key, hash)
	if err != nil {
		o.reclaim(ctx, hash, key)
		fail(retryable(err), fmt.Errorf("create node: %w", err))
		return
	}

	it.NodeID, it.Status = models.IDPtr(node.ID), models.StatusSuccess
	msg := fmt.Sprintf("uploaded %s", humanize.IBytes(uint64(size)))
	if err := o.tracker.Succeed(ctx, task.ID, tracker.Result{BlobRef: key, NodeID: it.NodeID, Message: msg}); err != nil {
		log.Error(ctx, "task outcome not recorded", "error", err)
	}
	log.Info(ctx, "uploaded", "blob", key, "node", node.ID, "size", size)
}

func (o *Orchestrator) createFile(ctx context.Context, parentID *int64, name, ref, hash string) (*models.TreeNode, error) {
	var node *models.TreeNode
	err := dbx.Retry(ctx, o.opts.Retry, func(ctx context.Context) error {
		var err error
		node, err = o.tree.CreateNode(ctx, parentID, tree.Draft{
			Name:        name,
			BlobRef:     ref,
			ContentHash: hash,
			DisplayHash: hash,
			AutoRename:  true,
		})
		return err
	})
	return node, err
}

// reclaim removes a blob this batch just stored when no node uses it.
func (o *Orchestrator) reclaim(ctx context.Context, hash, key string) {
	ctx = context.WithoutCancel(ctx)
	free, err := o.dedup.CanReclaim(ctx, hash)
	if err != nil || !free {
		return
	}
	if err := o.blobs.Delete(ctx, key); err != nil && !errors.Is(err, common.ErrNotFound) {
		o.log.Warn(ctx, "orphan blob left behind", "blob", key, "error", err)
	}
}

func (o *Orchestrator) upload(ctx context.Context, taskID int64, path, key string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", common.ErrIO, path, err)
	}
	defer f.Close()

	report := newProgress(size, o.opts.ChunkThreshold, o.opts.PartSize, func(percent int, msg string) {
		if err := o.tracker.Progress(ctx, taskID, percent, msg); err != nil {
			o.log.Debug(ctx, "progress not recorded", "task", taskID, "error", err)
		}
	})

	contentType := blobstore.ContentType(filepath.Ext(path))
	if _, err := o.blobs.Put(ctx, key, f, size, contentType, report.observe); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
