// Package ingest turns local files and folders into tree nodes backed by
// deduplicated blobs.
//
// The Orchestrator is the single writer of the namespace: every batch
// (uploads from the shell, drop-folder events, retries, deletes and the
// orphan sweep) runs under its mutex, one at a time. Items inside a batch
// are processed sequentially; a failing item is recorded in its task and
// the batch moves on.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dmitrijs2005/treevault/internal/blobstore"
	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/dbx"
	"github.com/dmitrijs2005/treevault/internal/dedup"
	"github.com/dmitrijs2005/treevault/internal/hasher"
	"github.com/dmitrijs2005/treevault/internal/logging"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/tracker"
	"github.com/dmitrijs2005/treevault/internal/tree"
	"github.com/google/uuid"
)

// Namespace is the part of the tree service the orchestrator drives.
type Namespace interface {
	CreateNode(ctx context.Context, parentID *int64, d tree.Draft) (*models.TreeNode, error)
	Get(ctx context.Context, id int64) (*models.TreeNode, error)
	Delete(ctx context.Context, ids []int64) ([]tree.DeleteResult, error)
}

// Options tunes uploads and the conflict retry loop.
type Options struct {
	// Files larger than ChunkThreshold report progress per PartSize part.
	ChunkThreshold int64
	PartSize       int64
	Retry          dbx.RetryPolicy
}

// DefaultOptions mirrors the configuration defaults.
var DefaultOptions = Options{
	ChunkThreshold: 10 << 20,
	PartSize:       30 << 20,
	Retry:          dbx.DefaultRetryPolicy,
}

// ItemResult is the outcome for one local path.
type ItemResult struct {
	SourcePath string
	IsFolder   bool
	TaskID     int64
	NodeID     *int64
	Status     models.Status
	Err        error
}

// BatchResult collects the outcomes of one Ingest call in processing order.
type BatchResult struct {
	BatchID string
	Items   []ItemResult
}

// Counts tallies the items by outcome. Folders count as uploaded.
func (b *BatchResult) Counts() (uploaded, skipped, failed int) {
	for _, it := range b.Items {
		switch it.Status {
		case models.StatusSuccess:
			uploaded++
		case models.StatusSkipped:
			skipped++
		case models.StatusFailed:
			failed++
		}
	}
	return uploaded, skipped, failed
}

func (b *BatchResult) add(it ItemResult) {
	b.Items = append(b.Items, it)
}

type Orchestrator struct {
	mu sync.Mutex

	tree    Namespace
	blobs   blobstore.Store
	hasher  *hasher.Hasher
	dedup   *dedup.Engine
	tracker *tracker.Tracker
	log     logging.Logger
	opts    Options

	newBatchID func() string
}

func New(ns Namespace, blobs blobstore.Store, h *hasher.Hasher, dd *dedup.Engine, tr *tracker.Tracker, log logging.Logger, opts Options) *Orchestrator {
	if opts.PartSize <= 0 {
		opts.PartSize = DefaultOptions.PartSize
	}
	if opts.ChunkThreshold <= 0 {
		opts.ChunkThreshold = DefaultOptions.ChunkThreshold
	}
	return &Orchestrator{
		tree:       ns,
		blobs:      blobs,
		hasher:     h,
		dedup:      dd,
		tracker:    tr,
		log:        log,
		opts:       opts,
		newBatchID: uuid.NewString,
	}
}

// Ingest uploads paths under parentID (nil = root). Folders are created
// first and then filled depth-first: files before subfolders, each group
// in lexical order. The context is only checked between items; on
// cancellation the partial result is returned with the context error.
func (o *Orchestrator) Ingest(ctx context.Context, parentID *int64, paths []string) (*BatchResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	batch := &BatchResult{BatchID: o.newBatchID()}
	ctx = logging.WithFields(ctx, "batch", batch.BatchID)
	o.log.Info(ctx, "batch started", "paths", len(paths))

	for _, p := range paths {
		if err := o.ingestPath(ctx, batch, parentID, p); err != nil {
			o.log.Warn(ctx, "batch interrupted", "error", err)
			return batch, err
		}
	}

	up, skipped, failed := batch.Counts()
	o.log.Info(ctx, "batch finished", "uploaded", up, "skipped", skipped, "failed", failed)
	return batch, nil
}

// Retry re-runs a failed retryable task from scratch. Uploads are ingested
// again into the recorded target folder; deletes are issued again for the
// recorded node.
func (o *Orchestrator) Retry(ctx context.Context, taskID int64) (*BatchResult, error) {
	task, ok := o.tracker.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("task %d: %w", taskID, common.ErrNotFound)
	}
	if task.Status != models.StatusFailed || !task.Retryable {
		return nil, &common.ValidationError{Field: "task", Message: fmt.Sprintf("task %d is %s and cannot be retried", taskID, task.Status)}
	}

	if task.Operation == models.OperationDelete {
		if task.NodeID == nil {
			return nil, &common.ValidationError{Field: "task", Message: fmt.Sprintf("task %d has no target node", taskID)}
		}
		results, err := o.Delete(ctx, []int64{*task.NodeID})
		if err != nil {
			return nil, err
		}
		batch := &BatchResult{BatchID: task.BatchID}
		for _, r := range results {
			batch.add(deleteItem(r))
		}
		return batch, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	batch := &BatchResult{BatchID: task.BatchID}
	if batch.BatchID == "" {
		batch.BatchID = o.newBatchID()
	}
	ctx = logging.WithFields(ctx, "batch", batch.BatchID)
	o.log.Info(ctx, "retrying task", "task", taskID, "path", task.SourcePath)
	if folder := o.existingFolder(ctx, task); folder != nil {
		batch.add(ItemResult{SourcePath: task.SourcePath, IsFolder: true, NodeID: models.IDPtr(folder.ID), Status: models.StatusSuccess})
		return batch, o.ingestEntries(ctx, batch, folder, task.SourcePath)
	}
	if err := o.ingestPath(ctx, batch, task.ParentID, task.SourcePath); err != nil {
		return batch, err
	}
	return batch, nil
}

// existingFolder returns the folder node an upload task already created,
// when it is still there and the source is still a local folder.
func (o *Orchestrator) existingFolder(ctx context.Context, task *models.UploadTask) *models.TreeNode {
	if task.NodeID == nil {
		return nil
	}
	if fi, err := os.Stat(task.SourcePath); err != nil || !fi.IsDir() {
		return nil
	}
	n, err := o.tree.Get(ctx, *task.NodeID)
	if err != nil || !n.IsFolder {
		return nil
	}
	return n
}

func deleteItem(r tree.DeleteResult) ItemResult {
	it := ItemResult{SourcePath: r.Path, TaskID: r.TaskID, NodeID: models.IDPtr(r.NodeID), Status: models.StatusSuccess}
	if r.Err != nil {
		it.Status, it.Err = models.StatusFailed, r.Err
	}
	return it
}

// Delete removes nodes through the tree service, serialized with batches.
func (o *Orchestrator) Delete(ctx context.Context, ids []int64) ([]tree.DeleteResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tree.Delete(ctx, ids)
}

// Exclusive runs fn while no batch is in flight.
func (o *Orchestrator) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fn(ctx)
}

// retryable decides the Retryable flag of a failed upload. Bad input and
// vanished targets will fail the same way again.
func retryable(err error) bool {
	return !errors.Is(err, common.ErrValidation) && !errors.Is(err, common.ErrNotFound) && !errors.Is(err, common.ErrCycle)
}
