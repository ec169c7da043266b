// Package tracker keeps the operation log: one task per upload or delete
// attempt, its progress and its terminal outcome.
//
// Tasks move Uploading|Deleting -> Success|Skipped|Failed and never leave
// a terminal state. Progress only grows. Every change is written through
// the tasks repository and then published, in order, to subscribers. A
// subscriber whose buffer is full misses that event; the pipeline never
// waits for it.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/logging"
	"github.com/dmitrijs2005/treevault/internal/metrics"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/repositories/tasks"
)

// Spec describes a task about to start.
type Spec struct {
	BatchID    string
	Operation  models.OperationKind
	SourcePath string
	ParentID   *int64
	NodeID     *int64
	BlobRef    string
}

// Result carries the fields set when a task finishes well.
type Result struct {
	BlobRef string
	NodeID  *int64
	Message string
}

// Filter narrows List.
type Filter struct {
	FailedOnly bool
}

// Event is a snapshot of a task after a change.
type Event struct {
	Task models.UploadTask
}

type subscriber struct {
	ch chan Event
}

type Tracker struct {
	repo    tasks.Repository
	log     logging.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu      sync.Mutex
	tasks   map[int64]*models.UploadTask
	order   []int64
	subs    map[int]*subscriber
	nextSub int
	dropped int64
	// memory-only ids when no repository is configured
	nextID int64
}

// New returns a tracker persisting through repo. A nil repo keeps tasks in
// memory only.
func New(repo tasks.Repository, log logging.Logger, m *metrics.Recorder) *Tracker {
	return &Tracker{
		repo:    repo,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		tasks:   make(map[int64]*models.UploadTask),
		subs:    make(map[int]*subscriber),
	}
}

// Load replaces the in-memory log with what the repository holds. Tasks
// still running when the process stopped are failed as retryable.
func (t *Tracker) Load(ctx context.Context) error {
	if t.repo == nil {
		return nil
	}

	list, err := t.repo.List(ctx, false)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.tasks = make(map[int64]*models.UploadTask, len(list))
	t.order = t.order[:0]
	for _, task := range list {
		if !task.Status.Terminal() {
			task.Status = models.StatusFailed
			task.Retryable = true
			task.Message = "interrupted before completion"
			task.UpdatedAt = t.now()
			if err := t.repo.Update(ctx, task); err != nil {
				t.log.Warn(ctx, "failed to mark interrupted task", "task", task.ID, "error", err)
			}
		}
		t.tasks[task.ID] = task
		t.order = append(t.order, task.ID)
	}
	return nil
}

// Begin registers a running task.
func (t *Tracker) Begin(ctx context.Context, spec Spec) (*models.UploadTask, error) {
	status := models.StatusUploading
	if spec.Operation == models.OperationDelete {
		status = models.StatusDeleting
	}

	now := t.now()
	task := &models.UploadTask{
		BatchID:    spec.BatchID,
		SourcePath: spec.SourcePath,
		ParentID:   spec.ParentID,
		NodeID:     spec.NodeID,
		Status:     status,
		BlobRef:    spec.BlobRef,
		Operation:  spec.Operation,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.repo != nil {
		if err := t.repo.Insert(ctx, task); err != nil {
			return nil, fmt.Errorf("begin task: %w", err)
		}
	} else {
		t.nextID++
		task.ID = t.nextID
	}

	t.tasks[task.ID] = task
	t.order = append(t.order, task.ID)
	t.publishLocked(task)

	return task.Clone(), nil
}

// Progress raises the task's percentage. Lower values are ignored and
// values are clamped to 0..100.
func (t *Tracker) Progress(ctx context.Context, id int64, percent int, message string) error {
	percent = min(max(percent, 0), 100)

	return t.mutate(ctx, id, func(task *models.UploadTask) bool {
		if percent < task.Progress || (percent == task.Progress && message == task.Message) {
			return false
		}
		task.Progress = percent
		if message != "" {
			task.Message = message
		}
		return true
	})
}

// Succeed finishes the task with Success.
func (t *Tracker) Succeed(ctx context.Context, id int64, res Result) error {
	return t.finish(ctx, id, models.StatusSuccess, false, res)
}

// Skip finishes the task with Skipped, used when content was deduplicated.
func (t *Tracker) Skip(ctx context.Context, id int64, res Result) error {
	return t.finish(ctx, id, models.StatusSkipped, false, res)
}

// Fail finishes the task with Failed.
func (t *Tracker) Fail(ctx context.Context, id int64, retryable bool, message string) error {
	return t.finish(ctx, id, models.StatusFailed, retryable, Result{Message: message})
}

func (t *Tracker) finish(ctx context.Context, id int64, status models.Status, retryable bool, res Result) error {
	return t.mutate(ctx, id, func(task *models.UploadTask) bool {
		task.Status = status
		task.Retryable = retryable
		task.Message = res.Message
		if status != models.StatusFailed {
			task.Progress = 100
		}
		if res.BlobRef != "" {
			task.BlobRef = res.BlobRef
		}
		if res.NodeID != nil {
			task.NodeID = models.IDPtr(*res.NodeID)
		}
		t.metrics.TaskFinished(task.Operation.String(), string(status))
		return true
	})
}

// mutate applies fn to the live task under the lock, persists and
// publishes when fn reports a change.
func (t *Tracker) mutate(ctx context.Context, id int64, fn func(*models.UploadTask) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return fmt.Errorf("task %d: %w", id, common.ErrNotFound)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %d is %s: %w", id, task.Status, common.ErrTaskFinished)
	}
	if !fn(task) {
		return nil
	}
	task.UpdatedAt = t.now()

	var persistErr error
	if t.repo != nil {
		if err := t.repo.Update(ctx, task); err != nil {
			persistErr = fmt.Errorf("persist task %d: %w", id, err)
			t.log.Warn(ctx, "task change not persisted", "task", id, "status", task.Status, "error", err)
		}
	}
	t.publishLocked(task)
	return persistErr
}

func (t *Tracker) publishLocked(task *models.UploadTask) {
	if len(t.subs) == 0 {
		return
	}
	ev := Event{Task: *task.Clone()}
	for _, s := range t.subs {
		select {
		case s.ch <- ev:
		default:
			t.dropped++
			t.metrics.EventDropped()
		}
	}
}

// Get returns a copy of the task.
func (t *Tracker) Get(id int64) (*models.UploadTask, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// List returns copies in submission order.
func (t *Tracker) List(f Filter) []*models.UploadTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*models.UploadTask, 0, len(t.order))
	for _, id := range t.order {
		task := t.tasks[id]
		if f.FailedOnly && task.Status != models.StatusFailed {
			continue
		}
		out = append(out, task.Clone())
	}
	return out
}

// Clear discards every finished task and returns how many went away.
// Running tasks stay.
func (t *Tracker) Clear(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.repo != nil {
		if _, err := t.repo.DeleteFinished(ctx); err != nil {
			return 0, fmt.Errorf("clear tasks: %w", err)
		}
	}

	kept := t.order[:0]
	removed := 0
	for _, id := range t.order {
		if t.tasks[id].Status.Terminal() {
			delete(t.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	return removed, nil
}

// Subscribe returns a channel of events with the given buffer and a
// function that detaches it and closes the channel.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	s := &subscriber{ch: make(chan Event, buffer)}
	t.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(s.ch)
		})
	}
}

// Dropped is the number of events lost to full subscriber buffers.
func (t *Tracker) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
