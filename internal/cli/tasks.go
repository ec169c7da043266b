package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/ingest"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/sweep"
	"github.com/dmitrijs2005/treevault/internal/tracker"
	"github.com/dustin/go-humanize"
)

// Put uploads local files and folders into the current folder, printing
// task progress while the batch runs.
func (s *Shell) Put(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("put <local path>...")
	}
	paths := make([]string, 0, len(args))
	for _, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		paths = append(paths, abs)
	}

	stop := s.follow()
	batch, err := s.ingest.Ingest(ctx, s.cwd, paths)
	stop()

	s.printBatch(batch)
	return err
}

// follow prints running task progress until the returned func is called.
func (s *Shell) follow() func() {
	events, unsubscribe := s.tracker.Subscribe(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			t := ev.Task
			if t.Status.Terminal() || t.Message == "" {
				continue
			}
			s.printf("  [%3d%%] %s %s\n", t.Progress, filepath.Base(t.SourcePath), t.Message)
		}
	}()
	return func() {
		unsubscribe()
		wg.Wait()
	}
}

func (s *Shell) printBatch(batch *ingest.BatchResult) {
	if batch == nil {
		return
	}
	for _, it := range batch.Items {
		line := fmt.Sprintf("%-9s %s (task %d)", it.Status, it.SourcePath, it.TaskID)
		if it.Err != nil {
			line += ": " + describeErr(it.Err)
		}
		s.printf("%s\n", line)
	}
	up, skipped, failed := batch.Counts()
	s.printf("batch %s: %d uploaded, %d skipped, %d failed\n", batch.BatchID, up, skipped, failed)
}

func (s *Shell) Tasks(ctx context.Context, args []string) error {
	f := tracker.Filter{}
	if len(args) > 0 {
		if args[0] != "failed" {
			return usage("tasks [failed]")
		}
		f.FailedOnly = true
	}

	list := s.tracker.List(f)
	if len(list) == 0 {
		s.printf("no tasks\n")
		return nil
	}
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tOP\tSTATUS\t%%\tPATH\tMESSAGE\tUPDATED\n")
	for _, t := range list {
		status := string(t.Status)
		if t.Status == models.StatusFailed && t.Retryable {
			status += "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			t.ID, t.Operation, status, t.Progress, t.SourcePath, t.Message, humanize.Time(t.UpdatedAt))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	s.printf("* retryable\n")
	return nil
}

func (s *Shell) Retry(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("retry <task id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return &common.ValidationError{Field: "task", Message: fmt.Sprintf("%q is not a task id", args[0])}
	}

	stop := s.follow()
	batch, err := s.ingest.Retry(ctx, id)
	stop()

	s.printBatch(batch)
	return err
}

func (s *Shell) Clear(ctx context.Context, args []string) error {
	n, err := s.tracker.Clear(ctx)
	if err != nil {
		return err
	}
	s.printf("cleared %d task(s)\n", n)
	return nil
}

func (s *Shell) Sweep(ctx context.Context, args []string) error {
	opts := sweep.Options{}
	if len(args) > 0 {
		if args[0] != "dry" {
			return usage("sweep [dry]")
		}
		opts.DryRun = true
	}

	st, err := s.sweep(ctx, opts)
	if err != nil {
		return err
	}
	for _, key := range st.Orphans {
		s.printf("orphan %s\n", key)
	}
	s.printf("scanned %d, referenced %d, orphaned %d, deleted %d, failed %d, ignored %d in %s\n",
		st.Scanned, st.Referenced, len(st.Orphans), st.Deleted, st.Failed, st.Foreign, st.Elapsed.Round(time.Millisecond))
	return nil
}
