// Package sweep finds blobs no tree node references and removes them.
//
// Orphans appear when a process dies between an upload and the node
// insert, or when a compensating delete fails. The sweep must run while
// no batch is writing: callers run it inside Orchestrator.Exclusive.
package sweep

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/treevault/internal/blobstore"
	"github.com/dmitrijs2005/treevault/internal/logging"
	"github.com/dmitrijs2005/treevault/internal/metrics"
	"github.com/dmitrijs2005/treevault/internal/repositories/nodes"
)

// Options narrows a sweep.
type Options struct {
	// Prefix limits the listing, e.g. to one hash.
	Prefix string
	// DryRun reports orphans without deleting them.
	DryRun bool
}

// Stats summarises one sweep.
type Stats struct {
	// Foreign counts keys that do not look like "{hash}/{name}" and were
	// left alone.
	Foreign    int
	Scanned    int
	Referenced int
	Orphans    []string
	Deleted    int
	Failed     int
	Elapsed    time.Duration
}

type Sweeper struct {
	nodes   nodes.Repository
	blobs   blobstore.Store
	log     logging.Logger
	metrics *metrics.Recorder
}

func New(repo nodes.Repository, blobs blobstore.Store, log logging.Logger, m *metrics.Recorder) *Sweeper {
	return &Sweeper{nodes: repo, blobs: blobs, log: log, metrics: m}
}

// Run lists the store and deletes every blob key that is not some node's
// blob ref. Keys not shaped like blob keys are never touched. Listing errors abort the sweep; delete errors are counted and the
// sweep goes on.
func (s *Sweeper) Run(ctx context.Context, opts Options) (Stats, error) {
	start := time.Now()
	var st Stats

	refs, err := s.nodes.ListBlobRefs(ctx)
	if err != nil {
		return st, fmt.Errorf("list blob refs: %w", err)
	}
	live := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		live[r] = struct{}{}
	}

	for key, err := range s.blobs.List(ctx, opts.Prefix, true) {
		if err != nil {
			return st, fmt.Errorf("list blobs: %w", err)
		}
		if strings.HasSuffix(key, "/") {
			continue
		}
		if blobstore.HashFromKey(key) == "" {
			st.Foreign++
			s.log.Debug(ctx, "foreign key skipped", "blob", key)
			continue
		}
		st.Scanned++
		if _, ok := live[key]; ok {
			st.Referenced++
			continue
		}
		st.Orphans = append(st.Orphans, key)
	}

	if !opts.DryRun {
		for _, key := range st.Orphans {
			if err := s.blobs.Delete(ctx, key); err != nil {
				st.Failed++
				s.log.Warn(ctx, "orphan not removed", "blob", key, "error", err)
				continue
			}
			st.Deleted++
		}
	}
	st.Elapsed = time.Since(start)

	s.metrics.SweepObserved("scanned", st.Scanned)
	s.metrics.SweepObserved("orphaned", len(st.Orphans))
	s.metrics.SweepObserved("deleted", st.Deleted)
	s.metrics.SweepObserved("failed", st.Failed)

	s.log.Info(ctx, "sweep finished", "scanned", st.Scanned, "orphans", len(st.Orphans),
		"deleted", st.Deleted, "failed", st.Failed, "foreign", st.Foreign, "dry_run", opts.DryRun, "elapsed", st.Elapsed)
	return st, nil
}
