package sweep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/treevault/internal/blobstore/memory"
	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/logging"
	"github.com/dmitrijs2005/treevault/internal/metrics"
	"github.com/dmitrijs2005/treevault/internal/models"
	"github.com/dmitrijs2005/treevault/internal/repositories/nodes"
	"github.com/dmitrijs2005/treevault/internal/repositories/sqltest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(t *testing.T, s *memory.Store, key string) {
	t.Helper()
	_, err := s.Put(context.Background(), key, bytes.NewReader([]byte(key)), int64(len(key)), "text/plain", nil)
	require.NoError(t, err)
}

func seedNode(t *testing.T, repo nodes.Repository, name, ref, hash string) {
	t.Helper()
	now := time.Now().UTC()
	n := &models.TreeNode{Name: name, Path: name, BlobRef: ref, ContentHash: hash, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Insert(context.Background(), n))
}

var (
	h1 = strings.Repeat("1", 32)
	h2 = strings.Repeat("2", 32)
	h3 = strings.Repeat("3", 32)
	h4 = strings.Repeat("4", 32)
)

func setup(t *testing.T) (*Sweeper, *memory.Store, *prometheus.Registry) {
	t.Helper()
	repo := nodes.NewSQLiteRepository(sqltest.Open(t))
	blobs := memory.New()
	seedNode(t, repo, "a.txt", h1+"/a.txt", h1)
	seedNode(t, repo, "b.txt", h1+"/a.txt", h1)
	seedNode(t, repo, "c.txt", h2+"/c.txt", h2)
	put(t, blobs, h1+"/a.txt")
	put(t, blobs, h2+"/c.txt")
	put(t, blobs, h3+"/lost.bin")
	put(t, blobs, h4+"/also-lost.bin")

	reg := prometheus.NewRegistry()
	return New(repo, blobs, logging.Discard(), metrics.New(reg)), blobs, reg
}

func TestRun_DryRunReportsOnly(t *testing.T) {
	sw, blobs, _ := setup(t)

	st, err := sw.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 4, st.Scanned)
	assert.Equal(t, 2, st.Referenced)
	assert.Equal(t, []string{h3+"/lost.bin", h4+"/also-lost.bin"}, st.Orphans)
	assert.Zero(t, st.Deleted)
	assert.Equal(t, 4, blobs.Len())
}

func TestRun_DeletesOrphans(t *testing.T) {
	sw, blobs, reg := setup(t)

	st, err := sw.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Deleted)
	assert.Equal(t, 2, blobs.Len())
	assert.True(t, blobs.Has(h1+"/a.txt"))
	assert.True(t, blobs.Has(h2+"/c.txt"))

	n, err := testutil.GatherAndCount(reg, "treevault_sweep_objects_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "scanned, orphaned, deleted")
}

func TestRun_Prefix(t *testing.T) {
	sw, blobs, _ := setup(t)

	st, err := sw.Run(context.Background(), Options{Prefix: h3+"/"})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Scanned)
	assert.Equal(t, 1, st.Deleted)
	assert.True(t, blobs.Has(h4+"/also-lost.bin"))
}

func TestRun_LeavesForeignKeys(t *testing.T) {
	sw, blobs, _ := setup(t)
	put(t, blobs, "README")
	put(t, blobs, "backups/2026-10-01.tar")
	put(t, blobs, h3+"/nested/x.bin")

	st, err := sw.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, st.Foreign)
	assert.Equal(t, 4, st.Scanned)
	assert.Equal(t, []string{h3 + "/lost.bin", h4 + "/also-lost.bin"}, st.Orphans)
	assert.True(t, blobs.Has("README"))
	assert.True(t, blobs.Has("backups/2026-10-01.tar"))
	assert.True(t, blobs.Has(h3+"/nested/x.bin"))
}

func TestRun_DeleteFailureCounted(t *testing.T) {
	sw, blobs, _ := setup(t)
	blobs.SetHooks(memory.Hooks{BeforeDelete: func(key string) error {
		if key == h3+"/lost.bin" {
			return fmt.Errorf("%w: 500", common.ErrTransient)
		}
		return nil
	}})

	st, err := sw.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Deleted)
	assert.Equal(t, 1, st.Failed)
	assert.True(t, blobs.Has(h3+"/lost.bin"))
}

func TestRun_ListErrorAborts(t *testing.T) {
	sw, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sw.Run(ctx, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

type fakeLock struct {
	calls int
}

func (f *fakeLock) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

func TestSchedule(t *testing.T) {
	sw, blobs, _ := setup(t)
	lock := &fakeLock{}

	_, err := NewSchedule("not a spec", sw, lock, logging.Discard())
	require.Error(t, err)

	s, err := NewSchedule("@every 1h", sw, lock, logging.Discard())
	require.NoError(t, err)

	s.tick(context.Background())
	assert.Equal(t, 1, lock.calls)
	assert.Equal(t, 2, blobs.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("schedule did not stop")
	}
}
