// Package app assembles treevault from its configuration: the metadata
// database, the blob store, the task log and the services on top of them.
// The shell and the daemon both start from New.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/treevault/internal/blobstore"
	"github.com/dmitrijs2005/treevault/internal/blobstore/memory"
	"github.com/dmitrijs2005/treevault/internal/blobstore/s3"
	"github.com/dmitrijs2005/treevault/internal/config"
	"github.com/dmitrijs2005/treevault/internal/dbx"
	"github.com/dmitrijs2005/treevault/internal/dedup"
	"github.com/dmitrijs2005/treevault/internal/hasher"
	"github.com/dmitrijs2005/treevault/internal/ingest"
	"github.com/dmitrijs2005/treevault/internal/logging"
	"github.com/dmitrijs2005/treevault/internal/metrics"
	"github.com/dmitrijs2005/treevault/internal/repositories/repomanager"
	"github.com/dmitrijs2005/treevault/internal/sweep"
	"github.com/dmitrijs2005/treevault/internal/tracker"
	"github.com/dmitrijs2005/treevault/internal/tree"
	"github.com/prometheus/client_golang/prometheus"
)

type App struct {
	Config  *config.Config
	Log     logging.Logger
	Metrics *metrics.Recorder

	DB    *sql.DB
	Repos repomanager.RepositoryManager
	Blobs blobstore.Store

	Tracker *tracker.Tracker
	Tree    *tree.Service
	Ingest  *ingest.Orchestrator
	Sweeper *sweep.Sweeper
}

// openStore is a seam for tests that should not reach a real bucket.
var openStore = func(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobBackend {
	case "memory":
		return memory.New(), nil
	case "s3":
		return s3.NewFromConfig(ctx, s3.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}
}

// New connects to the metadata database, applies migrations, prepares the
// bucket and restores the task log. Logs go to logOut.
func New(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error) {

	log := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)
	rec := metrics.New(prometheus.NewRegistry())

	db, rm, err := repomanager.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	a := &App{Config: cfg, Log: log, Metrics: rec, DB: db, Repos: rm}

	if err := a.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	if err := a.Repos.RunMigrations(ctx, a.DB); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	a.Blobs = blobstore.WithObserver(store, a.Metrics)
	if err := a.Blobs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", cfg.S3Bucket, err)
	}

	h, err := hasher.New(hasher.Algorithm(cfg.HashAlgorithm))
	if err != nil {
		return err
	}

	retry := dbx.RetryPolicy{Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff}
	nodes := a.Repos.Nodes(a.DB)

	a.Tracker = tracker.New(a.Repos.Tasks(a.DB), a.Log.With("component", "tracker"), a.Metrics)
	if err := a.Tracker.Load(ctx); err != nil {
		return err
	}

	dd := dedup.New(nodes, a.Log.With("component", "dedup"))
	a.Tree = tree.New(a.DB, a.Repos, a.Blobs, a.Tracker, dd, a.Log.With("component", "tree"), retry)
	a.Ingest = ingest.New(a.Tree, a.Blobs, h, dd, a.Tracker, a.Log.With("component", "ingest"), ingest.Options{
		ChunkThreshold: cfg.ChunkThreshold,
		PartSize:       cfg.PartSize,
		Retry:          retry,
	})
	a.Sweeper = sweep.New(nodes, a.Blobs, a.Log.With("component", "sweep"), a.Metrics)

	a.Log.Debug(ctx, "app initialized", "driver", cfg.DatabaseDriver, "backend", cfg.BlobBackend, "hash", cfg.HashAlgorithm)
	return nil
}

// Sweep runs one orphan sweep serialized with batches.
func (a *App) Sweep(ctx context.Context, opts sweep.Options) (sweep.Stats, error) {
	var st sweep.Stats
	err := a.Ingest.Exclusive(ctx, func(ctx context.Context) error {
		var err error
		st, err = a.Sweeper.Run(ctx, opts)
		return err
	})
	return st, err
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	err := a.DB.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}
