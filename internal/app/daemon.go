package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/treevault/internal/dropwatch"
	"github.com/dmitrijs2005/treevault/internal/filex"
	"github.com/dmitrijs2005/treevault/internal/sweep"
)

const shutdownTimeout = 5 * time.Second

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// RunDaemon starts the background features enabled in the configuration
// (metrics endpoint, drop folder, sweep schedule) and blocks until ctx is
// cancelled or a signal arrives. A feature that fails to start stops the rest.
func (a *App) RunDaemon(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	a.Log.Info(ctx, "Starting daemon...")
	a.initSignalHandler(cancelFunc)

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	run := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				a.Log.Error(ctx, name+" stopped", "error", err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				cancelFunc()
			}
		}()
	}

	run("task log", a.logTaskEvents)

	if a.Config.MetricsAddr != "" {
		run("metrics server", a.serveMetrics)
	}

	if a.Config.DropDir != "" {
		w, err := a.newDropWatcher()
		if err != nil {
			cancelFunc()
			wg.Wait()
			return err
		}
		run("drop folder", w.Run)
	}

	if a.Config.SweepSchedule != "" {
		s, err := sweep.NewSchedule(a.Config.SweepSchedule, a.Sweeper, a.Ingest, a.Log.With("component", "sweep"))
		if err != nil {
			cancelFunc()
			wg.Wait()
			return err
		}
		run("sweep schedule", s.Run)
	}

	wg.Wait()
	a.Log.Info(context.WithoutCancel(ctx), "daemon stopped")
	return firstErr
}

// newDropWatcher creates the drop folder when missing and watches it.
func (a *App) newDropWatcher() (*dropwatch.Watcher, error) {
	dir, err := filex.EnsureDir(a.Config.DropDir)
	if err != nil {
		return nil, fmt.Errorf("drop folder: %w", err)
	}
	return dropwatch.New(dir, a.Config.DropDebounce, a.Ingest, a.Log.With("component", "dropwatch"))
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())

	srv := &http.Server{
		Addr:              a.Config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info(ctx, "metrics server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logTaskEvents writes finished tasks to the log.
func (a *App) logTaskEvents(ctx context.Context) error {
	events, unsubscribe := a.Tracker.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t := ev.Task
			if !t.Status.Terminal() {
				continue
			}
			a.Log.Info(ctx, "task finished",
				"task", t.ID, "batch", t.BatchID, "op", t.Operation.String(),
				"path", t.SourcePath, "status", string(t.Status), "message", t.Message)
		}
	}
}
