package dbx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// RetryPolicy describes the optimistic-concurrency retry loop:
// up to Attempts tries, sleeping attempt*Backoff between them.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy is three attempts with 100ms linear backoff.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}

// sleep is swapped in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsConflict reports whether err is a concurrency conflict worth retrying:
// a version mismatch from a repository, a Postgres serialization or
// deadlock failure, or a busy/locked SQLite database. An error that already
// went through an exhausted Retry is final and does not count.
func IsConflict(err error) bool {
	if err == nil || errors.Is(err, common.ErrFatalStore) {
		return false
	}
	if errors.Is(err, common.ErrConflict) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// Retry runs fn until it succeeds, fails with a non-conflict error, or the
// policy is exhausted. Exhaustion yields an error matching both
// common.ErrFatalStore and the last conflict.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsConflict(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, time.Duration(attempt)*p.Backoff); serr != nil {
			return serr
		}
	}

	return fmt.Errorf("%w: gave up after %d attempts: %w", common.ErrFatalStore, attempts, err)
}
