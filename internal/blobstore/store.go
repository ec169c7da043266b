// Package blobstore defines the content-addressed object store contract.
//
// Objects are keyed "{contentHash}/{originalFileName}". The store is
// unaware of the tree: it never decides whether a blob may be removed,
// that is the caller's reference check.
package blobstore

import (
	"context"
	"io"
	"iter"
)

// Stat describes a stored object.
type Stat struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// ProgressFunc receives the cumulative number of bytes read from the
// upload body.
type ProgressFunc func(transferred int64)

// Store is implemented by the S3 and in-memory backends.
//
// Stat and Delete return an error matching common.ErrNotFound when the key
// is absent. Backend failures are wrapped with common.ErrTransient when a
// retry could succeed and common.ErrFatalStore otherwise.
type Store interface {
	// EnsureBucket creates the backing bucket when it does not exist.
	EnsureBucket(ctx context.Context) error

	// Put uploads size bytes from r under key. onProgress may be nil.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, onProgress ProgressFunc) (Stat, error)

	Stat(ctx context.Context, key string) (Stat, error)

	Delete(ctx context.Context, key string) error

	// List yields keys under prefix. Without recursive only the first
	// level is returned, with nested levels collapsed into "dir/" entries.
	// Each call starts a fresh listing.
	List(ctx context.Context, prefix string, recursive bool) iter.Seq2[string, error]
}
