package blobstore

import (
	"context"
	"io"
	"iter"
	"time"
)

// Observer receives blob operation outcomes. metrics.Recorder implements it.
type Observer interface {
	ObserveBlobOp(op string, err error, elapsed time.Duration)
	AddBlobBytes(op string, n int64)
}

// Observed wraps a Store and reports every call to an Observer.
type Observed struct {
	Store
	obs Observer
}

// WithObserver returns s instrumented by obs, or s itself when obs is nil.
func WithObserver(s Store, obs Observer) Store {
	if obs == nil {
		return s
	}
	return &Observed{Store: s, obs: obs}
}

func (o *Observed) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, onProgress ProgressFunc) (Stat, error) {
	start := time.Now()
	st, err := o.Store.Put(ctx, key, r, size, contentType, onProgress)
	o.obs.ObserveBlobOp("put", err, time.Since(start))
	if err == nil {
		o.obs.AddBlobBytes("put", st.Size)
	}
	return st, err
}

func (o *Observed) Stat(ctx context.Context, key string) (Stat, error) {
	start := time.Now()
	st, err := o.Store.Stat(ctx, key)
	o.obs.ObserveBlobOp("stat", err, time.Since(start))
	return st, err
}

func (o *Observed) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := o.Store.Delete(ctx, key)
	o.obs.ObserveBlobOp("delete", err, time.Since(start))
	return err
}

func (o *Observed) List(ctx context.Context, prefix string, recursive bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start := time.Now()
		var listErr error
		defer func() { o.obs.ObserveBlobOp("list", listErr, time.Since(start)) }()

		for key, err := range o.Store.List(ctx, prefix, recursive) {
			if err != nil {
				listErr = err
			}
			if !yield(key, err) {
				return
			}
		}
	}
}
