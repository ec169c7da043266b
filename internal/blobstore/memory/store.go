// Package memory is an in-process blobstore.Store. It backs the "memory"
// blob backend and the package tests of everything above the store.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrijs2005/treevault/internal/blobstore"
	"github.com/dmitrijs2005/treevault/internal/common"
)

type object struct {
	data        []byte
	contentType string
	etag        string
}

// Hooks lets tests inject failures. A non-nil return aborts the call.
type Hooks struct {
	BeforePut    func(key string) error
	BeforeStat   func(key string) error
	BeforeDelete func(key string) error
	// SizeOverride, when set, replaces the size reported by Stat.
	SizeOverride func(key string, size int64) int64
}

// Store keeps objects in a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	hooks   Hooks

	puts, deletes int
}

func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// SetHooks replaces the failure hooks.
func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, onProgress blobstore.ProgressFunc) (blobstore.Stat, error) {
	if err := ctx.Err(); err != nil {
		return blobstore.Stat{}, err
	}

	s.mu.RLock()
	before := s.hooks.BeforePut
	s.mu.RUnlock()
	if before != nil {
		if err := before(key); err != nil {
			return blobstore.Stat{}, err
		}
	}

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	body := blobstore.NewProgressReader(r, onProgress)
	if _, err := io.Copy(&buf, body); err != nil {
		return blobstore.Stat{}, fmt.Errorf("%w: read body for %s: %w", common.ErrTransient, key, err)
	}

	sum := md5.Sum(buf.Bytes())
	obj := object{data: buf.Bytes(), contentType: contentType, etag: hex.EncodeToString(sum[:])}

	s.mu.Lock()
	s.objects[key] = obj
	s.puts++
	s.mu.Unlock()

	return blobstore.Stat{Key: key, Size: body.Transferred(), ContentType: contentType, ETag: obj.etag}, nil
}

func (s *Store) Stat(ctx context.Context, key string) (blobstore.Stat, error) {
	if err := ctx.Err(); err != nil {
		return blobstore.Stat{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.hooks.BeforeStat != nil {
		if err := s.hooks.BeforeStat(key); err != nil {
			return blobstore.Stat{}, err
		}
	}

	obj, ok := s.objects[key]
	if !ok {
		return blobstore.Stat{}, fmt.Errorf("object %s: %w", key, common.ErrNotFound)
	}

	size := int64(len(obj.data))
	if s.hooks.SizeOverride != nil {
		size = s.hooks.SizeOverride(key, size)
	}
	return blobstore.Stat{Key: key, Size: size, ContentType: obj.contentType, ETag: obj.etag}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hooks.BeforeDelete != nil {
		if err := s.hooks.BeforeDelete(key); err != nil {
			return err
		}
	}

	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("object %s: %w", key, common.ErrNotFound)
	}
	delete(s.objects, key)
	s.deletes++
	return nil
}

func (s *Store) List(ctx context.Context, prefix string, recursive bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.RLock()
		keys := make([]string, 0, len(s.objects))
		seen := make(map[string]struct{})
		for k := range s.objects {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			if !recursive {
				if i := strings.Index(k[len(prefix):], "/"); i >= 0 {
					k = k[:len(prefix)+i+1]
				}
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		s.mu.RUnlock()

		slices.Sort(keys)
		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(k, nil) {
				return
			}
		}
	}
}

// Has reports whether key is stored.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// Data returns a copy of the stored bytes for key.
func (s *Store) Data(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(obj.data), true
}

// Len is the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Puts and Deletes count successful calls.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

func (s *Store) Deletes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deletes
}

var _ blobstore.Store = (*Store)(nil)
