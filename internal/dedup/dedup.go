// Package dedup decides when content already stored can be reused and when
// a blob is no longer referenced by any tree node.
//
// There is no stored reference counter: every decision is a live count
// over the metadata store, taken by the caller that is about to act on it.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/dmitrijs2005/treevault/internal/logging"
	"github.com/dmitrijs2005/treevault/internal/repositories/nodes"
)

// ExistingBlob is content already present in the blob store.
type ExistingBlob struct {
	ContentHash string
	BlobRef     string
	// NodeID is one node already carrying the blob.
	NodeID int64
}

type Engine struct {
	nodes nodes.Repository
	log   logging.Logger
}

func New(repo nodes.Repository, log logging.Logger) *Engine {
	return &Engine{nodes: repo, log: log}
}

// Resolve looks up any file node with the given fingerprint. It returns
// nil, nil when the content is new.
func (e *Engine) Resolve(ctx context.Context, fingerprint string) (*ExistingBlob, error) {
	n, err := e.nodes.FindByHash(ctx, fingerprint)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", fingerprint, err)
	}
	if n.BlobRef == "" {
		// metadata without a blob cannot be reused
		return nil, nil
	}
	return &ExistingBlob{ContentHash: n.ContentHash, BlobRef: n.BlobRef, NodeID: n.ID}, nil
}

// HasOtherReferences reports whether any node outside exclude still
// carries fingerprint.
func (e *Engine) HasOtherReferences(ctx context.Context, fingerprint string, exclude ...int64) (bool, error) {
	count, err := e.nodes.CountByHashExcluding(ctx, fingerprint, exclude)
	if err != nil {
		return false, err
	}
	e.log.Debug(ctx, "reference check", "hash", fingerprint, "excluded", len(exclude), "others", count)
	return count > 0, nil
}

// CanReclaim is the negation of HasOtherReferences: the blob may be
// physically deleted once the excluded nodes are gone.
func (e *Engine) CanReclaim(ctx context.Context, fingerprint string, exclude ...int64) (bool, error) {
	others, err := e.HasOtherReferences(ctx, fingerprint, exclude...)
	if err != nil {
		return false, err
	}
	return !others, nil
}
