// Package hasher computes the content fingerprint that keys deduplication
// and blob object names.
package hasher

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/dmitrijs2005/treevault/internal/common"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	BLAKE3  Algorithm = "blake3"
	BLAKE2b Algorithm = "blake2b"
	// MD5 matches buckets populated by older tooling that keyed on md5.
	MD5 Algorithm = "md5"
)

// Hasher streams content through a fresh digest per call. It is safe for
// concurrent use.
type Hasher struct {
	algo    Algorithm
	newHash func() hash.Hash
}

// New returns a Hasher for algo.
func New(algo Algorithm) (*Hasher, error) {
	h := &Hasher{algo: algo}
	switch algo {
	case BLAKE3:
		h.newHash = func() hash.Hash { return blake3.New() }
	case BLAKE2b:
		h.newHash = func() hash.Hash {
			d, _ := blake2b.New256(nil) // only fails for oversized keys
			return d
		}
	case MD5:
		h.newHash = md5.New
	default:
		return nil, &common.ValidationError{Field: "hash_algorithm", Message: fmt.Sprintf("unsupported algorithm %q", algo)}
	}
	return h, nil
}

func (h *Hasher) Algorithm() Algorithm {
	return h.algo
}

// HashReader digests everything r yields and returns lower-case hex.
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	d := h.newHash()
	if _, err := io.Copy(d, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// HashFile digests the file at path without loading it into memory.
// Open and read failures are reported as common.ErrIO.
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", common.ErrIO, path, err)
	}
	defer f.Close()

	sum, err := h.HashReader(f)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", common.ErrIO, path, err)
	}
	return sum, nil
}
