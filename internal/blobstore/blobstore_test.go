package blobstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/treevault/internal/blobstore"
	"github.com/dmitrijs2005/treevault/internal/blobstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyAndHash(t *testing.T) {
	md5 := "9e107d9d372bb6826bd81d3542a419d6"
	key := blobstore.ObjectKey(md5, "/home/me/report.pdf")
	assert.Equal(t, md5+"/report.pdf", key)
	assert.Equal(t, md5, blobstore.HashFromKey(key))

	long := strings.Repeat("0f", 32)
	assert.Equal(t, long, blobstore.HashFromKey(long+"/a.txt"))

	for _, k := range []string{
		"loose.txt",
		"README",
		"backups/2026-10-01.tar",
		"abc123/report.pdf",
		strings.ToUpper(md5) + "/report.pdf",
		md5 + "/",
		md5 + "/nested/report.pdf",
		md5 + "0/odd.txt",
	} {
		assert.Equal(t, "", blobstore.HashFromKey(k), k)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		".txt":  "text/plain",
		".PDF":  "application/pdf",
		".JPeG": "image/jpeg",
		".7z":   "application/x-7z-compressed",
		".SVG":  "image/svg+xml",
		".qzx9": blobstore.DefaultContentType,
		"":      blobstore.DefaultContentType,
	}
	for ext, want := range tests {
		assert.Equal(t, want, blobstore.ContentType(ext), ext)
	}
}

func TestProgressReader_CountsAndFollowsSeek(t *testing.T) {
	var reports []int64
	pr := blobstore.NewProgressReader(bytes.NewReader([]byte("0123456789")), func(n int64) {
		reports = append(reports, n)
	})

	buf := make([]byte, 4)
	_, err := pr.Read(buf)
	require.NoError(t, err)
	_, err = pr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pr.Transferred())

	pos, err := pr.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Zero(t, pos)
	assert.Zero(t, pr.Transferred())

	rest, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Len(t, rest, 10)
	assert.Equal(t, int64(10), reports[len(reports)-1])
}

func TestProgressReader_SeekUnsupported(t *testing.T) {
	pr := blobstore.NewProgressReader(io.MultiReader(strings.NewReader("x")), nil)
	_, err := pr.Seek(0, io.SeekStart)
	assert.Error(t, err)
}

type recordingObserver struct {
	ops   []string
	errs  []error
	bytes map[string]int64
}

func (r *recordingObserver) ObserveBlobOp(op string, err error, _ time.Duration) {
	r.ops = append(r.ops, op)
	r.errs = append(r.errs, err)
}

func (r *recordingObserver) AddBlobBytes(op string, n int64) {
	if r.bytes == nil {
		r.bytes = map[string]int64{}
	}
	r.bytes[op] += n
}

func TestWithObserver(t *testing.T) {
	mem := memory.New()
	assert.Same(t, mem, blobstore.WithObserver(mem, nil).(*memory.Store))

	obs := &recordingObserver{}
	s := blobstore.WithObserver(mem, obs)
	ctx := context.Background()

	_, err := s.Put(ctx, "h/a", strings.NewReader("abc"), 3, "", nil)
	require.NoError(t, err)
	_, err = s.Stat(ctx, "h/a")
	require.NoError(t, err)
	for _, err := range s.List(ctx, "", true) {
		require.NoError(t, err)
	}
	require.NoError(t, s.Delete(ctx, "h/a"))
	err = s.Delete(ctx, "h/a")
	require.Error(t, err)

	assert.Equal(t, []string{"put", "stat", "list", "delete", "delete"}, obs.ops)
	assert.True(t, errors.Is(obs.errs[4], err))
	assert.Equal(t, int64(3), obs.bytes["put"])
}
