package digest

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/chunkup/internal/localfs"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	rand.New(rand.NewSource(42)).Read(data)
	return data
}

// TestSum_MatchesOneShot verifies the windowed digest equals a single-pass hash
func TestSum_MatchesOneShot(t *testing.T) {
	data := randomBytes(t, 100_003)
	blob := localfs.FromBytes("data", data)

	md5sum := md5.Sum(data)
	shasum := sha256.Sum256(data)
	xx := xxhash.New()
	xx.Write(data)

	tests := []struct {
		algorithm string
		want      string
	}{
		{MD5, hex.EncodeToString(md5sum[:])},
		{SHA256, hex.EncodeToString(shasum[:])},
		{XXHash, hex.EncodeToString(xx.Sum(nil))},
	}
	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			h := &Hasher{Algorithm: tt.algorithm, WindowSize: 4096}
			got, err := h.Sum(context.Background(), blob, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestSum_IndependentOfWindowSize verifies identical bytes give identical digests
// whatever window the hasher reads with
func TestSum_IndependentOfWindowSize(t *testing.T) {
	data := randomBytes(t, 65_537)
	var digests []string
	for _, window := range []int{1, 7, 1024, 65_536, 1 << 20} {
		h := &Hasher{Algorithm: MD5, WindowSize: window}
		d, err := h.Sum(context.Background(), localfs.FromBytes("a", data), nil)
		require.NoError(t, err)
		digests = append(digests, d)
	}
	for _, d := range digests[1:] {
		assert.Equal(t, digests[0], d)
	}
}

// TestSum_Empty verifies an empty blob hashes to the empty-input digest
func TestSum_Empty(t *testing.T) {
	h, err := New(MD5)
	require.NoError(t, err)
	d, err := h.Sum(context.Background(), localfs.FromBytes("empty", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", d)
}

// TestSum_Progress verifies progress callbacks advance to the total
func TestSum_Progress(t *testing.T) {
	data := randomBytes(t, 10_000)
	h := &Hasher{Algorithm: MD5, WindowSize: 3000}

	var calls []int64
	_, err := h.Sum(context.Background(), localfs.FromBytes("p", data), func(done, total int64) {
		assert.Equal(t, int64(10_000), total)
		calls = append(calls, done)
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3000, 6000, 9000, 10_000}, calls)
}

type failingBlob struct {
	localfs.Blob
	failAt int64
}

func (f failingBlob) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.failAt {
		return 0, errors.New("disk on fire")
	}
	return f.Blob.ReadAt(p, off)
}

// TestSum_ReadError verifies a failed window surfaces as a ReadError
func TestSum_ReadError(t *testing.T) {
	blob := failingBlob{Blob: localfs.FromBytes("bad", randomBytes(t, 1000)), failAt: 500}
	h := &Hasher{Algorithm: MD5, WindowSize: 100}

	_, err := h.Sum(context.Background(), blob, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRead))

	var readErr *ReadError
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, int64(500), readErr.Offset)
	assert.Contains(t, err.Error(), "disk on fire")
}

// TestSum_Cancelled verifies cancellation is observed between windows
func TestSum_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hasher{Algorithm: MD5, WindowSize: 10}

	_, err := h.Sum(ctx, localfs.FromBytes("c", randomBytes(t, 1000)), func(done, _ int64) {
		if done >= 50 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestNew_UnknownAlgorithm verifies unsupported names are rejected
func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := New("crc32")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

// TestCache verifies file digests are reused until the file changes
func TestCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0644))

	cache, err := NewCache(4)
	require.NoError(t, err)
	h, err := New(MD5)
	require.NoError(t, err)

	f, err := localfs.Open(path)
	require.NoError(t, err)
	d1, hit, err := h.SumCached(context.Background(), cache, f, nil)
	require.NoError(t, err)
	assert.False(t, hit)
	f.Close()

	f, err = localfs.Open(path)
	require.NoError(t, err)
	d2, hit, err := h.SumCached(context.Background(), cache, f, nil)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, d1, d2)
	f.Close()

	// Different algorithm is a different entry
	sha := &Hasher{Algorithm: SHA256, WindowSize: 1024}
	f, err = localfs.Open(path)
	require.NoError(t, err)
	_, hit, err = sha.SumCached(context.Background(), cache, f, nil)
	require.NoError(t, err)
	assert.False(t, hit)
	f.Close()
	assert.Equal(t, 2, cache.Len())

	// In-memory blobs bypass the cache
	_, hit, err = h.SumCached(context.Background(), cache, localfs.FromBytes("m", []byte("x")), nil)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, cache.Len())

	// Nil cache always hashes
	var none *Cache
	_, hit, err = h.SumCached(context.Background(), none, localfs.FromBytes("m", []byte("x")), nil)
	require.NoError(t, err)
	assert.False(t, hit)
}
