// Package digest computes whole-content digests of upload blobs by reading them
// in fixed-size windows, so memory stays proportional to the window size rather
// than the blob size.
package digest

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/localfs"
	"github.com/rescale/chunkup/internal/util/buffers"
)

// Supported algorithms
const (
	MD5    = "md5"
	SHA256 = "sha256"
	XXHash = "xxhash"
)

var (
	// ErrRead is matched by every *ReadError.
	ErrRead = errors.New("read error")
	// ErrUnknownAlgorithm is returned for an algorithm name not listed above.
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
)

// ReadError reports a failed window read during hashing.
type ReadError struct {
	Name   string
	Offset int64
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s at offset %d: %v", e.Name, e.Offset, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRead) true for any *ReadError.
func (e *ReadError) Is(target error) bool { return target == ErrRead }

// ProgressFunc receives the number of bytes hashed so far and the blob size.
type ProgressFunc func(done, total int64)

// Hasher computes digests over blobs one window at a time.
type Hasher struct {
	Algorithm  string
	WindowSize int
}

// New returns a Hasher for algorithm with the default window size.
func New(algorithm string) (*Hasher, error) {
	if _, err := newHash(algorithm); err != nil {
		return nil, err
	}
	return &Hasher{Algorithm: algorithm, WindowSize: constants.HashWindowSize}, nil
}

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case MD5, "":
		return md5.New(), nil
	case SHA256:
		return sha256.New(), nil
	case XXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// Sum reads blob sequentially in windows and returns the lowercase hex digest of
// its entire content. The context is checked between windows; cancellation
// returns ctx.Err(). onProgress may be nil.
func (h *Hasher) Sum(ctx context.Context, blob localfs.Blob, onProgress ProgressFunc) (string, error) {
	acc, err := newHash(h.Algorithm)
	if err != nil {
		return "", err
	}

	window := h.WindowSize
	if window <= 0 {
		window = constants.HashWindowSize
	}
	buf := buffers.Get(window)
	defer buffers.Put(buf)

	adviseSequential(blob)

	total := blob.Size()
	var off int64
	for off < total {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		want := int64(window)
		if remaining := total - off; remaining < want {
			want = remaining
		}
		n, err := blob.ReadAt((*buf)[:want], off)
		if err != nil && !(errors.Is(err, io.EOF) && int64(n) == want) {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return "", &ReadError{Name: blob.Name(), Offset: off, Err: err}
		}
		acc.Write((*buf)[:n])
		off += int64(n)

		if onProgress != nil {
			onProgress(off, total)
		}
	}

	return hex.EncodeToString(acc.Sum(nil)), nil
}
