package localfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Blob is a read-only byte source selected for upload. Its size is fixed for
// the lifetime of an upload session.
type Blob interface {
	io.ReaderAt
	io.Closer
	Name() string
	Size() int64
}

// ErrIsDirectory is returned by Open when the path names a directory.
var ErrIsDirectory = errors.New("path is a directory")

// File is a Blob backed by an open local file.
type File struct {
	f       *os.File
	path    string
	size    int64
	modTime time.Time
}

// Open opens path for upload and records its size and modification time.
func Open(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrIsDirectory)
	}
	return &File{f: f, path: abs, size: info.Size(), modTime: info.ModTime()}, nil
}

func (b *File) ReadAt(p []byte, off int64) (int, error) { return b.f.ReadAt(p, off) }
func (b *File) Close() error                            { return b.f.Close() }
func (b *File) Name() string                            { return filepath.Base(b.path) }
func (b *File) Size() int64                             { return b.size }

// Path returns the absolute path of the file.
func (b *File) Path() string { return b.path }

// ModTime returns the modification time observed at Open.
func (b *File) ModTime() time.Time { return b.modTime }

// OSFile exposes the underlying descriptor for read-ahead hints.
func (b *File) OSFile() *os.File { return b.f }

// Bytes is an in-memory Blob.
type Bytes struct {
	name string
	r    *bytes.Reader
}

// FromBytes wraps data as a Blob. The slice must not be modified afterwards.
func FromBytes(name string, data []byte) *Bytes {
	return &Bytes{name: name, r: bytes.NewReader(data)}
}

func (b *Bytes) ReadAt(p []byte, off int64) (int, error) { return b.r.ReadAt(p, off) }
func (b *Bytes) Close() error                            { return nil }
func (b *Bytes) Name() string                            { return b.name }
func (b *Bytes) Size() int64                             { return b.r.Size() }
