// Package transport defines how a single chunk's bytes leave the process and
// provides the simulated, HTTP, S3 and Azure implementations.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrCancelled is returned when a transmission observed cancellation before
// completing.
var ErrCancelled = errors.New("transmission cancelled")

// ProgressFunc receives the percentage of the chunk transmitted so far.
type ProgressFunc func(percent float64)

// ChunkMeta describes the chunk being transmitted.
type ChunkMeta struct {
	SessionID string
	FileName  string
	FileSize  int64
	Digest    string // whole-file digest
	Index     int
	Total     int // number of chunks in the file
	Start     int64
	End       int64
}

// Size returns the chunk length in bytes.
func (m ChunkMeta) Size() int64 { return m.End - m.Start }

// FileMeta describes the whole upload for transports that assemble chunks.
type FileMeta struct {
	SessionID string
	FileName  string
	FileSize  int64
	Digest    string
	Chunks    int
}

// Transport transmits one chunk.
//
// Transmit returns nil on success, ErrCancelled or a context error when ctx
// ends first, and any other error for a transport failure. onProgress may be
// called zero or more times with non-decreasing values in [0,100]; it may be nil.
type Transport interface {
	Transmit(ctx context.Context, body io.Reader, meta ChunkMeta, onProgress ProgressFunc) error
	Name() string
}

// Assembler is implemented by transports whose backend needs to be told when
// an upload starts and ends (S3 multipart uploads, Azure block lists).
type Assembler interface {
	Begin(ctx context.Context, file FileMeta) error
	Complete(ctx context.Context, file FileMeta) error
	Abort(ctx context.Context, file FileMeta) error
}

// cancelled maps an error seen after ctx ended onto ErrCancelled.
func cancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	return err
}

// progressReader reports bytes read as a percentage of total. Seek rewinds the
// byte count so a retried request is not double counted; the reported percent
// never decreases.
type progressReader struct {
	reader io.ReadSeeker
	total  int64
	fn     ProgressFunc

	mu       sync.Mutex
	read     int64
	reported float64
}

func newProgressReader(r io.ReadSeeker, total int64, fn ProgressFunc) *progressReader {
	return &progressReader{reader: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.reader.Read(b)
	if n > 0 {
		p.advance(int64(n))
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.reader.Seek(offset, whence)
	if err == nil {
		p.mu.Lock()
		p.read = pos
		p.mu.Unlock()
	}
	return pos, err
}

func (p *progressReader) advance(n int64) {
	p.mu.Lock()
	p.read += n
	if p.fn == nil || p.total <= 0 {
		p.mu.Unlock()
		return
	}
	pct := float64(p.read) / float64(p.total) * 100
	if pct > 100 {
		pct = 100
	}
	if pct <= p.reported {
		p.mu.Unlock()
		return
	}
	p.reported = pct
	fn := p.fn
	p.mu.Unlock()
	fn(pct)
}

// asReadSeeker returns body as an io.ReadSeeker, buffering it when needed.
func asReadSeeker(body io.Reader) (io.ReadSeeker, error) {
	if rs, ok := body.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
