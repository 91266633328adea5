package upload

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rescale/chunkup/internal/chunk"
	"github.com/rescale/chunkup/internal/localfs"
	"github.com/rescale/chunkup/internal/ratelimit"
	"github.com/rescale/chunkup/internal/transport"
)

// Uploader transmits single chunks of one session's blob.
type Uploader struct {
	Transport transport.Transport
	SessionID string
	Total     int                // chunks in the file
	Limiter   *ratelimit.Limiter // shared bandwidth cap; nil is unlimited
}

// Upload sends chunk c of blob. onProgress receives clamped, non-decreasing
// percentages; values of 100 are held back until the transport returns, and
// a successful upload always ends with exactly one call at 100. No call is
// made after Upload returns.
//
// The result is nil, ErrCancelled when ctx ended first (including transport
// failures observed after cancellation), or a *TransportError.
func (u *Uploader) Upload(ctx context.Context, blob localfs.Blob, c chunk.Chunk, onProgress func(float64)) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}

	var (
		mu     sync.Mutex
		last   float64
		closed bool
	)
	report := func(p float64) {
		if onProgress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		if p < 0 {
			p = 0
		}
		if p >= 100 || p <= last {
			return
		}
		last = p
		onProgress(p)
	}

	meta := transport.ChunkMeta{
		SessionID: u.SessionID,
		FileName:  blob.Name(),
		FileSize:  blob.Size(),
		Digest:    c.Digest,
		Index:     c.Index,
		Total:     u.Total,
		Start:     c.Start,
		End:       c.End,
	}
	body := u.Limiter.Reader(ctx, io.NewSectionReader(blob, c.Start, c.Size()))
	err := u.Transport.Transmit(ctx, body, meta, report)

	mu.Lock()
	closed = true
	mu.Unlock()

	if err == nil {
		if onProgress != nil {
			onProgress(100)
		}
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, transport.ErrCancelled) || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return &TransportError{Index: c.Index, Err: err}
}
