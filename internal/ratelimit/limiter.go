// Package ratelimit caps the combined upload bandwidth of a session using a
// token bucket counted in bytes.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"
)

// Limiter is a token bucket shared by every chunk upload of a session.
// Tokens are bytes; the bucket refills at the configured rate and holds at
// most one second's worth. A nil *Limiter never blocks.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64 // may go negative while readers are queued
	maxTokens  float64
	refillRate float64 // bytes per second
	lastRefill time.Time
	waited     time.Duration
}

// New returns a limiter allowing bytesPerSec, or nil when bytesPerSec <= 0.
func New(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	rate := float64(bytesPerSec)
	return &Limiter{
		tokens:     rate, // start with a full bucket
		maxTokens:  rate,
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// Rate returns the configured bytes per second.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.refillRate)
}

// Burst is the largest single reservation; Reader splits reads to fit.
func (l *Limiter) Burst() int {
	if l == nil {
		return 0
	}
	return int(l.maxTokens)
}

// Waited returns the total time callers spent blocked.
func (l *Limiter) Waited() time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waited
}

// refillLocked adds tokens for the time elapsed since the last refill.
func (l *Limiter) refillLocked(now time.Time) {
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now
}

// WaitN blocks until n bytes may be sent or ctx ends. The bytes are reserved
// up front so concurrent callers are served in arrival order; a cancelled
// wait gives its reservation back.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.refillLocked(time.Now())
	l.tokens -= float64(n)
	deficit := -l.tokens
	l.mu.Unlock()

	if deficit <= 0 {
		return nil
	}

	wait := time.Duration(deficit / l.refillRate * float64(time.Second))
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		l.mu.Lock()
		l.tokens += float64(n)
		l.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		l.mu.Lock()
		l.waited += wait
		l.mu.Unlock()
		return nil
	}
}

// Reader throttles reads from r against l. Seek is passed through so
// transports can rewind a chunk body for a retry. With a nil limiter r is
// returned unchanged.
func (l *Limiter) Reader(ctx context.Context, r io.ReadSeeker) io.ReadSeeker {
	if l == nil {
		return r
	}
	return &reader{ctx: ctx, r: r, lim: l}
}

type reader struct {
	ctx context.Context
	r   io.ReadSeeker
	lim *Limiter
}

func (t *reader) Read(p []byte) (int, error) {
	if burst := t.lim.Burst(); len(p) > burst {
		p = p[:burst]
	}
	if err := t.lim.WaitN(t.ctx, len(p)); err != nil {
		return 0, err
	}
	return t.r.Read(p)
}

func (t *reader) Seek(offset int64, whence int) (int64, error) {
	return t.r.Seek(offset, whence)
}
