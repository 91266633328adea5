package transport

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/rescale/chunkup/internal/constants"
)

// Simulated transmits nothing. It drains the body, then advances progress in
// Ticks equal steps spread over a random latency in [MinLatency, MaxLatency].
// Cancellation is observed at every tick. With FailureRate > 0 a chunk may fail
// part-way with a connection-reset error.
type Simulated struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	Ticks       int
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated returns a Simulated transport with the default latency window.
func NewSimulated() *Simulated {
	return &Simulated{
		MinLatency: constants.SimulatedMinLatency,
		MaxLatency: constants.SimulatedMaxLatency,
		Ticks:      constants.SimulatedTicks,
	}
}

// Seed makes latency and failure draws reproducible.
func (s *Simulated) Seed(seed int64) {
	s.mu.Lock()
	s.rng = rand.New(rand.NewSource(seed))
	s.mu.Unlock()
}

func (s *Simulated) Name() string { return "simulated" }

// draw returns the total latency for one chunk and the tick at which it fails,
// or 0 if it does not fail.
func (s *Simulated) draw(ticks int) (time.Duration, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	latency := s.MinLatency
	if spread := s.MaxLatency - s.MinLatency; spread > 0 {
		latency += time.Duration(s.rng.Int63n(int64(spread)))
	}

	failAt := 0
	if s.FailureRate > 0 && s.rng.Float64() < s.FailureRate {
		failAt = 1 + s.rng.Intn(ticks)
	}
	return latency, failAt
}

func (s *Simulated) Transmit(ctx context.Context, body io.Reader, meta ChunkMeta, onProgress ProgressFunc) error {
	if err := ctx.Err(); err != nil {
		return cancelled(ctx, err)
	}
	if body != nil {
		if _, err := io.Copy(io.Discard, body); err != nil {
			return cancelled(ctx, fmt.Errorf("read chunk %d: %w", meta.Index, err))
		}
	}

	ticks := s.Ticks
	if ticks <= 0 {
		ticks = constants.SimulatedTicks
	}
	latency, failAt := s.draw(ticks)
	step := latency / time.Duration(ticks)

	timer := time.NewTimer(step)
	defer timer.Stop()
	for i := 1; i <= ticks; i++ {
		select {
		case <-ctx.Done():
			return cancelled(ctx, ctx.Err())
		case <-timer.C:
		}
		if i == failAt {
			return fmt.Errorf("simulated transfer of chunk %d: connection reset by peer", meta.Index)
		}
		if onProgress != nil {
			onProgress(float64(i) * 100 / float64(ticks))
		}
		timer.Reset(step)
	}
	return nil
}
