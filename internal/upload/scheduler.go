package upload

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/http"
	"github.com/rescale/chunkup/internal/localfs"
	"github.com/rescale/chunkup/internal/logging"
)

// Scheduler runs one round of chunk uploads over the registry.
//
// Chunks that are not yet uploaded are dispatched in ascending index order,
// with at most Concurrency uploaders active. Dispatch blocks while all slots
// are taken. Cancelling the context passed to Run pauses the round: in-flight
// uploaders resolve as cancelled and Run returns ErrCancelled. A transport
// error cancels the rest of the round and is returned.
type Scheduler struct {
	Uploader    *Uploader
	Registry    *Registry
	Concurrency int

	// Retries is the number of extra attempts for a chunk whose transport
	// error is classified as retryable. Zero fails the round on the first error.
	Retries      int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	Log *logging.Logger
}

// Run uploads every unfinished chunk of blob. It returns nil when all chunks
// are uploaded, ErrCancelled when ctx was cancelled, or the first
// *TransportError.
func (s *Scheduler) Run(ctx context.Context, blob localfs.Blob) error {
	limit := s.Concurrency
	if limit <= 0 {
		limit = constants.DefaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, idx := range s.Registry.Queue() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil || !s.Registry.Acquire(idx) {
				return nil
			}
			err := s.uploadWithRetry(gctx, blob, idx)
			s.Registry.Finish(idx, err)
			if errors.Is(err, ErrCancelled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil || !s.Registry.Done() {
		return ErrCancelled
	}
	return nil
}

func (s *Scheduler) uploadWithRetry(ctx context.Context, blob localfs.Blob, idx int) error {
	initial := s.InitialDelay
	if initial <= 0 {
		initial = constants.RetryInitialDelay
	}
	maxDelay := s.MaxDelay
	if maxDelay <= 0 {
		maxDelay = constants.RetryMaxDelay
	}

	for attempt := 0; ; attempt++ {
		err := s.Uploader.Upload(ctx, blob, s.Registry.Chunk(idx), func(p float64) {
			s.Registry.Progress(idx, p)
		})
		if err == nil || errors.Is(err, ErrCancelled) || attempt >= s.Retries {
			return err
		}

		errType := http.ClassifyError(errors.Unwrap(err))
		if !errType.Retryable() {
			return err
		}

		delay := http.CalculateBackoff(attempt+1, initial, maxDelay)
		if s.Log != nil {
			s.Log.Warn().Err(err).Int("chunk", idx).Int("attempt", attempt+1).
				Dur("delay", delay).Msg("Retrying chunk")
		}
		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-time.After(delay):
		}
	}
}
