// Package upload implements the chunked upload pipeline: a session hashes the
// selected blob, splits it into chunks and uploads them concurrently under a
// cap, with pause and resume.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/chunkup/internal/chunk"
	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/digest"
	"github.com/rescale/chunkup/internal/events"
	"github.com/rescale/chunkup/internal/localfs"
	"github.com/rescale/chunkup/internal/logging"
	"github.com/rescale/chunkup/internal/ratelimit"
	"github.com/rescale/chunkup/internal/transport"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusHashing   Status = "hashing"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	Transport     transport.Transport
	ChunkSize     int64
	Concurrency   int
	HashAlgorithm string
	HashWindow    int

	// ChunkRetries enables bounded per-chunk retry with backoff. Zero keeps
	// the fail-fast behavior where one transport error ends the round.
	ChunkRetries      int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// MaxBytesPerSec caps the combined rate of all chunk uploads. Zero is
	// unlimited.
	MaxBytesPerSec int64
}

// Option customizes a Session.
type Option func(*Session)

// WithEventBus publishes status, hashing, chunk and overall progress events.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Session) { s.bus = bus }
}

// WithLogger sets the session logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Session) { s.baseLog = log }
}

// WithDigestCache reuses digests of unchanged local files across selections.
func WithDigestCache(cache *digest.Cache) Option {
	return func(s *Session) { s.cache = cache }
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Size     int64         `json:"size"`
	Digest   string        `json:"digest,omitempty"`
	Status   Status        `json:"status"`
	Progress int           `json:"progress"`
	Chunks   []chunk.Chunk `json:"chunks"`
	Err      string        `json:"error,omitempty"`
}

// Session owns one selected blob and its upload state. Start, Pause, Resume
// and SelectFile may be called from different goroutines.
type Session struct {
	cfg     SessionConfig
	bus     *events.EventBus
	baseLog *logging.Logger
	cache   *digest.Cache
	limiter *ratelimit.Limiter

	mu       sync.Mutex
	gen      uint64 // bumped by SelectFile; stale runs must not touch state
	id       string
	log      *logging.Logger
	blob     localfs.Blob
	digest   string
	registry *Registry
	status   Status
	err      error
	cancel   context.CancelFunc
	begun    bool // the transport's Assembler.Begin succeeded for this attempt
	started  time.Time
}

// NewSession returns a session with no file selected.
func NewSession(cfg SessionConfig, opts ...Option) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errors.New("upload: transport is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = constants.ChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = constants.DefaultConcurrency
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = constants.DefaultHashAlgorithm
	}
	if cfg.HashWindow <= 0 {
		cfg.HashWindow = constants.HashWindowSize
	}
	if _, err := digest.New(cfg.HashAlgorithm); err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, status: StatusIdle, limiter: ratelimit.New(cfg.MaxBytesPerSec)}
	for _, opt := range opts {
		opt(s)
	}
	if s.baseLog == nil {
		s.baseLog = logging.Nop()
	}
	s.log = s.baseLog
	return s, nil
}

// SelectFile discards any previous state, cancelling a running round, and
// makes blob the session's file with status idle and a new ID.
func (s *Session) SelectFile(blob localfs.Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.id = uuid.NewString()
	s.log = s.baseLog.WithSession(s.id)
	s.blob = blob
	s.digest = ""
	s.registry = nil
	s.err = nil
	s.begun = false
	s.setStatusLocked(StatusIdle)
	s.log.Debug().Str("file", blob.Name()).Int64("size", blob.Size()).Msg("File selected")
}

// Start hashes the file, splits it into chunks and uploads them. It blocks
// until the upload completes, is paused, or fails.
//
// Start is allowed from idle, paused and error, and always starts over with a
// fresh hash and fresh chunks. It returns ErrNoFile without a file and
// ErrBusy while hashing or uploading or once completed.
//
// The result is nil on completion, ErrCancelled when paused or cancelled,
// and the failure otherwise.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.blob == nil {
		s.mu.Unlock()
		return ErrNoFile
	}
	switch s.status {
	case StatusHashing, StatusUploading, StatusCompleted:
		s.mu.Unlock()
		return ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	gen := s.gen
	blob := s.blob
	id := s.id
	log := s.log
	wasBegun := s.begun
	s.begun = false
	s.digest = ""
	s.registry = nil
	s.err = nil
	s.started = time.Now()
	s.setStatusLocked(StatusHashing)
	s.mu.Unlock()

	asm, _ := s.cfg.Transport.(transport.Assembler)
	if asm != nil && wasBegun {
		if err := asm.Abort(runCtx, transport.FileMeta{SessionID: id, FileName: blob.Name()}); err != nil {
			log.Warn().Err(err).Msg("Failed to abort previous attempt")
		}
	}

	hasher := &digest.Hasher{Algorithm: s.cfg.HashAlgorithm, WindowSize: s.cfg.HashWindow}
	sum, cached, err := hasher.SumCached(runCtx, s.cache, blob, func(done, total int64) {
		s.bus.PublishHashProgress(id, done, total)
	})
	if err != nil {
		if runCtx.Err() != nil {
			s.finishHashCancelled(gen)
			return ErrCancelled
		}
		s.fail(gen, -1, err)
		return err
	}
	log.Info().Str("digest", sum).Bool("cached", cached).Msg("Hashed file")

	chunks := chunk.Split(blob.Size(), s.cfg.ChunkSize, sum)
	file := transport.FileMeta{
		SessionID: id,
		FileName:  blob.Name(),
		FileSize:  blob.Size(),
		Digest:    sum,
		Chunks:    len(chunks),
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrCancelled
	}
	s.digest = sum
	s.registry = NewRegistry(chunks, s.chunkChanged(id))
	s.mu.Unlock()

	if asm != nil && len(chunks) > 0 {
		if err := asm.Begin(runCtx, file); err != nil {
			if runCtx.Err() != nil {
				s.finishHashCancelled(gen)
				return ErrCancelled
			}
			terr := &TransportError{Index: -1, Err: err}
			s.fail(gen, -1, terr)
			return terr
		}
		s.mu.Lock()
		if gen == s.gen {
			s.begun = true
		}
		s.mu.Unlock()
	}

	return s.runRound(runCtx, gen, file)
}

// finishHashCancelled returns an interrupted hashing pass to idle.
func (s *Session) finishHashCancelled(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.cancel = nil
	s.setStatusLocked(StatusIdle)
}

// Pause cancels the running round. It is a no-op unless uploading; the
// session becomes paused once in-flight uploaders have resolved.
func (s *Session) Pause() {
	s.mu.Lock()
	if s.status != StatusUploading || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	log := s.log
	s.mu.Unlock()

	log.Info().Msg("Pausing upload")
	cancel()
}

// Resume re-runs the scheduler over the existing chunks, skipping those
// already uploaded. It is a no-op returning nil unless paused; otherwise it
// blocks like Start.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusPaused || s.registry == nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	gen := s.gen
	file := transport.FileMeta{
		SessionID: s.id,
		FileName:  s.blob.Name(),
		FileSize:  s.blob.Size(),
		Digest:    s.digest,
		Chunks:    s.registry.Len(),
	}
	s.setStatusLocked(StatusUploading)
	log := s.log
	s.mu.Unlock()

	log.Info().Msg("Resuming upload")
	return s.runRound(runCtx, gen, file)
}

func (s *Session) runRound(ctx context.Context, gen uint64, file transport.FileMeta) error {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrCancelled
	}
	s.setStatusLocked(StatusUploading)
	sched := &Scheduler{
		Uploader: &Uploader{
			Transport: s.cfg.Transport,
			SessionID: file.SessionID,
			Total:     file.Chunks,
			Limiter:   s.limiter,
		},
		Registry:     s.registry,
		Concurrency:  s.cfg.Concurrency,
		Retries:      s.cfg.ChunkRetries,
		InitialDelay: s.cfg.RetryInitialDelay,
		MaxDelay:     s.cfg.RetryMaxDelay,
		Log:          s.log,
	}
	blob := s.blob
	log := s.log
	s.mu.Unlock()

	err := sched.Run(ctx, blob)
	if err == nil && file.Chunks > 0 {
		if asm, ok := s.cfg.Transport.(transport.Assembler); ok {
			if cerr := asm.Complete(ctx, file); cerr != nil {
				if ctx.Err() != nil {
					err = ErrCancelled
				} else {
					err = &TransportError{Index: -1, Err: cerr}
				}
			}
		}
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrCancelled
	}
	s.cancel = nil

	switch {
	case err == nil:
		s.begun = false
		s.setStatusLocked(StatusCompleted)
		took := time.Since(s.started)
		s.mu.Unlock()
		log.Info().Dur("took", took).Msg("Upload completed")
		s.bus.PublishComplete(file.SessionID, file.Digest, file.FileSize, took)
		return nil

	case errors.Is(err, ErrCancelled):
		s.setStatusLocked(StatusPaused)
		s.mu.Unlock()
		return ErrCancelled

	default:
		s.mu.Unlock()
		chunkIdx := -1
		var terr *TransportError
		if errors.As(err, &terr) {
			chunkIdx = terr.Index
		}
		s.fail(gen, chunkIdx, err)
		return err
	}
}

// fail records err and moves the session to error.
func (s *Session) fail(gen uint64, chunkIdx int, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.cancel = nil
	s.err = err
	id := s.id
	log := s.log
	s.setStatusLocked(StatusError)
	s.mu.Unlock()

	log.Error().Err(err).Msg("Upload failed")
	s.bus.PublishError(id, chunkIdx, err)
}

// setStatusLocked changes status and publishes the transition.
func (s *Session) setStatusLocked(next Status) {
	prev := s.status
	if prev == next {
		return
	}
	s.status = next
	var errMsg string
	if next == StatusError && s.err != nil {
		errMsg = s.err.Error()
	}
	s.log.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("Status changed")
	s.bus.PublishStatus(s.id, string(prev), string(next), errMsg)
}

func (s *Session) chunkChanged(id string) ChangeFunc {
	var mu sync.Mutex
	lastOverall := -1
	return func(c chunk.Chunk, overall int) {
		s.bus.PublishChunk(id, c.Index, c.Size(), c.Progress, string(c.Status))
		mu.Lock()
		defer mu.Unlock()
		if overall > lastOverall {
			lastOverall = overall
			s.bus.PublishProgress(id, overall)
		}
	}
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ID returns the current session ID, or "" before a file is selected.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Err returns the error that moved the session to error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Progress returns the overall percent derived from chunk state. A completed
// session with no chunks reports 100.
func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Session) progressLocked() int {
	if s.registry == nil || s.registry.Len() == 0 {
		if s.status == StatusCompleted {
			return 100
		}
		return 0
	}
	return s.registry.Overall()
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:       s.id,
		Digest:   s.digest,
		Status:   s.status,
		Progress: s.progressLocked(),
	}
	if s.blob != nil {
		snap.Name = s.blob.Name()
		snap.Size = s.blob.Size()
	}
	if s.registry != nil {
		snap.Chunks = s.registry.Chunks()
	}
	if s.err != nil {
		snap.Err = s.err.Error()
	}
	return snap
}

// String renders a one-line summary for logs and the status command.
func (snap Snapshot) String() string {
	done := 0
	for _, c := range snap.Chunks {
		if c.Status == chunk.StatusSuccess {
			done++
		}
	}
	return fmt.Sprintf("%s %s %d%% (%d/%d chunks)", snap.Name, snap.Status, snap.Progress, done, len(snap.Chunks))
}
