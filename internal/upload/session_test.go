package upload

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/chunkup/internal/chunk"
	"github.com/rescale/chunkup/internal/digest"
	"github.com/rescale/chunkup/internal/events"
	"github.com/rescale/chunkup/internal/localfs"
	"github.com/rescale/chunkup/internal/transport"
)

func newTestSession(t *testing.T, tr transport.Transport, chunkSize int64, concurrency int, opts ...Option) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		Transport:   tr,
		ChunkSize:   chunkSize,
		Concurrency: concurrency,
	}, opts...)
	require.NoError(t, err)
	return s
}

// runAsync starts fn in the background and returns a channel with its result.
func runAsync(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not return")
		return nil
	}
}

// gatedBlob blocks its first read until the gate is closed.
type gatedBlob struct {
	*localfs.Bytes
	gate    chan struct{}
	reading chan struct{}
	once    sync.Once
}

func newGatedBlob(data []byte) *gatedBlob {
	return &gatedBlob{
		Bytes:   localfs.FromBytes("gated.bin", data),
		gate:    make(chan struct{}),
		reading: make(chan struct{}),
	}
}

func (g *gatedBlob) ReadAt(p []byte, off int64) (int, error) {
	g.once.Do(func() { close(g.reading) })
	<-g.gate
	return g.Bytes.ReadAt(p, off)
}

// brokenBlob fails every read.
type brokenBlob struct{ size int64 }

func (b brokenBlob) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("input/output error")
}

func (b brokenBlob) Close() error { return nil }
func (b brokenBlob) Name() string { return "broken.bin" }
func (b brokenBlob) Size() int64  { return b.size }

// TestSession_Completes verifies a 5,000,000 byte file uploads as three chunks
func TestSession_Completes(t *testing.T) {
	data := make([]byte, 5_000_000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	tr := newFake(nil)
	s := newTestSession(t, tr, 2_097_152, 3)
	s.SelectFile(localfs.FromBytes("big.bin", data))
	assert.Equal(t, StatusIdle, s.Status())
	assert.NotEmpty(t, s.ID())

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StatusCompleted, s.Status())
	assert.Equal(t, 100, s.Progress())

	snap := s.Snapshot()
	sum := md5.Sum(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), snap.Digest)
	assert.Equal(t, []int64{2097152, 2097152, 805696}, chunk.Sizes(snap.Chunks))
	for _, c := range snap.Chunks {
		assert.Equal(t, chunk.StatusSuccess, c.Status)
		assert.Equal(t, float64(100), c.Progress)
		assert.Equal(t, snap.Digest, c.Digest)
	}
	assert.Equal(t, "big.bin completed 100% (3/3 chunks)", snap.String())

	dispatched, maxActive, overlaps := tr.stats()
	assert.ElementsMatch(t, []int{0, 1, 2}, dispatched)
	assert.LessOrEqual(t, maxActive, 3)
	assert.Zero(t, overlaps)
}

// TestSession_PauseResume verifies pause keeps chunk state and resume finishes the rest
func TestSession_PauseResume(t *testing.T) {
	tr := newFake(blockUntilCancelled)
	s := newTestSession(t, tr, 10, 3)
	s.SelectFile(localfs.FromBytes("five.bin", make([]byte, 50)))

	done := runAsync(func() error { return s.Start(context.Background()) })
	require.Eventually(t, func() bool { return tr.inFlight() == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StatusUploading, s.Status())

	s.Pause()
	assert.Equal(t, ErrCancelled, waitResult(t, done))
	assert.Equal(t, StatusPaused, s.Status())

	snap := s.Snapshot()
	for _, c := range snap.Chunks {
		assert.Equal(t, chunk.StatusPending, c.Status, "chunk %d", c.Index)
	}
	assert.Equal(t, float64(40), snap.Chunks[0].Progress)
	assert.Zero(t, snap.Chunks[4].Progress)
	assert.Equal(t, 24, snap.Progress)

	dispatched, _, _ := tr.stats()
	assert.ElementsMatch(t, []int{0, 1, 2}, dispatched)

	tr.reset()
	tr.set(nil)
	require.NoError(t, s.Resume(context.Background()))
	assert.Equal(t, StatusCompleted, s.Status())
	assert.Equal(t, 100, s.Progress())

	dispatched, maxActive, overlaps := tr.stats()
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, dispatched)
	assert.LessOrEqual(t, maxActive, 3)
	assert.Zero(t, overlaps)
}

// TestSession_ResumeSkipsUploaded verifies chunks finished before a pause are not sent again
func TestSession_ResumeSkipsUploaded(t *testing.T) {
	tr := newFake(func(ctx context.Context, meta transport.ChunkMeta, p transport.ProgressFunc) error {
		if meta.Index < 2 {
			return nil
		}
		return blockUntilCancelled(ctx, meta, p)
	})
	s := newTestSession(t, tr, 10, 2)
	s.SelectFile(localfs.FromBytes("four.bin", make([]byte, 40)))

	done := runAsync(func() error { return s.Start(context.Background()) })
	require.Eventually(t, func() bool { return tr.inFlight() == 2 }, 2*time.Second, time.Millisecond)
	s.Pause()
	assert.Equal(t, ErrCancelled, waitResult(t, done))

	snap := s.Snapshot()
	assert.Equal(t, chunk.StatusSuccess, snap.Chunks[0].Status)
	assert.Equal(t, chunk.StatusSuccess, snap.Chunks[1].Status)
	assert.Equal(t, chunk.StatusPending, snap.Chunks[2].Status)
	assert.Equal(t, chunk.StatusPending, snap.Chunks[3].Status)

	tr.reset()
	tr.set(nil)
	require.NoError(t, s.Resume(context.Background()))
	dispatched, _, _ := tr.stats()
	assert.ElementsMatch(t, []int{2, 3}, dispatched)
}

// TestSession_PauseAndResumeNoops verifies the control operations ignore the wrong states
func TestSession_PauseAndResumeNoops(t *testing.T) {
	s := newTestSession(t, newFake(nil), 10, 3)
	assert.NoError(t, s.Resume(context.Background()))
	s.Pause()
	assert.Equal(t, StatusIdle, s.Status())

	s.SelectFile(localfs.FromBytes("a.bin", make([]byte, 25)))
	assert.NoError(t, s.Resume(context.Background()))
	assert.Equal(t, StatusIdle, s.Status())

	require.NoError(t, s.Start(context.Background()))
	s.Pause()
	assert.NoError(t, s.Resume(context.Background()))
	assert.Equal(t, StatusCompleted, s.Status())
}

// TestSession_PauseWhileHashingIsIgnored verifies hashing runs to completion after a pause request
func TestSession_PauseWhileHashingIsIgnored(t *testing.T) {
	blob := newGatedBlob(make([]byte, 30))
	s := newTestSession(t, newFake(nil), 10, 3)
	s.SelectFile(blob)

	done := runAsync(func() error { return s.Start(context.Background()) })
	<-blob.reading
	assert.Equal(t, StatusHashing, s.Status())
	s.Pause()
	assert.Equal(t, StatusHashing, s.Status())

	close(blob.gate)
	require.NoError(t, waitResult(t, done))
	assert.Equal(t, StatusCompleted, s.Status())
}

// TestSession_CancelDuringHashing verifies a cancelled hash returns the session to idle
func TestSession_CancelDuringHashing(t *testing.T) {
	blob := newGatedBlob(make([]byte, 16))
	s, err := NewSession(SessionConfig{Transport: newFake(nil), ChunkSize: 8, HashWindow: 4})
	require.NoError(t, err)
	s.SelectFile(blob)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(func() error { return s.Start(ctx) })
	<-blob.reading
	cancel()
	close(blob.gate)

	assert.Equal(t, ErrCancelled, waitResult(t, done))
	assert.Equal(t, StatusIdle, s.Status())
	assert.Empty(t, s.Snapshot().Chunks)
}

// TestSession_TransportError verifies a failed chunk ends the round in error
func TestSession_TransportError(t *testing.T) {
	boom := errors.New("upstream rejected chunk")
	tr := newFake(func(ctx context.Context, meta transport.ChunkMeta, p transport.ProgressFunc) error {
		if meta.Index == 1 {
			time.Sleep(10 * time.Millisecond)
			return boom
		}
		return blockUntilCancelled(ctx, meta, p)
	})
	bus := events.NewEventBus(256)
	defer bus.Close()
	errCh := bus.Subscribe(events.EventError)

	s := newTestSession(t, tr, 10, 3, WithEventBus(bus))
	s.SelectFile(localfs.FromBytes("five.bin", make([]byte, 50)))

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusError, s.Status())
	assert.Equal(t, err, s.Err())

	snap := s.Snapshot()
	assert.Equal(t, chunk.StatusError, snap.Chunks[1].Status)
	for _, i := range []int{0, 2, 3, 4} {
		assert.Equal(t, chunk.StatusPending, snap.Chunks[i].Status, "chunk %d", i)
	}
	assert.Contains(t, snap.Err, "upstream rejected chunk")

	select {
	case ev := <-errCh:
		e := ev.(*events.ErrorEvent)
		assert.Equal(t, 1, e.Chunk)
		assert.Equal(t, s.ID(), e.SessionID)
	default:
		t.Fatal("no error event published")
	}

	// Start again from error restarts the whole upload.
	tr.reset()
	tr.set(nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StatusCompleted, s.Status())
	assert.NoError(t, s.Err())
	dispatched, _, _ := tr.stats()
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, dispatched)
}

// TestSession_HashReadError verifies an unreadable file moves the session to error
func TestSession_HashReadError(t *testing.T) {
	tr := newFake(nil)
	s := newTestSession(t, tr, 10, 3)
	s.SelectFile(brokenBlob{size: 100})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, digest.ErrRead)
	assert.Equal(t, StatusError, s.Status())
	assert.Empty(t, s.Snapshot().Chunks)

	dispatched, _, _ := tr.stats()
	assert.Empty(t, dispatched)
}

// TestSession_Guards verifies the start preconditions
func TestSession_Guards(t *testing.T) {
	_, err := NewSession(SessionConfig{})
	assert.Error(t, err)

	_, err = NewSession(SessionConfig{Transport: newFake(nil), HashAlgorithm: "crc32"})
	assert.ErrorIs(t, err, digest.ErrUnknownAlgorithm)

	s := newTestSession(t, newFake(nil), 10, 3)
	assert.Equal(t, ErrNoFile, s.Start(context.Background()))

	s.SelectFile(localfs.FromBytes("a.bin", make([]byte, 20)))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, ErrBusy, s.Start(context.Background()))

	tr := newFake(blockUntilCancelled)
	s = newTestSession(t, tr, 10, 3)
	s.SelectFile(localfs.FromBytes("b.bin", make([]byte, 20)))
	done := runAsync(func() error { return s.Start(context.Background()) })
	require.Eventually(t, func() bool { return tr.inFlight() == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, ErrBusy, s.Start(context.Background()))
	s.Pause()
	assert.Equal(t, ErrCancelled, waitResult(t, done))
}

// TestSession_SelectFileDiscardsRun verifies a new selection abandons the running upload
func TestSession_SelectFileDiscardsRun(t *testing.T) {
	tr := newFake(blockUntilCancelled)
	s := newTestSession(t, tr, 10, 3)
	s.SelectFile(localfs.FromBytes("first.bin", make([]byte, 50)))
	firstID := s.ID()

	done := runAsync(func() error { return s.Start(context.Background()) })
	require.Eventually(t, func() bool { return tr.inFlight() == 3 }, 2*time.Second, time.Millisecond)

	s.SelectFile(localfs.FromBytes("second.bin", make([]byte, 15)))
	assert.Equal(t, ErrCancelled, waitResult(t, done))
	assert.Equal(t, StatusIdle, s.Status())
	assert.NotEqual(t, firstID, s.ID())

	snap := s.Snapshot()
	assert.Equal(t, "second.bin", snap.Name)
	assert.Empty(t, snap.Chunks)
	assert.Zero(t, snap.Progress)

	tr.reset()
	tr.set(nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Len(t, s.Snapshot().Chunks, 2)
}

// TestSession_Events verifies status transitions and monotonic overall progress
func TestSession_Events(t *testing.T) {
	tr := newFake(func(ctx context.Context, meta transport.ChunkMeta, p transport.ProgressFunc) error {
		for _, v := range []float64{10, 35, 60, 85} {
			p(v)
		}
		return nil
	})
	bus := events.NewEventBus(10000)
	defer bus.Close()
	statusCh := bus.Subscribe(events.EventSessionStatus)
	progressCh := bus.Subscribe(events.EventProgress)
	hashCh := bus.Subscribe(events.EventHashProgress)
	completeCh := bus.Subscribe(events.EventComplete)

	s := newTestSession(t, tr, 1000, 2, WithEventBus(bus))
	s.SelectFile(localfs.FromBytes("ev.bin", make([]byte, 4500)))
	require.NoError(t, s.Start(context.Background()))

	var transitions []string
	for len(statusCh) > 0 {
		e := (<-statusCh).(*events.StatusEvent)
		transitions = append(transitions, e.NewStatus)
	}
	assert.Equal(t, []string{"hashing", "uploading", "completed"}, transitions)

	last := -1
	for len(progressCh) > 0 {
		e := (<-progressCh).(*events.ProgressEvent)
		assert.Greater(t, e.Percent, last)
		last = e.Percent
	}
	assert.Equal(t, 100, last)

	var hashed *events.HashProgressEvent
	for len(hashCh) > 0 {
		hashed = (<-hashCh).(*events.HashProgressEvent)
	}
	require.NotNil(t, hashed)
	assert.Equal(t, int64(4500), hashed.Done)
	assert.Equal(t, int64(4500), hashed.Total)

	require.Len(t, completeCh, 1)
	done := (<-completeCh).(*events.CompleteEvent)
	assert.Equal(t, int64(4500), done.Size)
	assert.Equal(t, s.Snapshot().Digest, done.Digest)
}

// TestSession_Assembler verifies begin, complete and abort around upload attempts
func TestSession_Assembler(t *testing.T) {
	asm := &assemblingFake{fakeTransport: newFake(nil)}
	s := newTestSession(t, asm, 10, 3)
	s.SelectFile(localfs.FromBytes("parts.bin", make([]byte, 25)))

	asm.failDone = errors.New("assembly rejected")
	err := s.Start(context.Background())
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, -1, terr.Index)
	assert.Equal(t, StatusError, s.Status())

	asm.failDone = nil
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StatusCompleted, s.Status())

	require.Len(t, asm.begun, 2)
	require.Len(t, asm.complete, 2)
	require.Len(t, asm.aborted, 1)
	f := asm.complete[1]
	assert.Equal(t, s.ID(), f.SessionID)
	assert.Equal(t, "parts.bin", f.FileName)
	assert.Equal(t, int64(25), f.FileSize)
	assert.Equal(t, 3, f.Chunks)
	assert.Equal(t, s.Snapshot().Digest, f.Digest)
}

// TestSession_EmptyFile verifies a zero-byte file completes without chunks
func TestSession_EmptyFile(t *testing.T) {
	asm := &assemblingFake{fakeTransport: newFake(nil)}
	s := newTestSession(t, asm, 10, 3)
	s.SelectFile(localfs.FromBytes("empty.bin", nil))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StatusCompleted, s.Status())
	assert.Equal(t, 100, s.Progress())
	assert.Empty(t, s.Snapshot().Chunks)
	assert.Empty(t, asm.begun)
	assert.Empty(t, asm.complete)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", s.Snapshot().Digest)
}

// TestSession_RateLimited verifies the byte rate cap slows the whole session
func TestSession_RateLimited(t *testing.T) {
	tr := newFake(nil)
	s, err := NewSession(SessionConfig{
		Transport:      tr,
		ChunkSize:      50_000,
		Concurrency:    3,
		MaxBytesPerSec: 100_000,
	})
	require.NoError(t, err)
	s.SelectFile(localfs.FromBytes("limited.bin", make([]byte, 150_000)))

	start := time.Now()
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StatusCompleted, s.Status())
	// The bucket starts with one second of tokens, so the last 50 KB wait ~0.5s.
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

// TestSession_PauseWhileThrottled verifies pause interrupts a throttled chunk body
func TestSession_PauseWhileThrottled(t *testing.T) {
	tr := newFake(nil)
	s, err := NewSession(SessionConfig{
		Transport:      tr,
		ChunkSize:      10_000,
		Concurrency:    3,
		MaxBytesPerSec: 1_000,
	})
	require.NoError(t, err)
	s.SelectFile(localfs.FromBytes("slow.bin", make([]byte, 30_000)))

	done := runAsync(func() error { return s.Start(context.Background()) })
	require.Eventually(t, func() bool { return s.Status() == StatusUploading }, 2*time.Second, time.Millisecond)

	start := time.Now()
	s.Pause()
	assert.Equal(t, ErrCancelled, waitResult(t, done))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusPaused, s.Status())
	assert.Less(t, s.Progress(), 100)
}
