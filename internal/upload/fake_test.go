package upload

import (
	"context"
	"io"
	"sync"

	"github.com/rescale/chunkup/internal/transport"
)

type transmitFunc func(ctx context.Context, meta transport.ChunkMeta, onProgress transport.ProgressFunc) error

// fakeTransport records dispatches and detects overlapping uploads of one index.
type fakeTransport struct {
	mu         sync.Mutex
	active     map[int]int
	current    int
	maxActive  int
	dispatched []int
	overlaps   int
	transmit   transmitFunc
}

func newFake(fn transmitFunc) *fakeTransport {
	return &fakeTransport{active: make(map[int]int), transmit: fn}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Transmit(ctx context.Context, body io.Reader, meta transport.ChunkMeta, onProgress transport.ProgressFunc) error {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}

	f.mu.Lock()
	f.active[meta.Index]++
	if f.active[meta.Index] > 1 {
		f.overlaps++
	}
	f.current++
	f.maxActive = max(f.maxActive, f.current)
	f.dispatched = append(f.dispatched, meta.Index)
	fn := f.transmit
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[meta.Index]--
		f.current--
		f.mu.Unlock()
	}()

	if fn == nil {
		onProgress(50)
		return nil
	}
	return fn(ctx, meta, onProgress)
}

func (f *fakeTransport) set(fn transmitFunc) {
	f.mu.Lock()
	f.transmit = fn
	f.mu.Unlock()
}

func (f *fakeTransport) inFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTransport) stats() (dispatched []int, maxActive, overlaps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.dispatched...), f.maxActive, f.overlaps
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.dispatched = nil
	f.maxActive = 0
	f.mu.Unlock()
}

// blockUntilCancelled reports 40% and holds the chunk until the round is cancelled.
func blockUntilCancelled(ctx context.Context, meta transport.ChunkMeta, onProgress transport.ProgressFunc) error {
	onProgress(40)
	<-ctx.Done()
	return transport.ErrCancelled
}

// assemblingFake adds Assembler hooks to fakeTransport.
type assemblingFake struct {
	*fakeTransport
	mu       sync.Mutex
	begun    []transport.FileMeta
	complete []transport.FileMeta
	aborted  []transport.FileMeta
	failDone error
}

func (a *assemblingFake) Begin(ctx context.Context, f transport.FileMeta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.begun = append(a.begun, f)
	return nil
}

func (a *assemblingFake) Complete(ctx context.Context, f transport.FileMeta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.complete = append(a.complete, f)
	return a.failDone
}

func (a *assemblingFake) Abort(ctx context.Context, f transport.FileMeta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aborted = append(a.aborted, f)
	return nil
}
