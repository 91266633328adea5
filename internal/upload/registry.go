package upload

import (
	"errors"
	"math"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/rescale/chunkup/internal/chunk"
)

// ChangeFunc observes a chunk update together with the overall percent after it.
type ChangeFunc func(c chunk.Chunk, overall int)

// Registry owns the chunk records of one upload attempt. Uploader goroutines
// update their own chunk through it; the scheduler flips chunks to uploading
// via Acquire. An in-flight set guarantees at most one active uploader per index.
type Registry struct {
	mu       sync.Mutex
	chunks   []chunk.Chunk
	inFlight mapset.Set[int]
	onChange ChangeFunc
}

// NewRegistry takes ownership of chunks.
func NewRegistry(chunks []chunk.Chunk, onChange ChangeFunc) *Registry {
	return &Registry{
		chunks:   chunks,
		inFlight: mapset.NewThreadUnsafeSet[int](),
		onChange: onChange,
	}
}

// Len returns the number of chunks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Chunk returns a copy of chunk i.
func (r *Registry) Chunk(i int) chunk.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chunks[i]
}

// Chunks returns a copy of every chunk.
func (r *Registry) Chunks() []chunk.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chunk.Chunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

// Queue returns the indices of chunks not yet uploaded, ascending.
func (r *Registry) Queue() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var q []int
	for _, c := range r.chunks {
		if c.Status != chunk.StatusSuccess {
			q = append(q, c.Index)
		}
	}
	return q
}

// InFlight returns the number of chunks with an active uploader.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight.Cardinality()
}

// Acquire marks chunk i as uploading. It returns false if the chunk already
// has an active uploader or has been uploaded.
func (r *Registry) Acquire(i int) bool {
	r.mu.Lock()
	c := &r.chunks[i]
	if c.Status == chunk.StatusSuccess || r.inFlight.Contains(i) {
		r.mu.Unlock()
		return false
	}
	r.inFlight.Add(i)
	c.Status = chunk.StatusUploading
	r.notifyLocked(i)
	return true
}

// Progress records in-flight progress for chunk i. Values only move forward
// and stay below 100 until Finish reports success.
func (r *Registry) Progress(i int, percent float64) {
	r.mu.Lock()
	c := &r.chunks[i]
	if c.Status == chunk.StatusSuccess {
		r.mu.Unlock()
		return
	}
	percent = math.Min(percent, math.Nextafter(100, 0))
	if percent <= c.Progress {
		r.mu.Unlock()
		return
	}
	c.Progress = percent
	r.notifyLocked(i)
}

// Finish releases chunk i after its uploader resolved. nil marks it uploaded
// at 100%, ErrCancelled returns it to pending with its partial progress kept,
// and any other error marks it failed.
func (r *Registry) Finish(i int, err error) {
	r.mu.Lock()
	c := &r.chunks[i]
	r.inFlight.Remove(i)
	switch {
	case err == nil:
		c.Status = chunk.StatusSuccess
		c.Progress = 100
	case errors.Is(err, ErrCancelled):
		c.Status = chunk.StatusPending
	default:
		c.Status = chunk.StatusError
	}
	r.notifyLocked(i)
}

// notifyLocked releases r.mu and then calls the observer.
func (r *Registry) notifyLocked(i int) {
	c := r.chunks[i]
	overall := overallLocked(r.chunks)
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn(c, overall)
	}
}

// Overall returns floor(100 * sum(size*progress/100) / sum(size)).
func (r *Registry) Overall() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return overallLocked(r.chunks)
}

func overallLocked(chunks []chunk.Chunk) int {
	var total, done float64
	for _, c := range chunks {
		size := float64(c.Size())
		total += size
		done += size * c.Progress / 100
	}
	if total == 0 {
		return 0
	}
	return int(math.Floor(done / total * 100))
}

// Done reports whether every chunk has been uploaded.
func (r *Registry) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chunks {
		if c.Status != chunk.StatusSuccess {
			return false
		}
	}
	return true
}
