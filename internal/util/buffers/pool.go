// Package buffers pools the fixed-size read windows used while hashing, so a
// multi-gigabyte file is digested with a handful of window-sized allocations.
package buffers

import (
	"sync"
	"sync/atomic"
)

var (
	allocations atomic.Int64
	gets        atomic.Int64
)

// One *sync.Pool per window size. Sizes come from configuration, so a process
// only ever sees a few keys.
var pools sync.Map

func poolFor(size int) *sync.Pool {
	if p, ok := pools.Load(size); ok {
		return p.(*sync.Pool)
	}
	p, _ := pools.LoadOrStore(size, &sync.Pool{
		New: func() any {
			allocations.Add(1)
			buf := make([]byte, size)
			return &buf
		},
	})
	return p.(*sync.Pool)
}

// Get returns a buffer of exactly size bytes. Hand it back with Put:
//
//	buf := buffers.Get(window)
//	defer buffers.Put(buf)
func Get(size int) *[]byte {
	gets.Add(1)
	return poolFor(size).Get().(*[]byte)
}

// Put zeroes buf and returns it to the pool for its length. Nil and empty
// buffers are ignored.
func Put(buf *[]byte) {
	if buf == nil || len(*buf) == 0 {
		return
	}
	clear(*buf)
	poolFor(len(*buf)).Put(buf)
}

// Stats counts Get calls and the allocations they caused. Reuses is derived
// and approximate: sync.Pool does not report cache hits.
type Stats struct {
	Gets        int64
	Allocations int64
	Reuses      int64
}

// GetStats returns process-wide pool counters.
func GetStats() Stats {
	g, a := gets.Load(), allocations.Load()
	return Stats{Gets: g, Allocations: a, Reuses: max(g-a, 0)}
}
