package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/events"
)

// UploadUI draws one session from its event stream. On a terminal each
// uploading chunk gets an mpb bar, removed once the chunk succeeds, under an
// overall bar. Elsewhere it prints a line per status change and every 10%.
type UploadUI struct {
	progress   *mpb.Progress
	out        io.Writer
	plain      *syncWriter
	isTerminal bool
	name       string
	size       int64

	mu          sync.Mutex
	hash        *HashBar
	hashing     bool
	overall     *mpb.Bar
	chunks      map[int]*ChunkBar
	lastPercent int
}

// ChunkBar is the bar of one in-flight chunk.
type ChunkBar struct {
	bar  *mpb.Bar
	size int64
}

// NewUploadUI creates a UI for the named file, writing to out.
func NewUploadUI(out io.Writer, name string, size int64) *UploadUI {
	isTerminal := IsTerminal(out)

	var p *mpb.Progress
	if isTerminal {
		enableANSI(out.(*os.File))
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(constants.BarRefreshRate),
			mpb.WithWidth(100),
		)
	} else {
		// Non-TTY: disable progress bars, just use text output
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &UploadUI{
		progress:    p,
		out:         out,
		plain:       &syncWriter{w: out},
		isTerminal:  isTerminal,
		name:        truncatePath(name, 2),
		size:        size,
		chunks:      make(map[int]*ChunkBar),
		lastPercent: -1,
	}
}

// Consume handles events until ctx is done or ch is closed.
func (u *UploadUI) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			u.Handle(ev)
		}
	}
}

// Handle renders a single event.
func (u *UploadUI) Handle(ev events.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch e := ev.(type) {
	case *events.HashProgressEvent:
		u.hashProgress(e)
	case *events.StatusEvent:
		u.statusChanged(e)
	case *events.ChunkEvent:
		u.chunkChanged(e)
	case *events.ProgressEvent:
		u.overallChanged(e.Percent)
	case *events.ErrorEvent:
		if e.Chunk >= 0 {
			u.printf("✗ chunk %d: %v\n", e.Chunk, e.Error)
		} else {
			u.printf("✗ %s: %v\n", u.name, e.Error)
		}
	case *events.CompleteEvent:
		u.completed(e)
	}
}

func (u *UploadUI) hashProgress(e *events.HashProgressEvent) {
	if !u.hashing {
		u.hashing = true
		if u.isTerminal {
			u.hash = NewHashBar(u.out, e.Total, "Hashing "+u.name)
		} else {
			u.printf("Hashing %s (%s)\n", u.name, humanize.IBytes(uint64(e.Total)))
		}
	}
	u.hash.Set(e.Done)
	if e.Done >= e.Total {
		u.hash.Finish()
		u.hash, u.hashing = nil, false
	}
}

func (u *UploadUI) statusChanged(e *events.StatusEvent) {
	switch e.NewStatus {
	case "uploading":
		if u.isTerminal && u.overall == nil {
			u.overall = u.newOverallBar()
		}
		if e.OldStatus == "paused" {
			u.printf("Resuming %s\n", u.name)
		} else if !u.isTerminal {
			u.printf("Uploading %s (%s)\n", u.name, humanize.IBytes(uint64(u.size)))
		}
	case "paused":
		u.dropChunkBars()
		u.printf("Paused %s at %d%%\n", u.name, max(u.lastPercent, 0))
	case "error":
		u.dropChunkBars()
		if u.overall != nil {
			u.overall.Abort(false)
			u.overall = nil
		}
	case "idle":
		if e.OldStatus == "hashing" {
			u.hash, u.hashing = nil, false
			u.printf("Hashing of %s cancelled\n", u.name)
		}
	}
}

func (u *UploadUI) chunkChanged(e *events.ChunkEvent) {
	if !u.isTerminal {
		return
	}
	cb := u.chunks[e.Index]
	switch e.Status {
	case "uploading":
		if cb == nil {
			cb = u.newChunkBar(e.Index, e.Size)
			u.chunks[e.Index] = cb
		}
		cb.bar.SetCurrent(int64(e.Progress * float64(cb.size) / 100))
	case "success":
		if cb != nil {
			cb.bar.SetTotal(cb.size, true)
			delete(u.chunks, e.Index)
		}
	default:
		if cb != nil {
			cb.bar.Abort(true)
			delete(u.chunks, e.Index)
		}
	}
}

func (u *UploadUI) overallChanged(percent int) {
	if u.overall != nil {
		u.overall.SetCurrent(int64(percent))
	}
	if !u.isTerminal && (u.lastPercent < 0 || percent == 100 || percent/10 > u.lastPercent/10) {
		u.printf("Progress: %d%%\n", percent)
	}
	u.lastPercent = percent
}

func (u *UploadUI) completed(e *events.CompleteEvent) {
	if u.overall != nil {
		u.overall.SetTotal(100, true)
		u.overall = nil
	}
	secs := e.Duration.Seconds()
	var speed string
	if secs > 0 {
		speed = humanize.IBytes(uint64(float64(e.Size)/secs)) + "/s"
	} else {
		speed = "-"
	}
	u.printf("✓ %s (%s, %s, %s) digest %s\n",
		u.name, humanize.IBytes(uint64(e.Size)), e.Duration.Round(time.Millisecond), speed, e.Digest)
}

func (u *UploadUI) newOverallBar() *mpb.Bar {
	return u.progress.New(100,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("%s (%s)", u.name, humanize.IBytes(uint64(u.size))), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
		),
		mpb.BarPriority(-1),
	)
}

func (u *UploadUI) newChunkBar(index int, size int64) *ChunkBar {
	bar := u.progress.New(size,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("  chunk %d", index), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.BarPriority(index),
		mpb.BarRemoveOnComplete(),
	)
	return &ChunkBar{bar: bar, size: size}
}

func (u *UploadUI) dropChunkBars() {
	for i, cb := range u.chunks {
		cb.bar.Abort(true)
		delete(u.chunks, i)
	}
}

// printf writes through mpb in terminal mode so the bars are not torn.
func (u *UploadUI) printf(format string, args ...any) {
	fmt.Fprintf(u.Writer(), format, args...)
}

// Wait aborts bars that can no longer finish and waits for mpb to flush.
func (u *UploadUI) Wait() {
	u.mu.Lock()
	u.dropChunkBars()
	if u.overall != nil {
		u.overall.Abort(false)
		u.overall = nil
	}
	u.mu.Unlock()
	u.progress.Wait()
}

// Writer returns an io.Writer that is safe to share with the UI: above the
// bars on a terminal, serialized with the UI's own lines elsewhere.
func (u *UploadUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.plain
}

// syncWriter serializes writes from the logger and the event consumer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// IsTerminal returns true if output is to a terminal (progress bars are active).
func (u *UploadUI) IsTerminal() bool {
	return u.isTerminal
}

// truncatePath truncates a file path to show only the last N components
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
