package progress

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rescale/chunkup/internal/events"
	"github.com/rescale/chunkup/internal/logging"
)

// TestUploadUI_PlainOutput verifies redirected output gets one line per milestone
func TestUploadUI_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	ui := NewUploadUI(&buf, "/data/run/big.bin", 5_000_000)
	assert.False(t, ui.IsTerminal())

	bus := events.NewEventBus(100)
	ch := bus.SubscribeAll()

	bus.PublishStatus("s", "idle", "hashing", "")
	bus.PublishHashProgress("s", 2_097_152, 5_000_000)
	bus.PublishHashProgress("s", 5_000_000, 5_000_000)
	bus.PublishStatus("s", "hashing", "uploading", "")
	bus.PublishChunk("s", 0, 2_097_152, 50, "uploading")
	for _, p := range []int{0, 5, 12, 19, 41, 100} {
		bus.PublishProgress("s", p)
	}
	bus.PublishComplete("s", "abc123", 5_000_000, 2*time.Second)
	bus.Close()

	ui.Consume(context.Background(), ch)
	ui.Wait()

	out := buf.String()
	assert.Contains(t, out, "Hashing …/run/big.bin (4.8 MiB)\n")
	assert.Contains(t, out, "Uploading …/run/big.bin (4.8 MiB)\n")
	assert.NotContains(t, out, "chunk 0")
	assert.Equal(t, []string{"Progress: 0%", "Progress: 12%", "Progress: 41%", "Progress: 100%"}, progressLines(out))
	assert.Contains(t, out, "✓ …/run/big.bin (4.8 MiB, 2s, 2.4 MiB/s) digest abc123")
}

// TestUploadUI_SharedWriter verifies log lines and UI lines can be written
// from different goroutines without interleaving or racing
func TestUploadUI_SharedWriter(t *testing.T) {
	var buf bytes.Buffer
	ui := NewUploadUI(&buf, "f.bin", 1000)
	log := logging.NewLogger(ui.Writer(), nil)

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			log.Info().Int("i", i).Msg("chunk done")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			ui.Handle(&events.ErrorEvent{BaseEvent: events.BaseEvent{EventType: events.EventError}, Chunk: i, Error: errors.New("reset")})
		}
	}()
	wg.Wait()
	ui.Wait()

	var logLines, uiLines int
	for _, l := range strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n") {
		switch {
		case strings.Contains(l, "chunk done"):
			logLines++
		case strings.HasPrefix(l, "✗ chunk "):
			uiLines++
		}
	}
	assert.Equal(t, n, logLines)
	assert.Equal(t, n, uiLines)
}

// TestUploadUI_PauseAndError verifies pause and failure messages
func TestUploadUI_PauseAndError(t *testing.T) {
	var buf bytes.Buffer
	ui := NewUploadUI(&buf, "f.bin", 100)

	ui.Handle(&events.ProgressEvent{BaseEvent: events.BaseEvent{EventType: events.EventProgress}, Percent: 37})
	ui.Handle(&events.StatusEvent{BaseEvent: events.BaseEvent{EventType: events.EventSessionStatus}, OldStatus: "uploading", NewStatus: "paused"})
	ui.Handle(&events.StatusEvent{BaseEvent: events.BaseEvent{EventType: events.EventSessionStatus}, OldStatus: "paused", NewStatus: "uploading"})
	ui.Handle(&events.ErrorEvent{BaseEvent: events.BaseEvent{EventType: events.EventError}, Chunk: 2, Error: errors.New("connection reset")})
	ui.Handle(&events.ErrorEvent{BaseEvent: events.BaseEvent{EventType: events.EventError}, Chunk: -1, Error: errors.New("assembly failed")})
	ui.Wait()

	out := buf.String()
	assert.Contains(t, out, "Paused f.bin at 37%\n")
	assert.Contains(t, out, "Resuming f.bin\n")
	assert.Contains(t, out, "✗ chunk 2: connection reset\n")
	assert.Contains(t, out, "✗ f.bin: assembly failed\n")
}

// TestUploadUI_ConsumeStopsOnCancel verifies Consume returns when its context ends
func TestUploadUI_ConsumeStopsOnCancel(t *testing.T) {
	ui := NewUploadUI(&bytes.Buffer{}, "f.bin", 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ui.Consume(ctx, make(chan events.Event))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return")
	}
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "file.txt", truncatePath("file.txt", 2))
	assert.Equal(t, "…/d/file.txt", truncatePath("/a/b/c/d/file.txt", 2))
}

func progressLines(out string) []string {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if strings.HasPrefix(l, "Progress: ") {
			lines = append(lines, l)
		}
	}
	return lines
}
