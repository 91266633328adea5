package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/chunkup/internal/events"
)

func TestLogger_SetOutput(t *testing.T) {
	var first, second bytes.Buffer
	l := NewLogger(&first, nil)

	l.Infof("chunk %d done", 3)
	assert.Contains(t, first.String(), "chunk 3 done")

	l.SetOutput(&second)
	l.Info().Int("index", 4).Msg("chunk done")
	assert.Contains(t, second.String(), "chunk done")
	assert.Contains(t, second.String(), "index=4")
	assert.NotContains(t, first.String(), "index=4")
	assert.Equal(t, &second, l.Output())
}

func TestLogger_WithSession(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, nil).WithSession("abc")
	l.Warnf("paused")
	assert.Contains(t, buf.String(), "session=abc")
}

func TestLogger_DebugHiddenAtInfo(t *testing.T) {
	SetGlobalLevel(zerolog.InfoLevel)
	var buf bytes.Buffer
	l := NewLogger(&buf, nil)
	l.Debugf("hidden")
	assert.Empty(t, buf.String())
}

func TestLogger_ForwardsWarningsToBus(t *testing.T) {
	bus := events.NewEventBus(10)
	defer bus.Close()
	ch := bus.Subscribe(events.EventLog)

	var buf bytes.Buffer
	l := NewLogger(&buf, bus)
	l.Infof("not forwarded")
	l.Errorf("transport failed")

	select {
	case ev := <-ch:
		logEv := ev.(*events.LogEvent)
		assert.Equal(t, events.ErrorLevel, logEv.Level)
		assert.Equal(t, "transport failed", logEv.Message)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for log event")
	}
	assert.Len(t, ch, 0)
}

func TestLogger_EnableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chunkup.log")
	var buf bytes.Buffer
	l := NewLogger(&buf, nil)
	require.NoError(t, l.EnableFile(path))

	l.Infof("written to both")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"written to both"`)
	assert.Contains(t, buf.String(), "written to both")
}

func TestLeveled_Fields(t *testing.T) {
	var buf bytes.Buffer
	a := Leveled{L: NewLogger(&buf, nil)}
	a.Warn("retrying", "url", "http://x/chunk", "attempt", 2)
	out := buf.String()
	assert.Contains(t, out, "retrying")
	assert.Contains(t, out, "attempt=2")
}
