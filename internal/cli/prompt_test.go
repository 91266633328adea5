package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseControl(t *testing.T) {
	tests := []struct {
		line string
		want ControlAction
	}{
		{"p", ControlPause},
		{"  PAUSE ", ControlPause},
		{"r", ControlResume},
		{"resume", ControlResume},
		{"s", ControlStatus},
		{"q", ControlQuit},
		{"exit", ControlQuit},
		{"?", ControlHelp},
		{"upload", ControlUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, parseControl(tt.line))
		})
	}
}

// TestReadControls verifies blank lines are skipped and the channel closes at EOF
func TestReadControls(t *testing.T) {
	ch := readControls(context.Background(), strings.NewReader("p\n\nresume\nfoo\nq\n"))

	var got []ControlAction
	for act := range ch {
		got = append(got, act)
	}
	assert.Equal(t, []ControlAction{ControlPause, ControlResume, ControlUnknown, ControlQuit}, got)
}

// TestReadControls_StopsOnCancel verifies a cancelled reader stops delivering
func TestReadControls_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := readControls(ctx, strings.NewReader("p\np\np\n"))
	for range ch {
	}
}

func TestPrompter(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("\nvalue\nabc\n-3\n7\n"), &out)

	assert.Equal(t, "def", p.String("Name", "def"))
	assert.Equal(t, "value", p.String("Name", "def"))
	assert.Equal(t, 4, p.Int("Workers", 4), "non-numeric answer keeps default")
	assert.Equal(t, 4, p.Int("Workers", 4), "non-positive answer keeps default")
	assert.Equal(t, 7, p.Int("Workers", 4))
	assert.Contains(t, out.String(), "Name [def]: ")
}

// TestPrompter_Choice verifies invalid answers are re-asked until input runs out
func TestPrompter_Choice(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("zzz\nB\n"), &out)
	got, err := p.Choice("Pick", []string{"a", "b"}, "")
	require.NoError(t, err)
	assert.Equal(t, "b", got)
	assert.Contains(t, out.String(), "Invalid choice")

	p = newPrompter(strings.NewReader("\n"), &out)
	got, err = p.Choice("Pick", []string{"a", "b"}, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	p = newPrompter(strings.NewReader("zzz\n"), &out)
	_, err = p.Choice("Pick", []string{"a", "b"}, "")
	assert.Error(t, err)
}

func TestPrompter_Confirm(t *testing.T) {
	p := newPrompter(strings.NewReader("y\nYES\nn\n\n"), &bytes.Buffer{})
	assert.True(t, p.Confirm("Proceed?"))
	assert.True(t, p.Confirm("Proceed?"))
	assert.False(t, p.Confirm("Proceed?"))
	assert.False(t, p.Confirm("Proceed?"))
}
