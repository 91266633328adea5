// Package progress renders upload sessions: an mpb bar per in-flight chunk
// plus an overall bar on terminals, a progressbar for hashing, and plain
// progress lines when output is redirected.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// HashBar is a byte-counted bar shown while a file is digested. A nil
// *HashBar draws nothing.
type HashBar struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewHashBar starts a bar of total bytes on out.
func NewHashBar(out io.Writer, total int64, description string) *HashBar {
	return &HashBar{
		out: out,
		bar: progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(out),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
		),
	}
}

// Set moves the bar to done bytes.
func (b *HashBar) Set(done int64) {
	if b != nil {
		_ = b.bar.Set64(done)
	}
}

// Finish fills the bar.
func (b *HashBar) Finish() {
	if b != nil {
		_ = b.bar.Finish()
	}
}

// Fail leaves the bar where it stopped and prints err under it.
func (b *HashBar) Fail(err error) {
	if b != nil && err != nil {
		fmt.Fprintf(b.out, "\nError: %v\n", err)
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
