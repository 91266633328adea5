//go:build linux

package digest

import (
	"golang.org/x/sys/unix"

	"github.com/rescale/chunkup/internal/localfs"
)

// adviseSequential tells the kernel a file-backed blob will be read front to
// back, doubling read-ahead for the hashing pass. Failures are ignored.
func adviseSequential(blob localfs.Blob) {
	f, ok := blob.(*localfs.File)
	if !ok {
		return
	}
	_ = unix.Fadvise(int(f.OSFile().Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
