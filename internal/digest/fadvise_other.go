//go:build !linux

package digest

import "github.com/rescale/chunkup/internal/localfs"

func adviseSequential(localfs.Blob) {}
