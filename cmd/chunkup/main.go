// chunkup - chunked, resumable file uploads and a virtualized tree browser.
//
// Build with:
//
//	go build -ldflags "-X github.com/rescale/chunkup/internal/version.Version=v0.1.0 \
//	  -X github.com/rescale/chunkup/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/chunkup
package main

import (
	"errors"
	"os"

	"github.com/rescale/chunkup/internal/cli"
	"github.com/rescale/chunkup/internal/upload"
)

func main() {
	if err := cli.Execute(); err != nil {
		// An upload stopped by Ctrl+C or 'quit' exits like an interrupted process.
		if errors.Is(err, upload.ErrCancelled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
