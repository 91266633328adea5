//go:build !windows

package progress

import "os"

// enableANSI is a no-op: Unix terminals support ANSI escape sequences natively.
func enableANSI(f *os.File) {}
