// Package localfs opens local files as upload blobs and lists directories
// for the tree command.
package localfs

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// WalkOptions controls which entries Walk reports.
type WalkOptions struct {
	IncludeHidden  bool // report dot-files and dot-directories
	SkipHiddenDirs bool // without IncludeHidden, do not descend into dot-directories
	MaxDepth       int  // deepest directory level to enter; 0 is unlimited
}

// IsHidden reports whether the last element of path starts with a dot.
// "." and ".." are not hidden.
func IsHidden(path string) bool {
	name := filepath.Base(path)
	return len(name) > 1 && name[0] == '.' && name != ".."
}

// FileEntry is one file or directory reported by Walk.
type FileEntry struct {
	Path    string      // Full path to the file
	RelPath string      // Path relative to the walk root, slash separated; "." for the root
	Name    string      // Base name of the file
	Depth   int         // 0 for the root
	Size    int64       // Size in bytes (0 for directories)
	IsDir   bool        // True if this is a directory
	ModTime time.Time   // Last modification time
	Mode    fs.FileMode // Permission and type bits
}

// WalkFunc receives each entry. filepath.SkipDir prunes a directory; any
// other error ends the walk and is returned by Walk.
type WalkFunc func(entry FileEntry) error

// Walk calls fn for root and everything below it that opts admits.
// The walk is depth-first in lexical order. Directories are visited before their
// contents. Entries that cannot be read or stat'ed are skipped.
func Walk(root string, opts WalkOptions, fn WalkFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, "/") + 1
		}

		name := d.Name()
		if depth > 0 && !opts.IncludeHidden && IsHidden(name) {
			if d.IsDir() && opts.SkipHiddenDirs {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		entry := FileEntry{
			Path:    path,
			RelPath: rel,
			Name:    name,
			Depth:   depth,
			Size:    info.Size(),
			IsDir:   d.IsDir(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		}
		if entry.IsDir {
			entry.Size = 0
		}

		if err := fn(entry); err != nil {
			return err
		}
		if entry.IsDir && opts.MaxDepth > 0 && depth >= opts.MaxDepth {
			return filepath.SkipDir
		}
		return nil
	})
}
