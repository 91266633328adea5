package localfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{".hidden", true},
		{".gitignore", true},
		{"visible.txt", false},
		{"/path/to/.hidden", true},
		{"/path/to/visible.txt", false},
		{"../.hidden", true},
		{"..", false},
		{".", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsHidden(tt.path))
		})
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "payload.bin", b.Name())
	assert.Equal(t, int64(10), b.Size())
	assert.Equal(t, path, b.Path())
	assert.False(t, b.ModTime().IsZero())

	buf := make([]byte, 4)
	n, err := b.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "6789", string(buf[:n]))

	_, err = Open(dir)
	assert.True(t, errors.Is(err, ErrIsDirectory))

	_, err = Open(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFromBytes(t *testing.T) {
	b := FromBytes("mem", []byte("hello"))
	assert.Equal(t, "mem", b.Name())
	assert.Equal(t, int64(5), b.Size())

	r := io.NewSectionReader(b, 1, 3)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ell", string(data))
	assert.NoError(t, b.Close())
}

func TestWalk(t *testing.T) {
	// root/
	//   file1.txt
	//   .hidden_file
	//   subdir/
	//     file2.txt
	//     deeper/
	//       file4.txt
	//   .hidden_dir/
	//     file3.txt
	root := t.TempDir()
	write := func(rel string) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	write("file1.txt")
	write(".hidden_file")
	write("subdir/file2.txt")
	write("subdir/deeper/file4.txt")
	write(".hidden_dir/file3.txt")

	collect := func(opts WalkOptions) []string {
		var got []string
		require.NoError(t, Walk(root, opts, func(e FileEntry) error {
			got = append(got, e.RelPath)
			return nil
		}))
		return got
	}

	assert.Equal(t,
		[]string{".", "file1.txt", "subdir", "subdir/deeper", "subdir/deeper/file4.txt", "subdir/file2.txt"},
		collect(WalkOptions{SkipHiddenDirs: true}))

	all := collect(WalkOptions{IncludeHidden: true})
	assert.Contains(t, all, ".hidden_dir/file3.txt")
	assert.Contains(t, all, ".hidden_file")

	assert.Equal(t,
		[]string{".", "file1.txt", "subdir", "subdir/deeper", "subdir/file2.txt"},
		collect(WalkOptions{SkipHiddenDirs: true, MaxDepth: 2}))

	err := Walk(filepath.Join(root, "nope"), WalkOptions{}, func(FileEntry) error { return nil })
	assert.Error(t, err)
}
