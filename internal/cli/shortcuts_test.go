package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/chunkup/internal/digest"
)

// TestAddShortcuts verifies the shortcut commands are registered
func TestAddShortcuts(t *testing.T) {
	root := NewRootCmd()
	AddShortcuts(root)

	for _, name := range []string{"hash", "ls"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
		assert.NotNil(t, cmd.RunE, name)
	}

	hash, _, _ := root.Find([]string{"hash"})
	assert.NotNil(t, hash.Flags().Lookup("algorithm"))
}

// TestHashFiles verifies the output matches md5sum and sha256sum
func TestHashFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	var out bytes.Buffer
	require.NoError(t, hashFiles(context.Background(), []string{path}, "md5", &out, &bytes.Buffer{}))
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3  "+path+"\n", out.String())

	out.Reset()
	require.NoError(t, hashFiles(context.Background(), []string{path, path}, "sha256", &out, &bytes.Buffer{}))
	line := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9  " + path + "\n"
	assert.Equal(t, line+line, out.String())
}

func TestHashFiles_Errors(t *testing.T) {
	err := hashFiles(context.Background(), []string{"x"}, "crc32", &bytes.Buffer{}, &bytes.Buffer{})
	assert.True(t, errors.Is(err, digest.ErrUnknownAlgorithm))

	err = hashFiles(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, "md5", &bytes.Buffer{}, &bytes.Buffer{})
	assert.Error(t, err)
}

// TestLsShortcut runs 'ls' through the root command on a small directory
func TestLsShortcut(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("h"), 0644))
	t.Cleanup(func() { cfgFile = "" })

	root := NewRootCmd()
	AddCommands(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(dir, "none.ini"), "ls", dir})
	require.NoError(t, root.Execute())

	s := out.String()
	assert.Contains(t, s, "Rows 0-2 of 3")
	assert.Contains(t, s, "  a.txt\n▾ sub/\n    b.txt\n")
	assert.NotContains(t, s, ".hidden")
}
