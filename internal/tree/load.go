package tree

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/rescale/chunkup/internal/localfs"
)

// ErrUnsupportedFormat is returned for tree files that are neither YAML nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported tree file format")

// Format names accepted by Decode.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Load reads nested node data from a .json, .yaml or .yml file.
func Load(filename string) ([]NodeData, error) {
	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open tree file: %w", err)
	}
	defer f.Close()

	nodes, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nodes, nil
}

// Save writes nodes to a .json, .yaml or .yml file.
func Save(filename string, nodes []NodeData) error {
	format, err := formatOf(filename)
	if err != nil {
		return err
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create tree file: %w", err)
	}
	if err := Encode(f, nodes, format); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return f.Close()
}

func formatOf(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

// Decode parses a list of root nodes.
func Decode(r io.Reader, format string) ([]NodeData, error) {
	var nodes []NodeData
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&nodes); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&nodes); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return nodes, nil
}

// Encode writes nodes in the given format.
func Encode(w io.Writer, nodes []NodeData, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(nodes)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(nodes); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// FromDirectory builds node data from a directory listing. IDs are slash
// separated paths relative to root; labels are base names. The root itself
// is not included.
func FromDirectory(root string, opts localfs.WalkOptions) ([]NodeData, error) {
	children := make(map[string][]localfs.FileEntry)
	err := localfs.Walk(root, opts, func(e localfs.FileEntry) error {
		if e.RelPath == "." {
			return nil
		}
		parent := path.Dir(e.RelPath)
		children[parent] = append(children[parent], e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var build func(dir string) []NodeData
	build = func(dir string) []NodeData {
		entries := children[dir]
		if len(entries) == 0 {
			return nil
		}
		out := make([]NodeData, 0, len(entries))
		for _, e := range entries {
			d := NodeData{ID: e.RelPath, Label: e.Name}
			if e.IsDir {
				d.Label += "/"
				d.Children = build(e.RelPath)
			}
			out = append(out, d)
		}
		return out
	}
	return build("."), nil
}
