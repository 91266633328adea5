package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/tree"
)

func treeGeometry() config.TreeConfig {
	return config.New().Tree
}

// TestRunTree_ExpandAll verifies rows are indented by depth with expansion markers
func TestRunTree_ExpandAll(t *testing.T) {
	var buf bytes.Buffer
	err := runTree(treeGeometry(), treeOptions{generate: "2,2,2", expandAll: true, row: -1}, nil, &buf)
	require.NoError(t, err)

	assert.Equal(t, strings.Join([]string{
		"Rows 0-5 of 6 (scroll 0px of 216px)",
		"▾ Node 1",
		"    Node 1.1",
		"    Node 1.2",
		"▾ Node 2",
		"    Node 2.1",
		"    Node 2.2",
		"Selected: (none)",
		"",
	}, "\n"), buf.String())
}

// TestRunTree_Row verifies only the window around the requested row is printed
func TestRunTree_Row(t *testing.T) {
	var buf bytes.Buffer
	err := runTree(treeGeometry(), treeOptions{generate: "10,10,2", expandAll: true, row: 100}, nil, &buf)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "Rows 100-109 of 110 (scroll 3600px of 3960px)", lines[0])
	assert.Equal(t, "    Node 10.1", lines[1])
	assert.Equal(t, "    Node 10.10", lines[10])
	assert.NotContains(t, buf.String(), "Node 9.")
}

// TestRunTree_Search verifies a search keeps matches and their ancestors
func TestRunTree_Search(t *testing.T) {
	var buf bytes.Buffer
	err := runTree(treeGeometry(), treeOptions{generate: "2,2,2", search: "1.2", row: -1}, nil, &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `Rows 0-1 of 2 (scroll 0px of 72px), search "1.2"`)
	assert.Contains(t, out, "▾ Node 1\n    Node 1.2\n")
	assert.NotContains(t, out, "Node 2")

	buf.Reset()
	err = runTree(treeGeometry(), treeOptions{generate: "2,2,2", search: "nothing", row: -1}, nil, &buf)
	require.NoError(t, err)
	assert.Equal(t, "No matching data\n", buf.String())
}

func TestRunTree_JSON(t *testing.T) {
	var buf bytes.Buffer
	err := runTree(treeGeometry(), treeOptions{generate: "1,2,2", row: -1, jsonOut: true, selectID: "1"}, nil, &buf)
	require.NoError(t, err)

	var rows []tree.VisibleRow
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0].ID)
	assert.True(t, rows[0].HasChildren)
	assert.False(t, rows[0].Expanded)
	assert.True(t, rows[0].Selected)
}

// TestRunTree_Export verifies a generated tree round-trips through a YAML file
func TestRunTree_Export(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.yaml")
	var buf bytes.Buffer
	require.NoError(t, runTree(treeGeometry(), treeOptions{generate: "2,3,2", export: path, row: -1}, nil, &buf))
	assert.Equal(t, "Wrote 8 nodes to "+path+"\n", buf.String())

	loaded, err := tree.Load(path)
	require.NoError(t, err)
	assert.Equal(t, tree.Generate(2, 3, 2), loaded)

	buf.Reset()
	require.NoError(t, runTree(treeGeometry(), treeOptions{file: path, expand: []string{"2"}, row: -1}, nil, &buf))
	assert.Contains(t, buf.String(), "▸ Node 1\n▾ Node 2\n    Node 2.1\n")
}

func TestRunTree_Errors(t *testing.T) {
	err := runTree(treeGeometry(), treeOptions{row: -1}, nil, &bytes.Buffer{})
	assert.ErrorContains(t, err, "--file, --dir or --generate")

	err = runTree(treeGeometry(), treeOptions{generate: "2,2,2", selectID: "9", row: -1}, nil, &bytes.Buffer{})
	assert.ErrorContains(t, err, `no node with id "9"`)
}

func TestParseGenerate(t *testing.T) {
	roots, fanout, depth, err := parseGenerate("3, 4 ,5")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, []int{roots, fanout, depth})

	for _, bad := range []string{"1,2", "a,b,c", "1,-1,2", "100,100,4"} {
		_, _, _, err := parseGenerate(bad)
		assert.Error(t, err, bad)
	}
}

// TestBrowseTree verifies interactive commands update and re-render the view
func TestBrowseTree(t *testing.T) {
	nodes := tree.Generate(2, 2, 2)
	tr, err := tree.Build(nodes)
	require.NoError(t, err)
	sel := tree.NewSelect(tr, tree.DefaultViewport())
	sel.Open()

	in := strings.NewReader("t 1\nt 1.1\nzap\n/2.2\n\nselect 2.2\nq\nt 2\n")
	var out bytes.Buffer
	require.NoError(t, browseTree(sel, in, &out))

	s := out.String()
	assert.Contains(t, s, "▾ Node 1\n    Node 1.1\n    Node 1.2\n▸ Node 2\n")
	assert.Contains(t, s, `Error: "1.1" has no children in the current view`)
	assert.Contains(t, s, `Error: unknown command "zap"`)
	assert.Contains(t, s, `search "2.2"`)
	assert.Contains(t, s, "Selected Node 2.2 (2.2)\n")
	assert.Contains(t, s, "    Node 2.2  ✓\n")
	assert.Contains(t, s, "Selected: Node 2.2\n")

	// quit stops before the trailing toggle
	assert.True(t, sel.IsExpanded("2"), "search expanded the match's parent")
	assert.Empty(t, sel.Term(), "choosing clears the search")
}

func TestApplyTreeCommand_Scroll(t *testing.T) {
	tr, err := tree.Build(tree.Generate(10, 10, 2))
	require.NoError(t, err)
	sel := tree.NewSelect(tr, tree.DefaultViewport())
	sel.ExpandAll()

	_, err = applyTreeCommand(sel, "down 2", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 72, sel.ScrollTop())

	_, err = applyTreeCommand(sel, "down", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 3, sel.TopRow())

	_, err = applyTreeCommand(sel, "up 10", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 0, sel.ScrollTop())

	_, err = applyTreeCommand(sel, "goto 500", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 110*36-240, sel.ScrollTop(), "clamped to the last full viewport")

	quit, err := applyTreeCommand(sel, "quit", &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, quit)
}
