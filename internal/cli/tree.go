package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/localfs"
	"github.com/rescale/chunkup/internal/pathutil"
	"github.com/rescale/chunkup/internal/tree"
)

type treeOptions struct {
	file        string
	dir         string
	hidden      bool
	generate    string
	search      string
	expand      []string
	expandAll   bool
	scroll      int
	row         int
	selectID    string
	interactive bool
	jsonOut     bool
	export      string
}

func newTreeCmd() *cobra.Command {
	var opts treeOptions

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Browse a large tree through a virtualized window",
		Long: `Load a tree and print only the rows inside the viewport.

The tree comes from one of:
  --file   a YAML or JSON list of {id, label, children} nodes
  --dir    a directory listing
  --generate roots,fanout,depth   a synthetic tree

Only the rows inside the scroll window (plus overscan) are materialized,
so trees with hundreds of thousands of nodes render instantly.

With --interactive, commands typed on stdin drive the view:
  /text, search <text>   filter by label (empty resets)
  t <id>, toggle <id>    expand or collapse a node
  expand                 expand everything
  down [n], up [n]       scroll by rows
  goto <row>             scroll so row is at the top
  select <id>, clear     choose or clear the selection
  q, quit                exit

Examples:
  chunkup tree --generate 10,10,3 --expand-all --row 500
  chunkup tree --file org.yaml --search smith
  chunkup tree --dir ./project --interactive
  chunkup tree --generate 5,5,2 --export tree.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(noOverrides())
			if err != nil {
				return err
			}
			if err := cfg.Tree.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runTree(cfg.Tree, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "YAML or JSON tree file")
	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "", "Directory to list as a tree")
	cmd.Flags().BoolVar(&opts.hidden, "hidden", false, "Include hidden files with --dir")
	cmd.Flags().StringVarP(&opts.generate, "generate", "g", "", "Generate a tree: roots,fanout,depth")
	cmd.Flags().StringVarP(&opts.search, "search", "s", "", "Filter rows by label")
	cmd.Flags().StringSliceVarP(&opts.expand, "expand", "e", nil, "Node ids to expand")
	cmd.Flags().BoolVar(&opts.expandAll, "expand-all", false, "Expand every node")
	cmd.Flags().IntVar(&opts.scroll, "scroll", 0, "Scroll offset in pixels")
	cmd.Flags().IntVar(&opts.row, "row", -1, "Scroll so this row is at the top (overrides --scroll)")
	cmd.Flags().StringVar(&opts.selectID, "select", "", "Node id to select")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Read browse commands from stdin")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print visible rows as JSON")
	cmd.Flags().StringVar(&opts.export, "export", "", "Write the loaded tree to a .yaml or .json file and exit")
	cmd.MarkFlagsMutuallyExclusive("file", "dir", "generate")

	return cmd
}

// runTree loads the tree described by opts and renders it to out.
func runTree(geom config.TreeConfig, opts treeOptions, in io.Reader, out io.Writer) error {
	nodes, err := loadTreeNodes(opts)
	if err != nil {
		return err
	}

	if opts.export != "" {
		if err := tree.Save(opts.export, nodes); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s nodes to %s\n", humanize.Comma(int64(countNodes(nodes))), opts.export)
		return nil
	}

	t, err := tree.Build(nodes)
	if err != nil {
		return err
	}
	GetLogger().Debug().Int("nodes", t.Len()).Int("roots", len(t.Roots())).Msg("Tree loaded")

	sel := tree.NewSelect(t, tree.Viewport{
		RowHeight: geom.RowHeight,
		Height:    geom.ViewportHeight,
		Overscan:  geom.Overscan,
	})
	sel.Open()
	if opts.expandAll {
		sel.ExpandAll()
	}
	sel.Expand(opts.expand...)
	if opts.selectID != "" {
		if _, ok := sel.Choose(opts.selectID); !ok {
			return fmt.Errorf("no node with id %q", opts.selectID)
		}
		sel.Open()
	}
	if opts.search != "" {
		sel.Search(opts.search)
	}
	if opts.row >= 0 {
		sel.ScrollTo(opts.row)
	} else if opts.scroll > 0 {
		sel.Scroll(opts.scroll)
	}

	if opts.interactive {
		return browseTree(sel, in, out)
	}
	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sel.Visible())
	}
	renderTree(out, sel)
	return nil
}

func loadTreeNodes(opts treeOptions) ([]tree.NodeData, error) {
	switch {
	case opts.file != "":
		return tree.Load(opts.file)
	case opts.dir != "":
		dir, err := pathutil.Resolve(opts.dir)
		if err != nil {
			return nil, err
		}
		return tree.FromDirectory(dir, localfs.WalkOptions{
			IncludeHidden:  opts.hidden,
			SkipHiddenDirs: !opts.hidden,
		})
	case opts.generate != "":
		roots, fanout, depth, err := parseGenerate(opts.generate)
		if err != nil {
			return nil, err
		}
		return tree.Generate(roots, fanout, depth), nil
	default:
		return nil, fmt.Errorf("one of --file, --dir or --generate is required")
	}
}

// parseGenerate parses "roots,fanout,depth".
func parseGenerate(arg string) (roots, fanout, depth int, err error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid --generate %q: want roots,fanout,depth", arg)
	}
	var vals [3]int
	for i, p := range parts {
		v, convErr := strconv.Atoi(strings.TrimSpace(p))
		if convErr != nil || v < 0 {
			return 0, 0, 0, fmt.Errorf("invalid --generate %q: %q is not a non-negative integer", arg, p)
		}
		vals[i] = v
	}
	if n := tree.Count(vals[0], vals[1], vals[2]); n > constants.MaxGeneratedNodes {
		return 0, 0, 0, fmt.Errorf("--generate %s would create %s nodes (max %s)",
			arg, humanize.Comma(int64(n)), humanize.Comma(constants.MaxGeneratedNodes))
	}
	return vals[0], vals[1], vals[2], nil
}

func countNodes(nodes []tree.NodeData) int {
	n := len(nodes)
	for _, d := range nodes {
		n += countNodes(d.Children)
	}
	return n
}

// renderTree prints the visible window with a one-line header.
func renderTree(w io.Writer, sel *tree.Select) {
	rows := sel.Rows()
	if len(rows) == 0 {
		fmt.Fprintln(w, sel.EmptyText())
		return
	}
	start, end := sel.Window()
	header := fmt.Sprintf("Rows %d-%d of %s (scroll %dpx of %dpx)",
		start, end-1, humanize.Comma(int64(len(rows))), sel.ScrollTop(), sel.TotalHeight())
	if term := sel.Term(); term != "" {
		header += fmt.Sprintf(", search %q", term)
	}
	fmt.Fprintln(w, header)

	for _, r := range sel.Visible() {
		marker := "  "
		if r.HasChildren {
			marker = "▸ "
			if r.Expanded {
				marker = "▾ "
			}
		}
		line := strings.Repeat(" ", r.Depth*constants.TreeIndentWidth) + marker + r.Label
		if r.Selected {
			line += "  ✓"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Selected: %s\n", sel.Placeholder("(none)"))
}

// browseTree runs the interactive tree loop until quit or end of input.
func browseTree(sel *tree.Select, in io.Reader, out io.Writer) error {
	renderTree(out, sel)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := applyTreeCommand(sel, line, out)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		if quit {
			return nil
		}
		renderTree(out, sel)
	}
	return scanner.Err()
}

// applyTreeCommand applies one interactive command to sel.
func applyTreeCommand(sel *tree.Select, line string, out io.Writer) (quit bool, err error) {
	if strings.HasPrefix(line, "/") {
		sel.Search(strings.TrimSpace(line[1:]))
		return false, nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	rows := func() (int, error) {
		if arg == "" {
			return 1, nil
		}
		return strconv.Atoi(arg)
	}

	switch strings.ToLower(cmd) {
	case "q", "quit", "exit":
		return true, nil
	case "search":
		sel.Search(arg)
	case "t", "toggle":
		wasExpanded := sel.IsExpanded(arg)
		if !sel.Toggle(arg) && !wasExpanded {
			return false, fmt.Errorf("%q has no children in the current view", arg)
		}
	case "expand":
		sel.ExpandAll()
	case "down", "up":
		n, err := rows()
		if err != nil {
			return false, fmt.Errorf("invalid row count %q", arg)
		}
		if strings.EqualFold(cmd, "up") {
			n = -n
		}
		sel.ScrollTo(max(sel.TopRow()+n, 0))
	case "goto":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("invalid row %q", arg)
		}
		sel.ScrollTo(n)
	case "select":
		node, ok := sel.Choose(arg)
		if !ok {
			return false, fmt.Errorf("no node with id %q", arg)
		}
		sel.Open()
		fmt.Fprintf(out, "Selected %s (%s)\n", node.Label, node.ID)
	case "clear":
		sel.Clear()
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	return false, nil
}
