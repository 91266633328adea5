package tree

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Row is one entry of a flattened tree.
type Row struct {
	Index int // arena index in the tree that was flattened
	Depth int
}

// Flatten lists nodes in pre-order, descending only into nodes whose id is in
// expanded and that have children. A nil set flattens to the roots.
func (t *Tree) Flatten(expanded mapset.Set[string]) []Row {
	rows := make([]Row, 0, len(t.roots))

	// Explicit stack, pushed in reverse so children pop in order.
	stack := make([]int, 0, len(t.roots))
	for i := len(t.roots) - 1; i >= 0; i-- {
		stack = append(stack, t.roots[i])
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &t.nodes[i]
		rows = append(rows, Row{Index: i, Depth: n.Depth})
		if len(n.Children) == 0 || expanded == nil || !expanded.Contains(n.ID) {
			continue
		}
		for c := len(n.Children) - 1; c >= 0; c-- {
			stack = append(stack, n.Children[c])
		}
	}
	return rows
}

// Filter prunes the tree to nodes whose label contains term
// (case-insensitive) and the ancestors of such nodes. It also returns the ids
// of kept nodes that keep at least one child, which callers merge into their
// expanded set. An empty term returns t itself and no ids.
func (t *Tree) Filter(term string) (*Tree, []string) {
	if term == "" {
		return t, nil
	}
	needle := strings.ToLower(term)

	// Children follow their parent in the arena, so one reverse pass sees
	// every child before its parent.
	keep := make([]bool, len(t.nodes))
	keptChild := make([]bool, len(t.nodes))
	for i := len(t.nodes) - 1; i >= 0; i-- {
		n := &t.nodes[i]
		if keptChild[i] || strings.Contains(strings.ToLower(n.Label), needle) {
			keep[i] = true
			if n.Parent >= 0 {
				keptChild[n.Parent] = true
			}
		}
	}

	out := &Tree{byID: make(map[string]int)}
	var expand []string
	var copyNode func(i, parent int) int
	copyNode = func(i, parent int) int {
		n := t.nodes[i]
		idx := len(out.nodes)
		out.nodes = append(out.nodes, Node{ID: n.ID, Label: n.Label, Parent: parent, Depth: n.Depth})
		out.byID[n.ID] = idx
		if keptChild[i] {
			expand = append(expand, n.ID)
			var children []int
			for _, c := range n.Children {
				if keep[c] {
					children = append(children, copyNode(c, idx))
				}
			}
			out.nodes[idx].Children = children
		}
		return idx
	}
	for _, r := range t.roots {
		if keep[r] {
			out.roots = append(out.roots, copyNode(r, -1))
		}
	}
	return out, expand
}
