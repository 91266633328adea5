// Package tree implements the tree-select model: an arena tree of labeled
// nodes, flattening under an expansion set, case-insensitive filtering with
// ancestor expansion, and the virtual window of rows to materialize.
package tree

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyID     = errors.New("node id must not be empty")
	ErrDuplicateID = errors.New("duplicate node id")
)

// NodeData is the nested form of a tree as loaded from YAML or JSON.
type NodeData struct {
	ID       string     `json:"id" yaml:"id"`
	Label    string     `json:"label" yaml:"label"`
	Children []NodeData `json:"children,omitempty" yaml:"children,omitempty"`
}

// Node is one arena entry. Parent is -1 for roots.
type Node struct {
	ID       string
	Label    string
	Parent   int
	Depth    int
	Children []int
}

// Tree stores nodes in pre-order in a flat slice. A node's children always
// have larger indices than the node itself.
type Tree struct {
	nodes []Node
	roots []int
	byID  map[string]int
}

// Build converts nested data into an arena tree. IDs must be non-empty and
// unique across the whole tree.
func Build(roots []NodeData) (*Tree, error) {
	t := &Tree{byID: make(map[string]int)}
	for i := range roots {
		idx, err := t.add(&roots[i], -1, 0)
		if err != nil {
			return nil, err
		}
		t.roots = append(t.roots, idx)
	}
	return t, nil
}

func (t *Tree) add(d *NodeData, parent, depth int) (int, error) {
	if d.ID == "" {
		return 0, fmt.Errorf("%w (label %q)", ErrEmptyID, d.Label)
	}
	if _, dup := t.byID[d.ID]; dup {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
	}

	idx := len(t.nodes)
	t.nodes = append(t.nodes, Node{ID: d.ID, Label: d.Label, Parent: parent, Depth: depth})
	t.byID[d.ID] = idx

	if len(d.Children) > 0 {
		children := make([]int, 0, len(d.Children))
		for i := range d.Children {
			c, err := t.add(&d.Children[i], idx, depth+1)
			if err != nil {
				return 0, err
			}
			children = append(children, c)
		}
		t.nodes[idx].Children = children
	}
	return idx, nil
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node at index i.
func (t *Tree) Node(i int) Node { return t.nodes[i] }

// Roots returns the indices of the top-level nodes.
func (t *Tree) Roots() []int { return t.roots }

// Find returns the index of the node with the given id.
func (t *Tree) Find(id string) (int, bool) {
	i, ok := t.byID[id]
	return i, ok
}

// HasChildren reports whether node i has at least one child.
func (t *Tree) HasChildren(i int) bool { return len(t.nodes[i].Children) > 0 }

// Ancestors returns the ids of every ancestor of node i, nearest first.
func (t *Tree) Ancestors(i int) []string {
	var ids []string
	for p := t.nodes[i].Parent; p >= 0; p = t.nodes[p].Parent {
		ids = append(ids, t.nodes[p].ID)
	}
	return ids
}

// Data converts the tree back to its nested form.
func (t *Tree) Data() []NodeData {
	var conv func(i int) NodeData
	conv = func(i int) NodeData {
		n := t.nodes[i]
		d := NodeData{ID: n.ID, Label: n.Label}
		for _, c := range n.Children {
			d.Children = append(d.Children, conv(c))
		}
		return d
	}
	out := make([]NodeData, 0, len(t.roots))
	for _, r := range t.roots {
		out = append(out, conv(r))
	}
	return out
}

// InternalIDs returns the ids of every node with children.
func (t *Tree) InternalIDs() []string {
	var ids []string
	for _, n := range t.nodes {
		if len(n.Children) > 0 {
			ids = append(ids, n.ID)
		}
	}
	return ids
}
