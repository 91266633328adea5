package tree

import (
	"strconv"
	"strings"
)

// Generate builds a synthetic tree with roots top-level nodes, fanout
// children per internal node and depth levels in total. IDs are dotted
// paths ("2.1.3") and labels read "Node 2.1.3".
func Generate(roots, fanout, depth int) []NodeData {
	if roots <= 0 || depth <= 0 {
		return nil
	}
	return generateLevel(nil, roots, fanout, depth)
}

func generateLevel(path []string, n, fanout, depth int) []NodeData {
	out := make([]NodeData, n)
	for i := range out {
		p := append(path[:len(path):len(path)], strconv.Itoa(i+1))
		id := strings.Join(p, ".")
		out[i] = NodeData{ID: id, Label: "Node " + id}
		if depth > 1 && fanout > 0 {
			out[i].Children = generateLevel(p, fanout, fanout, depth-1)
		}
	}
	return out
}

// Count returns the number of nodes Generate would produce.
func Count(roots, fanout, depth int) int {
	if roots <= 0 || depth <= 0 {
		return 0
	}
	total, level := 0, roots
	for d := 0; d < depth; d++ {
		total += level
		level *= fanout
	}
	return total
}
