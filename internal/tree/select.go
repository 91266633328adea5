package tree

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// VisibleRow is a materialized row of the virtual list.
type VisibleRow struct {
	Position    int    `json:"position"` // position in the flattened list
	Offset      int    `json:"offset"`   // top of the row in pixels
	ID          string `json:"id"`
	Label       string `json:"label"`
	Depth       int    `json:"depth"`
	HasChildren bool   `json:"has_children,omitempty"`
	Expanded    bool   `json:"expanded,omitempty"`
	Selected    bool   `json:"selected,omitempty"`
}

// Select holds the state of a tree-select dropdown: the source tree, the
// filtered view, the expanded set, the search term, the scroll offset and the
// selected id. It is not safe for concurrent use.
type Select struct {
	source   *Tree
	view     *Tree
	viewport Viewport

	expanded  mapset.Set[string]
	term      string
	scrollTop int
	selected  string
	open      bool

	rows []Row // flattened view, nil when stale
}

// NewSelect returns a closed select over t with nothing expanded.
func NewSelect(t *Tree, vp Viewport) *Select {
	return &Select{
		source:   t,
		view:     t,
		viewport: vp.normalized(),
		expanded: mapset.NewThreadUnsafeSet[string](),
	}
}

// Open shows the dropdown.
func (s *Select) Open() { s.open = true }

// IsOpen reports whether the dropdown is shown.
func (s *Select) IsOpen() bool { return s.open }

// Close hides the dropdown and drops the search term. The expanded set and
// scroll offset are kept.
func (s *Select) Close() {
	s.open = false
	s.resetSearch()
}

func (s *Select) resetSearch() {
	s.term = ""
	s.view = s.source
	s.rows = nil
}

// Toggle flips the expansion of a node that has children in the current view
// and returns whether it is now expanded.
func (s *Select) Toggle(id string) bool {
	i, ok := s.view.Find(id)
	if !ok || !s.view.HasChildren(i) {
		return false
	}
	s.rows = nil
	if s.expanded.Contains(id) {
		s.expanded.Remove(id)
		return false
	}
	s.expanded.Add(id)
	return true
}

// Expand adds ids to the expanded set.
func (s *Select) Expand(ids ...string) {
	s.expanded.Append(ids...)
	s.rows = nil
}

// ExpandAll expands every node with children in the source tree.
func (s *Select) ExpandAll() { s.Expand(s.source.InternalIDs()...) }

// IsExpanded reports whether id is in the expanded set.
func (s *Select) IsExpanded(id string) bool { return s.expanded.Contains(id) }

// Search filters the view by term, expands every ancestor of a match and
// scrolls to the top. An empty term restores the unfiltered tree and leaves
// the scroll offset alone.
func (s *Select) Search(term string) {
	if term == "" {
		s.resetSearch()
		return
	}
	view, expand := s.source.Filter(term)
	s.term = term
	s.view = view
	s.expanded.Append(expand...)
	s.scrollTop = 0
	s.rows = nil
}

// Term returns the active search term.
func (s *Select) Term() string { return s.term }

// Scroll sets the scroll offset, clamped to the scrollable range.
func (s *Select) Scroll(px int) {
	s.scrollTop = min(max(px, 0), s.viewport.MaxScroll(len(s.Rows())))
}

// ScrollTop returns the scroll offset.
func (s *Select) ScrollTop() int { return s.scrollTop }

// TopRow returns the position of the first row at or above the scroll offset.
func (s *Select) TopRow() int { return s.scrollTop / s.viewport.RowHeight }

// ScrollTo scrolls so that the row at position pos is at the top.
func (s *Select) ScrollTo(pos int) { s.Scroll(s.viewport.Offset(pos)) }

// Rows returns the flattened view.
func (s *Select) Rows() []Row {
	if s.rows == nil {
		s.rows = s.view.Flatten(s.expanded)
	}
	return s.rows
}

// TotalHeight is the pixel height of the full flattened list.
func (s *Select) TotalHeight() int { return s.viewport.TotalHeight(len(s.Rows())) }

// Window returns the range of flattened positions currently materialized.
func (s *Select) Window() (start, end int) {
	return s.viewport.Window(s.scrollTop, len(s.Rows()))
}

// Visible materializes the rows in the current window.
func (s *Select) Visible() []VisibleRow {
	rows := s.Rows()
	start, end := s.viewport.Window(s.scrollTop, len(rows))
	out := make([]VisibleRow, 0, end-start)
	for pos := start; pos < end; pos++ {
		r := rows[pos]
		n := s.view.Node(r.Index)
		out = append(out, VisibleRow{
			Position:    pos,
			Offset:      s.viewport.Offset(pos),
			ID:          n.ID,
			Label:       n.Label,
			Depth:       r.Depth,
			HasChildren: len(n.Children) > 0,
			Expanded:    s.expanded.Contains(n.ID),
			Selected:    n.ID == s.selected,
		})
	}
	return out
}

// Choose selects the node with the given id and closes the dropdown.
func (s *Select) Choose(id string) (Node, bool) {
	i, ok := s.source.Find(id)
	if !ok {
		return Node{}, false
	}
	s.selected = id
	s.Close()
	return s.source.Node(i), true
}

// Clear drops the selection and the search term.
func (s *Select) Clear() {
	s.selected = ""
	s.resetSearch()
}

// Selected returns the selected node, looked up in the source tree.
func (s *Select) Selected() (Node, bool) {
	if s.selected == "" {
		return Node{}, false
	}
	i, ok := s.source.Find(s.selected)
	if !ok {
		return Node{}, false
	}
	return s.source.Node(i), true
}

// Placeholder is the text shown in the closed select.
func (s *Select) Placeholder(empty string) string {
	if n, ok := s.Selected(); ok {
		return n.Label
	}
	return empty
}

// EmptyText describes an empty list.
func (s *Select) EmptyText() string {
	if s.term != "" {
		return "No matching data"
	}
	return "No data"
}
