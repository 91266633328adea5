package tree

import "github.com/rescale/chunkup/internal/constants"

// Viewport is the fixed geometry of the virtual list, in pixels.
type Viewport struct {
	RowHeight int
	Height    int
	Overscan  int
}

// DefaultViewport returns 36px rows in a 240px list with 5 rows of overscan.
func DefaultViewport() Viewport {
	return Viewport{
		RowHeight: constants.TreeRowHeight,
		Height:    constants.TreeViewportHeight,
		Overscan:  constants.TreeOverscan,
	}
}

func (v Viewport) normalized() Viewport {
	d := DefaultViewport()
	if v.RowHeight <= 0 {
		v.RowHeight = d.RowHeight
	}
	if v.Height < 0 {
		v.Height = 0
	}
	if v.Overscan < 0 {
		v.Overscan = 0
	}
	return v
}

// Window returns the half-open range [start, end) of rows to materialize for
// the given scroll offset over total rows.
func (v Viewport) Window(scrollTop, total int) (start, end int) {
	return Window(scrollTop, v.RowHeight, v.Height, v.Overscan, total)
}

// TotalHeight is the height of the full list of total rows.
func (v Viewport) TotalHeight(total int) int {
	return v.normalized().RowHeight * max(total, 0)
}

// Offset is the top of row i within the list.
func (v Viewport) Offset(i int) int {
	return v.normalized().RowHeight * i
}

// MaxScroll is the largest useful scroll offset over total rows.
func (v Viewport) MaxScroll(total int) int {
	v = v.normalized()
	return max(0, v.TotalHeight(total)-v.Height)
}

// Window computes start = floor(scrollTop/rowHeight) and
// end = min(total, start + ceil(viewportHeight/rowHeight) + overscan),
// both clamped to [0, total]. Non-positive row heights fall back to the
// default.
func Window(scrollTop, rowHeight, viewportHeight, overscan, total int) (start, end int) {
	v := Viewport{RowHeight: rowHeight, Height: viewportHeight, Overscan: overscan}.normalized()
	if total <= 0 {
		return 0, 0
	}
	scrollTop = max(scrollTop, 0)

	start = min(scrollTop/v.RowHeight, total)
	visible := (v.Height + v.RowHeight - 1) / v.RowHeight
	end = min(total, start+visible+v.Overscan)
	return start, end
}
