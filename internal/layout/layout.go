// Package layout maps page numbers to rows (spreads) and places the rows in
// a vertical scroll area.
package layout

import (
	"fmt"
	"math"

	"github.com/ivlev/pdfview/internal/geometry"
	"github.com/ivlev/pdfview/internal/slot"
)

// InvalidPageError reports a page number outside [1, Count].
type InvalidPageError struct {
	Page  int
	Count int
}

func (e *InvalidPageError) Error() string {
	return fmt.Sprintf("page %d out of range [1, %d]", e.Page, e.Count)
}

// Rows returns the number of rows needed for pageCount pages.
func Rows(p Policy, pageCount int) int {
	p.must()
	switch p {
	case Single:
		return pageCount
	case DualStart:
		return (pageCount + 1) / 2
	default:
		return (pageCount + 2) / 2
	}
}

// PagesForRow returns the page numbers placed on row (1-based). Numbers
// outside the document are pads.
func PagesForRow(p Policy, row int) []int {
	p.must()
	switch p {
	case Single:
		return []int{row}
	case DualStart:
		return []int{2*row - 1, 2 * row}
	default:
		return []int{2 * (row - 1), 2*row - 1}
	}
}

// RowForPage returns the row holding page.
func RowForPage(p Policy, page int) int {
	p.must()
	switch p {
	case Single:
		return page
	case DualStart:
		return (page + 1) / 2
	default:
		return page/2 + 1
	}
}

// RowAndNeighborsForPage lists the pages sharing page's row, with 0 in place
// of any pad.
func RowAndNeighborsForPage(p Policy, page, pageCount int) ([]int, error) {
	p.must()
	if page < 1 || page > pageCount {
		return nil, &InvalidPageError{Page: page, Count: pageCount}
	}
	pages := PagesForRow(p, RowForPage(p, page))
	for i, n := range pages {
		if n < 1 || n > pageCount {
			pages[i] = 0
		}
	}
	return pages, nil
}

// Row is one horizontal group of slots.
type Row struct {
	Index int
	Slots []*slot.Slot
	Span  geometry.Span
}

// Real returns the non-dummy slots of the row.
func (r Row) Real() []*slot.Slot {
	out := make([]*slot.Slot, 0, len(r.Slots))
	for _, s := range r.Slots {
		if s.Kind == slot.Real {
			out = append(out, s)
		}
	}
	return out
}

// Build groups the real slots (one per page, in page order) into rows.
// Pad positions get fresh dummy slots cloned from the nearest real page.
func Build(p Policy, pages []*slot.Slot) []Row {
	p.must()
	n := len(pages)
	if n == 0 {
		return nil
	}

	total := Rows(p, n)
	rows := make([]Row, 0, total)
	for r := 1; r <= total; r++ {
		row := Row{Index: r}
		for _, pos := range PagesForRow(p, r) {
			switch {
			case pos < 1:
				row.Slots = append(row.Slots, pages[0].Dummy())
			case pos > n:
				row.Slots = append(row.Slots, pages[n-1].Dummy())
			default:
				row.Slots = append(row.Slots, pages[pos-1])
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Arrange stacks rows top to bottom with gap between them and assigns each
// slot its span. It returns the content height.
func Arrange(rows []Row, gap float64) float64 {
	top := 0.0
	for i := range rows {
		height := 0.0
		for _, s := range rows[i].Slots {
			h := s.Visual().Height
			s.SetSpan(geometry.Span{Top: top, Bottom: top + h})
			height = math.Max(height, h)
		}
		rows[i].Span = geometry.Span{Top: top, Bottom: top + height}
		top += height
		if i < len(rows)-1 {
			top += gap
		}
	}
	return top
}

// Width is the on-screen width of a row including the inner gap.
func Width(r Row, gap float64) float64 {
	w := 0.0
	for _, s := range r.Slots {
		w += s.Visual().Width
	}
	if len(r.Slots) > 1 {
		w += gap * float64(len(r.Slots)-1)
	}
	return w
}
