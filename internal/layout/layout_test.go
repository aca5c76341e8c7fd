package layout

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ivlev/pdfview/internal/geometry"
	"github.com/ivlev/pdfview/internal/slot"
)

var policies = []Policy{Single, DualStart, DualEnd}

func TestRows(t *testing.T) {
	tests := []struct {
		policy Policy
		pages  int
		want   int
	}{
		{Single, 10, 10},
		{DualStart, 10, 5},
		{DualStart, 9, 5},
		{DualEnd, 10, 6},
		{DualEnd, 9, 5},
		{DualEnd, 1, 1},
		{DualStart, 1, 1},
	}

	for _, tt := range tests {
		if got := Rows(tt.policy, tt.pages); got != tt.want {
			t.Errorf("Rows(%v, %d) = %d, want %d", tt.policy, tt.pages, got, tt.want)
		}
	}
}

func TestScenarioDualStartToDualEnd(t *testing.T) {
	if got := Rows(DualStart, 10); got != 5 {
		t.Fatalf("Expected 5 rows, got %d", got)
	}
	if diff := cmp.Diff([]int{5, 6}, PagesForRow(DualStart, 3)); diff != "" {
		t.Errorf("DualStart row 3 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{4, 5}, PagesForRow(DualEnd, 3)); diff != "" {
		t.Errorf("DualEnd row 3 mismatch (-want +got):\n%s", diff)
	}
}

func TestEveryPageInExactlyOneRow(t *testing.T) {
	for _, p := range policies {
		for count := 1; count <= 25; count++ {
			seen := make(map[int]int)
			for r := 1; r <= Rows(p, count); r++ {
				for _, page := range PagesForRow(p, r) {
					if page >= 1 && page <= count {
						seen[page]++
					}
				}
			}
			for page := 1; page <= count; page++ {
				if seen[page] != 1 {
					t.Errorf("%v/%d: page %d appears %d times", p, count, page, seen[page])
				}
			}
		}
	}
}

func TestNeighborsInverseOfPagesForRow(t *testing.T) {
	for _, p := range policies {
		for count := 1; count <= 25; count++ {
			for page := 1; page <= count; page++ {
				row := RowForPage(p, page)
				if row < 1 || row > Rows(p, count) {
					t.Fatalf("%v/%d: page %d maps to row %d", p, count, page, row)
				}

				want := PagesForRow(p, row)
				for i, n := range want {
					if n < 1 || n > count {
						want[i] = 0
					}
				}
				got, err := RowAndNeighborsForPage(p, page, count)
				if err != nil {
					t.Fatalf("RowAndNeighborsForPage: %v", err)
				}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("%v/%d page %d (-want +got):\n%s", p, count, page, diff)
				}
			}
		}
	}
}

func TestNeighborsPads(t *testing.T) {
	got, _ := RowAndNeighborsForPage(DualEnd, 1, 10)
	if diff := cmp.Diff([]int{0, 1}, got); diff != "" {
		t.Errorf("leading pad (-want +got):\n%s", diff)
	}
	got, _ = RowAndNeighborsForPage(DualStart, 9, 9)
	if diff := cmp.Diff([]int{9, 0}, got); diff != "" {
		t.Errorf("trailing pad (-want +got):\n%s", diff)
	}
}

func TestNeighborsOutOfRange(t *testing.T) {
	for _, page := range []int{0, -1, 11} {
		_, err := RowAndNeighborsForPage(Single, page, 10)
		var ipe *InvalidPageError
		if !errors.As(err, &ipe) {
			t.Errorf("page %d: expected InvalidPageError, got %v", page, err)
		}
	}
}

func TestUnknownPolicyPanics(t *testing.T) {
	defer func() {
		r := recover()
		if _, ok := r.(*UnknownPolicyError); !ok {
			t.Errorf("Expected UnknownPolicyError panic, got %v", r)
		}
	}()
	Rows(Policy(42), 3)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"single", Single, false},
		{"Dual-Start", DualStart, false},
		{" dual-end ", DualEnd, false},
		{"triple", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				var upe *UnknownPolicyError
				if !errors.As(err, &upe) {
					t.Errorf("Expected UnknownPolicyError, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParsePolicy(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
}

func makePages(n int, size geometry.Size) []*slot.Slot {
	pages := make([]*slot.Slot, n)
	for i := range pages {
		pages[i] = slot.New(i+1, size)
	}
	return pages
}

func pageNumbers(r Row) []int {
	var out []int
	for _, s := range r.Slots {
		out = append(out, s.Page)
	}
	return out
}

func TestBuildDummies(t *testing.T) {
	pages := makePages(3, geometry.Size{Width: 100, Height: 200})
	pages[2] = slot.New(3, geometry.Size{Width: 50, Height: 70})

	rows := Build(DualEnd, pages)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if diff := cmp.Diff([][]int{{0, 1}, {2, 3}}, [][]int{pageNumbers(rows[0]), pageNumbers(rows[1])}); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	pad := rows[0].Slots[0]
	if pad.Kind != slot.Dummy || pad.Intrinsic() != pages[0].Intrinsic() {
		t.Errorf("leading pad should clone page 1, got %v %v", pad.Kind, pad.Intrinsic())
	}
	if len(rows[0].Real()) != 1 {
		t.Errorf("Expected one real slot in first row")
	}

	rows = Build(DualStart, pages)
	trailing := rows[1].Slots[1]
	if trailing.Kind != slot.Dummy || trailing.Intrinsic() != pages[2].Intrinsic() {
		t.Errorf("trailing pad should clone last page, got %v %v", trailing.Kind, trailing.Intrinsic())
	}
	if rows[0].Slots[0] != pages[0] {
		t.Error("real slots must be reused, not copied")
	}
}

func TestArrange(t *testing.T) {
	pages := makePages(3, geometry.Size{Width: 100, Height: 200})
	pages[1] = slot.New(2, geometry.Size{Width: 100, Height: 300})
	rows := Build(DualStart, pages)

	total := Arrange(rows, 16)
	if total != 300+16+200 {
		t.Errorf("Expected content height %d, got %f", 300+16+200, total)
	}
	if got := pages[2].Span(); got != (geometry.Span{Top: 316, Bottom: 516}) {
		t.Errorf("page 3 span = %v", got)
	}
	if got := rows[0].Span; got != (geometry.Span{Top: 0, Bottom: 300}) {
		t.Errorf("row 1 span = %v", got)
	}
	if w := Width(rows[0], 16); w != 216 {
		t.Errorf("row width = %f", w)
	}
}
