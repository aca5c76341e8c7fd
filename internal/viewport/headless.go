// Package viewport provides a headless scroll viewport that reports slot
// intersections the way a windowing toolkit would.
package viewport

import (
	"sync"

	"github.com/ivlev/pdfview/internal/geometry"
	"github.com/ivlev/pdfview/internal/slot"
	"github.com/ivlev/pdfview/internal/visibility"
)

// Thresholds are the intersection ratios at which an event fires.
var Thresholds = []float64{0, 0.5, 1}

// Headless is a fixed-size window over a vertical scroll area.
type Headless struct {
	mu     sync.Mutex
	width  float64
	height float64
	offset float64
	sink   func([]visibility.Event)
	slots  func() []*slot.Slot
	seen   map[*slot.Slot]int

	// emitting is set while a batch is being delivered. Refreshes requested
	// meanwhile, from the sink itself included, set pending and are folded
	// into one more batch.
	emitting bool
	pending  bool
}

func NewHeadless(width, height float64) *Headless {
	return &Headless{
		width:  width,
		height: height,
		seen:   make(map[*slot.Slot]int),
	}
}

// Attach connects the viewport to an event sink and to the source of slots
// laid out in its scroll area.
func (h *Headless) Attach(sink func([]visibility.Event), slots func() []*slot.Slot) {
	h.mu.Lock()
	h.sink = sink
	h.slots = slots
	h.seen = make(map[*slot.Slot]int)
	h.mu.Unlock()
}

func (h *Headless) Bounds() geometry.Span {
	h.mu.Lock()
	defer h.mu.Unlock()
	return geometry.Span{Top: h.offset, Bottom: h.offset + h.height}
}

func (h *Headless) Size() geometry.Size {
	h.mu.Lock()
	defer h.mu.Unlock()
	return geometry.Size{Width: h.width, Height: h.height}
}

// Offset is the scroll position.
func (h *Headless) Offset() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offset
}

// Resize changes the window size and re-reports intersections.
func (h *Headless) Resize(width, height float64) {
	h.mu.Lock()
	h.width, h.height = width, height
	h.mu.Unlock()
	h.Refresh()
}

// Scroll moves the window by delta.
func (h *Headless) Scroll(delta float64) {
	h.ScrollTo(h.Offset() + delta)
}

// ScrollTo moves the window top to top, clamped to the content.
func (h *Headless) ScrollTo(top float64) {
	h.mu.Lock()
	h.offset = top
	h.mu.Unlock()
	h.Refresh()
}

// Refresh recomputes every slot's intersection and emits one batch of the
// changes. A sink may scroll or refresh; the resulting batch is delivered
// after it returns.
func (h *Headless) Refresh() {
	h.mu.Lock()
	if h.emitting {
		h.pending = true
		h.mu.Unlock()
		return
	}
	h.emitting = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.emitting = false
		h.pending = false
		h.mu.Unlock()
	}()

	for {
		batch, sink := h.collect()
		if len(batch) > 0 {
			sink(batch)
		}

		h.mu.Lock()
		again := h.pending
		h.pending = false
		h.mu.Unlock()
		if !again {
			return
		}
	}
}

// collect diffs the current intersections against the last delivered ones.
func (h *Headless) collect() ([]visibility.Event, func([]visibility.Event)) {
	h.mu.Lock()
	if h.slots == nil || h.sink == nil {
		h.mu.Unlock()
		return nil, nil
	}
	slotsFn, sink := h.slots, h.sink
	h.mu.Unlock()

	slots := slotsFn()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clampLocked(slots)
	view := geometry.Span{Top: h.offset, Bottom: h.offset + h.height}

	var batch []visibility.Event
	seen := make(map[*slot.Slot]int, len(h.seen))
	for _, s := range slots {
		span := s.Span()
		ratio := 0.0
		if view.Intersects(span) {
			ratio = geometry.IntersectionRatio(view, span)
		}
		b := bucket(view.Intersects(span), ratio)
		prev, known := h.seen[s]
		if b > 0 {
			seen[s] = b
		}
		if (known && prev != b) || (!known && b > 0) {
			batch = append(batch, visibility.Event{Slot: s, Intersecting: b > 0, Ratio: ratio})
		}
	}
	h.seen = seen
	return batch, sink
}

func (h *Headless) clampLocked(slots []*slot.Slot) {
	bottom := 0.0
	for _, s := range slots {
		if b := s.Span().Bottom; b > bottom {
			bottom = b
		}
	}
	if limit := bottom - h.height; h.offset > limit {
		h.offset = limit
	}
	if h.offset < 0 {
		h.offset = 0
	}
}

// bucket numbers the threshold interval a ratio falls in; 0 means outside.
func bucket(intersecting bool, ratio float64) int {
	if !intersecting {
		return 0
	}
	b := 1
	for _, th := range Thresholds[1:] {
		if ratio >= th {
			b++
		}
	}
	return b
}
