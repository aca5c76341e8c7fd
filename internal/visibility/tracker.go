// Package visibility keeps the set of slots intersecting the viewport and
// derives the current page from it.
package visibility

import (
	"io"
	"log"
	"sort"
	"sync"

	"github.com/ivlev/pdfview/internal/geometry"
	"github.com/ivlev/pdfview/internal/slot"
)

// Event is one intersection change reported by the viewport.
type Event struct {
	Slot         *slot.Slot
	Intersecting bool
	Ratio        float64
}

// Bounds reports the visible part of the scroll area.
type Bounds interface {
	Bounds() geometry.Span
}

// Materializer creates and frees slot pixels.
type Materializer interface {
	Materialize(s *slot.Slot)
	Discard(s *slot.Slot)
}

type Config struct {
	// OnCurrentPage is called when the current page changes.
	OnCurrentPage func(page int)
	Logger        *log.Logger
}

// Tracker is safe for concurrent use. Batches are handled one at a time and
// the materializer and callback run without the tracker's state lock held.
type Tracker struct {
	bounds Bounds
	mat    Materializer
	cfg    Config
	log    *log.Logger

	// handling serializes Handle and Unregister so effects keep batch order.
	handling sync.Mutex

	mu         sync.Mutex
	registered map[*slot.Slot]struct{}
	visible    map[*slot.Slot]float64
	current    int
	suppressed bool
}

func New(bounds Bounds, mat Materializer, cfg Config) *Tracker {
	t := &Tracker{
		bounds:     bounds,
		mat:        mat,
		cfg:        cfg,
		log:        cfg.Logger,
		registered: make(map[*slot.Slot]struct{}),
		visible:    make(map[*slot.Slot]float64),
	}
	if t.log == nil {
		t.log = log.New(io.Discard, "", 0)
	}
	return t
}

// Register replaces the set of slots events are accepted for. Visible slots
// missing from the new set are dropped and discarded.
func (t *Tracker) Register(slots []*slot.Slot) {
	t.handling.Lock()
	defer t.handling.Unlock()

	t.mu.Lock()
	t.registered = make(map[*slot.Slot]struct{}, len(slots))
	for _, s := range slots {
		t.registered[s] = struct{}{}
	}
	var dropped []*slot.Slot
	for s := range t.visible {
		if _, ok := t.registered[s]; !ok {
			delete(t.visible, s)
			dropped = append(dropped, s)
		}
	}
	t.mu.Unlock()

	for _, s := range dropped {
		t.mat.Discard(s)
	}
}

// Unregister forgets every slot and discards the visible ones.
func (t *Tracker) Unregister() {
	t.handling.Lock()
	defer t.handling.Unlock()

	t.mu.Lock()
	dropped := make([]*slot.Slot, 0, len(t.visible))
	for s := range t.visible {
		dropped = append(dropped, s)
	}
	t.registered = make(map[*slot.Slot]struct{})
	t.visible = make(map[*slot.Slot]float64)
	t.current = 0
	t.mu.Unlock()

	for _, s := range dropped {
		t.mat.Discard(s)
	}
}

// Suppress stops current-page recomputation until Resume.
func (t *Tracker) Suppress() {
	t.mu.Lock()
	t.suppressed = true
	t.mu.Unlock()
}

func (t *Tracker) Resume() {
	t.mu.Lock()
	t.suppressed = false
	t.mu.Unlock()
}

// SetCurrent seeds the current page without notifying.
func (t *Tracker) SetCurrent(page int) {
	t.mu.Lock()
	t.current = page
	t.mu.Unlock()
}

func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Handle applies a batch of events, then recomputes the current page.
// OnCurrentPage runs after the batch is done and may call back into the
// tracker.
func (t *Tracker) Handle(batch []Event) {
	page, changed := t.handle(batch)
	if changed && t.cfg.OnCurrentPage != nil {
		t.cfg.OnCurrentPage(page)
	}
}

func (t *Tracker) handle(batch []Event) (int, bool) {
	t.handling.Lock()
	defer t.handling.Unlock()

	var entered, left []*slot.Slot

	t.mu.Lock()
	for _, ev := range batch {
		s := ev.Slot
		if s == nil || s.Kind == slot.Dummy {
			continue
		}
		if _, ok := t.registered[s]; !ok {
			continue
		}
		_, visible := t.visible[s]
		switch {
		case ev.Intersecting && !visible:
			t.visible[s] = ev.Ratio
			entered = append(entered, s)
		case ev.Intersecting:
			t.visible[s] = ev.Ratio
		case visible:
			delete(t.visible, s)
			left = append(left, s)
		}
	}
	suppressed := t.suppressed
	t.mu.Unlock()

	for _, s := range left {
		t.log.Printf("[>] Page %d left the viewport", s.Page)
		t.mat.Discard(s)
	}
	for _, s := range entered {
		t.log.Printf("[>] Page %d entered the viewport", s.Page)
		t.mat.Materialize(s)
	}

	if suppressed {
		return 0, false
	}
	view := t.bounds.Bounds()

	t.mu.Lock()
	prev := t.current
	next := pickCurrent(view, t.visible, prev)
	t.current = next
	t.mu.Unlock()

	if next == prev {
		return 0, false
	}
	t.log.Printf("[*] Current page %d", next)
	return next, true
}

// pickCurrent returns the page with the highest overlap. prev wins any tie it
// takes part in, otherwise the lowest page does. With nothing visible prev is
// kept.
func pickCurrent(view geometry.Span, visible map[*slot.Slot]float64, prev int) int {
	best, bestRatio := 0, -1.0
	prevRatio := -1.0
	for s := range visible {
		r := geometry.Overlap(view, s.Span())
		if s.Page == prev {
			prevRatio = r
		}
		if r > bestRatio || (r == bestRatio && s.Page < best) {
			best, bestRatio = s.Page, r
		}
	}
	if best == 0 {
		return prev
	}
	if prevRatio == bestRatio {
		return prev
	}
	return best
}

// Visible returns the visible slots in page order.
func (t *Tracker) Visible() []*slot.Slot {
	t.mu.Lock()
	out := make([]*slot.Slot, 0, len(t.visible))
	for s := range t.visible {
		out = append(out, s)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out
}

// Ratio is the last intersection ratio reported for page, or 0.
func (t *Tracker) Ratio(page int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s, r := range t.visible {
		if s.Page == page {
			return r
		}
	}
	return 0
}
