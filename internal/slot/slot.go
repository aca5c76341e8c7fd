// Package slot holds the layout unit for one page: its box in the scroll
// area and the pixel surface rendered for it.
package slot

import (
	"fmt"
	"image"
	"sync"

	"github.com/ivlev/pdfview/internal/geometry"
	"github.com/ivlev/pdfview/internal/system"
)

// Kind distinguishes slots that show a page from padding in a spread.
type Kind int

const (
	Real Kind = iota
	Dummy
)

func (k Kind) String() string {
	if k == Dummy {
		return "dummy"
	}
	return "real"
}

// Surface is the pixel buffer of a rendered slot together with the
// parameters it was produced with.
type Surface struct {
	Image      *image.RGBA
	Scale      float64
	Rotation   int
	Flip       bool
	Foreground uint32
	Background uint32
	PixelRatio float64
	Generation uint64
}

// Bytes is the memory held by the surface's pixels.
func (s *Surface) Bytes() int64 {
	if s == nil || s.Image == nil {
		return 0
	}
	return int64(len(s.Image.Pix))
}

// Slot is one page box. Page is 0 for dummies.
type Slot struct {
	Page int
	Kind Kind

	mu         sync.Mutex
	intrinsic  geometry.Size
	scale      float64
	rotation   int
	span       geometry.Span
	surface    *Surface
	generation uint64
	failed     error
}

// New creates a real slot for page (1-based) with its unscaled size.
func New(page int, intrinsic geometry.Size) *Slot {
	return &Slot{
		Page:      page,
		Kind:      Real,
		intrinsic: intrinsic,
		scale:     1,
	}
}

// Dummy clones the slot's geometry into a padding slot.
func (s *Slot) Dummy() *Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Slot{
		Kind:      Dummy,
		intrinsic: s.intrinsic,
		scale:     s.scale,
		rotation:  s.rotation,
	}
}

func (s *Slot) String() string {
	if s.Kind == Dummy {
		return "slot(dummy)"
	}
	return fmt.Sprintf("slot(%d)", s.Page)
}

// Intrinsic is the unscaled, unrotated page size.
func (s *Slot) Intrinsic() geometry.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intrinsic
}

// Oriented is the unscaled size after rotation.
func (s *Slot) Oriented() geometry.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return geometry.Rotate(s.intrinsic, s.rotation)
}

// Visual is the on-screen size: rotated, then scaled.
func (s *Slot) Visual() geometry.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return geometry.Rotate(s.intrinsic, s.rotation).Scale(s.scale)
}

func (s *Slot) Scale() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale
}

func (s *Slot) SetScale(scale float64) {
	s.mu.Lock()
	s.scale = scale
	s.mu.Unlock()
}

func (s *Slot) Rotation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotation
}

// SetRotation expects a normalized angle (see geometry.NormalizeRotation).
func (s *Slot) SetRotation(rotation int) {
	s.mu.Lock()
	s.rotation = rotation
	s.mu.Unlock()
}

// Span is the slot's vertical extent in the scroll area.
func (s *Slot) Span() geometry.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.span
}

func (s *Slot) SetSpan(span geometry.Span) {
	s.mu.Lock()
	s.span = span
	s.mu.Unlock()
}

// Generation is the number of the newest render issued for the slot.
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// NextGeneration bumps and returns the render generation.
func (s *Slot) NextGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

// HasSurface reports whether pixels are materialized.
func (s *Slot) HasSurface() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface != nil
}

// Surface returns the current surface or nil.
func (s *Slot) Surface() *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface
}

// SetSurface installs surf and returns the previous buffer to the pool.
// Dummy slots never hold pixels.
func (s *Slot) SetSurface(surf *Surface) {
	if s.Kind == Dummy {
		panic("slot: surface on a dummy slot")
	}
	s.mu.Lock()
	prev := s.surface
	s.surface = surf
	s.failed = nil
	s.mu.Unlock()

	if prev != nil && prev != surf {
		system.PutImage(prev.Image)
	}
}

// DestroySurface frees the slot's pixels. It returns the bytes released.
func (s *Slot) DestroySurface() int64 {
	s.mu.Lock()
	prev := s.surface
	s.surface = nil
	s.mu.Unlock()

	if prev == nil {
		return 0
	}
	n := prev.Bytes()
	system.PutImage(prev.Image)
	return n
}

// SetFailed marks the slot as failed to render.
func (s *Slot) SetFailed(err error) {
	s.mu.Lock()
	s.failed = err
	s.mu.Unlock()
}

// Failed returns the last render failure, cleared by the next surface.
func (s *Slot) Failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}
