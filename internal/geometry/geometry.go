package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrRotation is returned for angles that are not a multiple of 90 degrees.
var ErrRotation = errors.New("rotation must be a multiple of 90 degrees")

// Size is a width/height pair in layout pixels.
type Size struct {
	Width  float64
	Height float64
}

// Scale returns the size multiplied by s.
func (s Size) Scale(f float64) Size {
	return Size{Width: s.Width * f, Height: s.Height * f}
}

// Valid reports whether both sides are finite and positive.
func (s Size) Valid() bool {
	return finitePositive(s.Width) && finitePositive(s.Height)
}

func (s Size) String() string {
	return fmt.Sprintf("%.1fx%.1f", s.Width, s.Height)
}

// Span is a vertical extent in content coordinates (top < bottom).
type Span struct {
	Top    float64
	Bottom float64
}

// Height returns the length of the span, never negative.
func (s Span) Height() float64 {
	if s.Bottom < s.Top {
		return 0
	}
	return s.Bottom - s.Top
}

// Intersects reports whether the two spans share more than an edge.
func (s Span) Intersects(o Span) bool {
	return s.Top < o.Bottom && o.Top < s.Bottom
}

// Overlap scores how much of the viewport a slot occupies near the viewport
// edges. A slot entirely inside the viewport, or one covering it completely,
// scores 1.
func Overlap(viewport, slot Span) float64 {
	vh := viewport.Height()
	if vh <= 0 {
		return 0
	}
	if slot.Bottom < viewport.Top || slot.Top > viewport.Bottom {
		return 0
	}

	var ratio float64
	switch {
	case slot.Top < viewport.Top && viewport.Top < slot.Bottom:
		ratio = (slot.Bottom - viewport.Top) / vh
	case slot.Top < viewport.Bottom && viewport.Bottom < slot.Bottom:
		ratio = (viewport.Bottom - slot.Top) / vh
	default:
		ratio = 1
	}
	return clamp01(ratio)
}

// IntersectionRatio is the fraction of the slot's own height that lies inside
// the viewport.
func IntersectionRatio(viewport, slot Span) float64 {
	h := slot.Height()
	if h <= 0 {
		return 0
	}
	top := math.Max(viewport.Top, slot.Top)
	bottom := math.Min(viewport.Bottom, slot.Bottom)
	if bottom <= top {
		return 0
	}
	return clamp01((bottom - top) / h)
}

// NormalizeRotation folds any multiple of 90 into 0, 90, 180 or 270.
func NormalizeRotation(deg int) (int, error) {
	if deg%90 != 0 {
		return 0, fmt.Errorf("%w: %d", ErrRotation, deg)
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg, nil
}

// Quarter reports whether the rotation is an odd multiple of 90 degrees.
func Quarter(rotation int) bool {
	return (rotation/90)%2 != 0
}

// Rotate swaps the sides of s for quarter turns.
func Rotate(s Size, rotation int) Size {
	if Quarter(rotation) {
		return Size{Width: s.Height, Height: s.Width}
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
