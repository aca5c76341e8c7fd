// Package fit computes zoom scales that make the current spread fit the
// viewport.
package fit

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ivlev/pdfview/internal/geometry"
	"github.com/ivlev/pdfview/internal/layout"
)

// ErrDegenerateRow is returned when a row has no real page or a page with an
// unusable size.
var ErrDegenerateRow = errors.New("row has no measurable page")

// Policy is a resize rule.
type Policy int

const (
	None Policy = iota
	Width
	Height
	Page
)

var policyNames = map[Policy]string{
	None:   "none",
	Width:  "width",
	Height: "height",
	Page:   "page",
}

// ParsePolicy converts a fit policy name.
func ParsePolicy(s string) (Policy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for p, n := range policyNames {
		if n == name {
			return p, nil
		}
	}
	return 0, &layout.UnknownPolicyError{Kind: "fit", Value: s}
}

func (p Policy) String() string {
	if n, ok := policyNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

func (p Policy) MarshalText() ([]byte, error) {
	if _, ok := policyNames[p]; !ok {
		return nil, &layout.UnknownPolicyError{Kind: "fit", Value: p.String()}
	}
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Request carries everything ComputeScale needs.
type Request struct {
	Policy Policy
	// Row lists the page numbers of the current row; 0 marks a pad.
	Row []int
	// Dimensions returns a page's unscaled, unrotated size.
	Dimensions func(page int) geometry.Size
	Rotation   int
	Viewport   geometry.Size
	Gap        float64
	Layout     layout.Policy
	// Current is returned unchanged for None.
	Current float64
}

// ComputeScale returns the scale satisfying the request's policy.
func ComputeScale(req Request) (float64, error) {
	if req.Policy == None {
		return req.Current, nil
	}
	columns := req.Layout.Columns()

	var width, height float64
	measured := 0
	for _, page := range req.Row {
		if page == 0 {
			continue
		}
		size := geometry.Rotate(req.Dimensions(page), req.Rotation)
		if !size.Valid() {
			return 0, fmt.Errorf("%w: page %d is %v", ErrDegenerateRow, page, size)
		}
		width += size.Width
		height = math.Max(height, size.Height)
		measured++
	}
	if measured == 0 {
		return 0, ErrDegenerateRow
	}
	if columns > 1 {
		width += req.Gap
	}

	fitWidth := req.Viewport.Width / width
	fitHeight := req.Viewport.Height / height

	var scale float64
	switch req.Policy {
	case Width:
		scale = fitWidth
	case Height:
		scale = fitHeight
	case Page:
		scale = math.Min(fitWidth, fitHeight)
	default:
		panic(&layout.UnknownPolicyError{Kind: "fit", Value: req.Policy.String()})
	}

	if scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return 0, fmt.Errorf("%w: scale %f for viewport %v", ErrDegenerateRow, scale, req.Viewport)
	}
	return scale, nil
}
