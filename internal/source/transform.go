package source

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/ivlev/pdfview/internal/geometry"
)

// Orient rotates img clockwise by a multiple of 90 degrees. Other angles and
// zero return img unchanged.
func Orient(img image.Image, rotation int) image.Image {
	rot, err := geometry.NormalizeRotation(rotation)
	if err != nil || rot == 0 {
		return img
	}

	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	minX, minY := float64(b.Min.X), float64(b.Min.Y)

	var dst *image.RGBA
	var m f64.Aff3
	switch rot {
	case 90:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		m = f64.Aff3{0, -1, h + minY, 1, 0, -minX}
	case 180:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		m = f64.Aff3{-1, 0, w + minX, 0, -1, h + minY}
	case 270:
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
		m = f64.Aff3{0, 1, -minY, -1, 0, w + minX}
	}

	// Pixel centres map onto pixel centres, so nearest neighbour is exact.
	draw.NearestNeighbor.Transform(dst, m, img, b, draw.Src, nil)
	return dst
}

// Resize scales img by factor. A factor of 1 (or an unusable one) returns img.
func Resize(img image.Image, factor float64) image.Image {
	if factor == 1 || factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return img
	}
	b := img.Bounds()
	w := int(math.Max(1, math.Round(float64(b.Dx())*factor)))
	h := int(math.Max(1, math.Round(float64(b.Dy())*factor)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
