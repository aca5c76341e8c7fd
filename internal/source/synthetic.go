package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"

	"github.com/ivlev/pdfview/internal/geometry"
)

// SyntheticSource generates pages without any file: every page is a white
// sheet carrying a QR code of its label. Useful for demos and for machines
// without MuPDF.
type SyntheticSource struct {
	Count int
	Size  geometry.Size
	// Label formats the QR payload for a page.
	Label func(page int) string
}

// NewSyntheticSource returns count A4-sized pages (in points).
func NewSyntheticSource(count int) *SyntheticSource {
	return &SyntheticSource{
		Count: count,
		Size:  geometry.Size{Width: 595, Height: 842},
		Label: func(page int) string { return fmt.Sprintf("page %d", page) },
	}
}

func (s *SyntheticSource) PageCount() int {
	return s.Count
}

func (s *SyntheticSource) PageDimensions(page int) (geometry.Size, error) {
	if err := checkPage(page, s.Count); err != nil {
		return geometry.Size{}, err
	}
	return s.Size, nil
}

func (s *SyntheticSource) RenderPage(ctx context.Context, page int, opts RenderOptions) (image.Image, error) {
	if err := checkPage(page, s.Count); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	w := int(math.Max(1, math.Round(s.Size.Width*scale)))
	h := int(math.Max(1, math.Round(s.Size.Height*scale)))

	sheet := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(sheet, sheet.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	side := min(w, h) / 2
	if side >= 21 {
		qr, err := qrcode.New(s.Label(page), qrcode.Medium)
		if err != nil {
			return nil, fmt.Errorf("encoding page %d label: %w", page, err)
		}
		code := qr.Image(side)
		at := image.Pt((w-side)/2, (h-side)/2)
		draw.Draw(sheet, image.Rectangle{Min: at, Max: at.Add(image.Pt(side, side))}, code, code.Bounds().Min, draw.Src)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Orient(sheet, opts.Rotation), nil
}

func (s *SyntheticSource) Close() error {
	return nil
}
