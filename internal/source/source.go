package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/ivlev/pdfview/internal/geometry"
)

var (
	// ErrCancelled is returned by decoders that notice a cancelled render.
	ErrCancelled = errors.New("render cancelled")
	// ErrPageRange is returned for page numbers outside the document.
	ErrPageRange = errors.New("page out of range")
)

// RenderOptions are the parameters a page is rasterized with. Scale already
// includes the device pixel ratio; 1.0 is one pixel per point.
type RenderOptions struct {
	Scale    float64
	Rotation int
}

// Decoder turns page numbers (1-based) into sizes and pixels.
type Decoder interface {
	PageCount() int
	PageDimensions(page int) (geometry.Size, error)
	RenderPage(ctx context.Context, page int, opts RenderOptions) (image.Image, error)
	Close() error
}

func checkPage(page, count int) error {
	if page < 1 || page > count {
		return fmt.Errorf("%w: %d of %d", ErrPageRange, page, count)
	}
	return nil
}

// FitzPDFSource decodes PDF (and other MuPDF formats) through go-fitz.
type FitzPDFSource struct {
	mu   sync.Mutex
	doc  *fitz.Document
	path string
}

func NewFitzPDFSource(path string) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &FitzPDFSource{doc: doc, path: path}, nil
}

func (f *FitzPDFSource) PageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.NumPage()
}

func (f *FitzPDFSource) PageDimensions(page int) (geometry.Size, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkPage(page, f.doc.NumPage()); err != nil {
		return geometry.Size{}, err
	}
	rect, err := f.doc.Bound(page - 1)
	if err != nil {
		return geometry.Size{}, err
	}
	return geometry.Size{Width: float64(rect.Dx()), Height: float64(rect.Dy())}, nil
}

// RenderPage opens a private document handle so that renders of different
// pages do not serialize on the shared one.
func (f *FitzPDFSource) RenderPage(ctx context.Context, page int, opts RenderOptions) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPage(page, f.PageCount()); err != nil {
		return nil, err
	}

	workerDoc, err := fitz.New(f.path)
	if err != nil {
		return nil, err
	}
	defer workerDoc.Close()

	img, err := workerDoc.ImageDPI(page-1, 72*opts.Scale)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Orient(img, opts.Rotation), nil
}

func (f *FitzPDFSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Close()
}
