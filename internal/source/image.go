package source

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ivlev/pdfview/internal/geometry"
)

// ImageSource treats a directory of images (or one image) as a document,
// one page per file in name order. Sizes are in pixels.
type ImageSource struct {
	paths []string
}

func NewImageSource(path string) (*ImageSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	if fi.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				ext := strings.ToLower(filepath.Ext(entry.Name()))
				if ext == ".jpg" || ext == ".jpeg" || ext == ".png" {
					paths = append(paths, filepath.Join(path, entry.Name()))
				}
			}
		}
		sort.Strings(paths)
	} else {
		paths = []string{path}
	}

	return &ImageSource{paths: paths}, nil
}

func (s *ImageSource) PageCount() int {
	return len(s.paths)
}

func (s *ImageSource) PageDimensions(page int) (geometry.Size, error) {
	if err := checkPage(page, len(s.paths)); err != nil {
		return geometry.Size{}, err
	}
	f, err := os.Open(s.paths[page-1])
	if err != nil {
		return geometry.Size{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return geometry.Size{}, err
	}
	return geometry.Size{Width: float64(cfg.Width), Height: float64(cfg.Height)}, nil
}

func (s *ImageSource) RenderPage(ctx context.Context, page int, opts RenderOptions) (image.Image, error) {
	if err := checkPage(page, len(s.paths)); err != nil {
		return nil, err
	}
	f, err := os.Open(s.paths[page-1])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Orient(Resize(img, opts.Scale), opts.Rotation), nil
}

func (s *ImageSource) Close() error {
	return nil
}
