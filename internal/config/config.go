package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/pdfview/internal/fit"
	"github.com/ivlev/pdfview/internal/geometry"
	"github.com/ivlev/pdfview/internal/layout"
	"github.com/ivlev/pdfview/internal/render"
)

type Config struct {
	InputPath     string  `yaml:"input"`
	OutputDir     string  `yaml:"output"`
	StatePath     string  `yaml:"state"`
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	Gap           float64 `yaml:"gap"`
	PixelRatio    float64 `yaml:"pixel_ratio"`
	Workers       int     `yaml:"workers"`
	Layout        string  `yaml:"layout"`
	Fit           string  `yaml:"fit"`
	Scale         float64 `yaml:"scale"`
	Rotation      int     `yaml:"rotation"`
	Flip          bool    `yaml:"flip"`
	Scheme        string  `yaml:"scheme"`
	SurfaceBudget int64   `yaml:"surface_budget"`
	ShowStats     bool    `yaml:"stats"`
	Verbose       bool    `yaml:"verbose"`
	BuildVersion  string  `yaml:"-"`
}

// Default returns the settings used when neither a file nor flags say
// otherwise.
func Default() Config {
	return Config{
		OutputDir:  "output",
		Width:      1280,
		Height:     800,
		Gap:        16,
		PixelRatio: 1,
		Workers:    4,
		Layout:     layout.Single.String(),
		Fit:        fit.None.String(),
		Scheme:     "original",
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and parses the named policies.
func (c Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("viewport %dx%d must be positive", c.Width, c.Height))
	}
	if c.Gap < 0 || math.IsNaN(c.Gap) {
		errs = append(errs, fmt.Errorf("gap %v must not be negative", c.Gap))
	}
	if !(c.PixelRatio > 0) || math.IsInf(c.PixelRatio, 0) {
		errs = append(errs, fmt.Errorf("pixel ratio %v must be positive", c.PixelRatio))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers %d must not be negative", c.Workers))
	}
	if c.Scale < 0 || math.IsNaN(c.Scale) || math.IsInf(c.Scale, 0) {
		errs = append(errs, fmt.Errorf("scale %v must be positive", c.Scale))
	}
	if _, err := geometry.NormalizeRotation(c.Rotation); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LayoutPolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.FitPolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Color(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) LayoutPolicy() (layout.Policy, error) {
	return layout.ParsePolicy(c.Layout)
}

func (c Config) FitPolicy() (fit.Policy, error) {
	return fit.ParsePolicy(c.Fit)
}

func (c Config) Color() (render.Color, error) {
	return render.LookupScheme(c.Scheme)
}

// ViewportSize is the window size in layout pixels.
func (c Config) ViewportSize() geometry.Size {
	return geometry.Size{Width: float64(c.Width), Height: float64(c.Height)}
}
