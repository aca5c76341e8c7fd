package render

import (
	"fmt"
	"image"
	"sort"
	"strconv"
	"strings"
)

// Color is a duotone remap. Foreground is what white paper turns into,
// Background is what black ink turns into. Both are 0xRRGGBB.
type Color struct {
	Foreground uint32 `yaml:"foreground"`
	Background uint32 `yaml:"background"`
}

// Original leaves pixels untouched.
var Original = Color{Foreground: 0xffffff, Background: 0x000000}

var schemes = map[string]Color{
	"original":        Original,
	"invert":          {Foreground: 0x000000, Background: 0xffffff},
	"sepia":           {Foreground: 0x000000, Background: 0x704214},
	"solarized-light": {Foreground: 0x657b83, Background: 0xfdf6e3},
	"solarized-dark":  {Foreground: 0x839496, Background: 0x002b36},
}

// LookupScheme returns a named colour scheme.
func LookupScheme(name string) (Color, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
	c, ok := schemes[key]
	if !ok {
		return Color{}, fmt.Errorf("unknown color scheme %q (known: %s)", name, strings.Join(SchemeNames(), ", "))
	}
	return c, nil
}

// SchemeNames lists the built-in schemes.
func SchemeNames() []string {
	names := make([]string, 0, len(schemes))
	for n := range schemes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseColor reads "#rrggbb" or "rrggbb".
func ParseColor(s string) (uint32, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return 0, fmt.Errorf("color %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("color %q: %w", s, err)
	}
	return uint32(v), nil
}

func channels(c uint32) [3]int {
	return [3]int{int(c>>16) & 0xff, int(c>>8) & 0xff, int(c) & 0xff}
}

// Tint remaps every pixel between Background and Foreground in place, using
// each original channel value as the interpolation weight. Alpha is kept.
func Tint(img *image.RGBA, c Color) {
	if c == Original {
		return
	}
	fore, back := channels(c.Foreground), channels(c.Background)

	var lut [3][256]uint8
	for ch := 0; ch < 3; ch++ {
		d := fore[ch] - back[ch]
		for v := 0; v < 256; v++ {
			lut[ch][v] = uint8(back[ch] + roundDiv(v*d, 255))
		}
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			row[i] = lut[0][row[i]]
			row[i+1] = lut[1][row[i+1]]
			row[i+2] = lut[2][row[i+2]]
		}
	}
}

// roundDiv divides rounding half away from zero.
func roundDiv(n, d int) int {
	if n < 0 {
		return -((-n + d/2) / d)
	}
	return (n + d/2) / d
}

// FlipHorizontal mirrors img in place.
func FlipHorizontal(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for l, r := b.Min.X, b.Max.X-1; l < r; l, r = l+1, r-1 {
			lo, ro := img.PixOffset(l, y), img.PixOffset(r, y)
			for k := 0; k < 4; k++ {
				img.Pix[lo+k], img.Pix[ro+k] = img.Pix[ro+k], img.Pix[lo+k]
			}
		}
	}
}
