// Package colorutil provides shared color utilities for the ECG digitizer.
package colorutil

import (
	"image/color"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Overlay colors used for per-lead trace rendering. The palette follows the
// panel order so adjacent panels get visually distinct traces.
var Palette = []color.RGBA{
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 160, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 255, G: 140, B: 0, A: 255},
	{R: 0, G: 180, B: 180, A: 255},
	{R: 200, G: 0, B: 200, A: 255},
	{R: 128, G: 0, B: 0, A: 255},
	{R: 0, G: 100, B: 0, A: 255},
	{R: 0, G: 0, B: 128, A: 255},
	{R: 160, G: 82, B: 45, A: 255},
	{R: 100, G: 100, B: 0, A: 255},
	{R: 100, G: 0, B: 100, A: 255},
}

// PaletteColor returns the overlay color for panel index i.
func PaletteColor(i int) color.RGBA {
	return Palette[i%len(Palette)]
}

// Lab returns the CIE Lab coordinates of a color, L in [0,1].
func Lab(c color.Color) (l, a, b float64) {
	cf, ok := colorful.MakeColor(c)
	if !ok {
		// Fully transparent pixel, treat as white paper.
		return 1, 0, 0
	}
	return cf.Lab()
}

// DistanceLab returns the perceptual Lab distance between two colors.
func DistanceLab(c1, c2 color.Color) float64 {
	a, ok1 := colorful.MakeColor(c1)
	b, ok2 := colorful.MakeColor(c2)
	if !ok1 || !ok2 {
		return 1
	}
	return a.DistanceLab(b)
}

// RGBToHSV converts RGB (0-255) to HSV (OpenCV convention: H 0-180, S 0-255, V 0-255).
// Used to express gocv InRange bounds in the same space the masks operate in.
func RGBToHSV(r, g, b float64) (h, s, v float64) {
	r /= 255.0
	g /= 255.0
	b /= 255.0

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	diff := maxC - minC

	v = maxC * 255.0

	if maxC == 0 {
		s = 0
	} else {
		s = (diff / maxC) * 255.0
	}

	if diff == 0 {
		h = 0
	} else if maxC == r {
		h = 60 * math.Mod((g-b)/diff, 6)
	} else if maxC == g {
		h = 60 * ((b-r)/diff + 2)
	} else {
		h = 60 * ((r-g)/diff + 4)
	}

	if h < 0 {
		h += 360
	}

	return h / 2, s, v
}
