// Package preprocess separates trace ink from grid ink and paper background,
// producing the binary rasters the digitization passes operate on.
package preprocess

import (
	"image"
	"math"

	"ecg-digitizer/internal/raster"
	"ecg-digitizer/pkg/colorutil"

	"github.com/anthonynsimon/bild/blur"
)

// InkClass labels a pixel by the kind of ink it carries.
type InkClass int

const (
	Background InkClass = iota
	GridInk             // red/pink calibration grid lines
	TraceInk            // dark waveform (and text) ink
)

// Options configures ink classification.
type Options struct {
	// BlurRadius is the Gaussian pre-blur radius in pixels. Zero disables
	// blurring. A small blur knocks out single-pixel scan noise.
	BlurRadius float64

	// TraceLMax is the Lab lightness ceiling for trace ink (L in 0-1).
	TraceLMax float64

	// TraceChromaMax is the chromaticity ceiling for trace ink. Trace ink is
	// near-neutral; anything warmer belongs to the grid.
	TraceChromaMax float64

	// GridChromaMin is the chromaticity floor for grid ink.
	GridChromaMin float64

	// GridLMax excludes near-white paper from the grid class.
	GridLMax float64
}

// DefaultOptions returns the classification defaults, tuned for standard
// red-grid thermal printouts.
func DefaultOptions() Options {
	return Options{
		BlurRadius:     1.0,
		TraceLMax:      0.45,
		TraceChromaMax: 0.25,
		GridChromaMin:  0.12,
		GridLMax:       0.97,
	}
}

// Masks holds the classified ink rasters for one source image.
type Masks struct {
	Trace *raster.Bitmap
	Grid  *raster.Bitmap
}

// ClassifyPixel labels a single pixel.
//
// Grid ink is warm and chromatic (red through pink); trace ink is dark and
// near-neutral. Everything else is paper. Printed text shares the trace ink
// class here; it is rejected later by run-shape filtering in extraction.
func ClassifyPixel(l, a, b float64, opts Options) InkClass {
	chroma := chromaOf(a, b)
	if a > 0 && chroma >= opts.GridChromaMin && l <= opts.GridLMax {
		return GridInk
	}
	if l <= opts.TraceLMax && chroma <= opts.TraceChromaMax {
		return TraceInk
	}
	return Background
}

// BuildMasks classifies every pixel of the image into trace and grid rasters.
// This is the pure-Go path; BuildMasksOpenCV is the gocv-backed equivalent.
func BuildMasks(img image.Image, opts Options) *Masks {
	if opts.BlurRadius > 0 {
		img = blur.Gaussian(img, opts.BlurRadius)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	m := &Masks{
		Trace: raster.New(w, h),
		Grid:  raster.New(w, h),
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l, a, b := colorutil.Lab(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			switch ClassifyPixel(l, a, b, opts) {
			case TraceInk:
				m.Trace.Set(x, y, true)
			case GridInk:
				m.Grid.Set(x, y, true)
			}
		}
	}

	RepairBorders(m.Trace)
	return m
}

func chromaOf(a, b float64) float64 {
	return math.Sqrt(a*a + b*b)
}
