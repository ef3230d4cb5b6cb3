// Package synth renders synthetic ECG printouts from known ground-truth
// signals. Tests use it to validate digitization against a known answer.
package synth

import (
	"image"
	"image/color"
	"image/draw"

	"ecg-digitizer/internal/ecg"
)

// Standard print colors of a thermal ECG printout.
var (
	ColorPaper = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	ColorMajor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	ColorMinor = color.RGBA{R: 255, G: 179, B: 179, A: 255}
	ColorTrace = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// Params configures the synthetic rendering.
type Params struct {
	Layout *ecg.Layout

	// PxPerMM is the render density; the printed 1 mm grid spacing in pixels.
	PxPerMM int

	// SampleRate is the rate of the input ground-truth signals.
	SampleRate float64

	// RowHeightMM is the height of one lead row band.
	RowHeightMM float64

	// PaperSpeedMMPerSec and GridMMPerMilliVolt are the nominal print scales.
	PaperSpeedMMPerSec float64
	GridMMPerMilliVolt float64

	// WithGrid disables the calibration grid when false, leaving traces on
	// blank paper.
	WithGrid bool

	// WithPulse draws a 1 mV calibration pulse at the left edge of each row.
	WithPulse bool

	// Cabrera renders panels in Cabrera order.
	Cabrera bool
}

// DefaultParams returns rendering defaults: a 3x4-with-rhythm strip at
// 8 px/mm and standard paper scales.
func DefaultParams() Params {
	return Params{
		Layout:             ecg.GetLayout("3x4+rhythm"),
		PxPerMM:            8,
		SampleRate:         500,
		RowHeightMM:        40,
		PaperSpeedMMPerSec: 25,
		GridMMPerMilliVolt: 10,
		WithGrid:           true,
	}
}

// Size returns the rendered image dimensions in pixels.
func (p Params) Size() (w, h int) {
	w = int(ecg.NominalStripWidthMM) * p.PxPerMM
	h = int(p.RowHeightMM*float64(p.Layout.TotalRows())) * p.PxPerMM
	return w, h
}

// Render draws the ground-truth signals onto a synthetic printout. Each
// signal covers the full nominal 10 seconds at p.SampleRate; panel leads plot
// only their column's slice, rhythm strips plot the whole signal.
func Render(signals map[ecg.Lead][]float64, p Params) *image.RGBA {
	w, h := p.Size()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(ColorPaper), image.Point{}, draw.Src)

	if p.WithGrid {
		drawGrid(img, p.PxPerMM)
	}

	rowH := int(p.RowHeightMM) * p.PxPerMM
	l := p.Layout

	for r := 0; r < l.Rows; r++ {
		for c := 0; c < l.Cols; c++ {
			lead := l.LeadAt(r, c, p.Cabrera)
			sig := signals[lead]
			if sig == nil {
				continue
			}
			n := len(sig)
			seg := sig[c*n/l.Cols : (c+1)*n/l.Cols]
			drawPanel(img, p, seg, r*rowH, rowH, c*w/l.Cols, w/l.Cols, lead == ecg.LeadAVR && p.Cabrera)
		}
	}
	for i, lead := range l.Rhythm {
		sig := signals[lead]
		if sig == nil {
			continue
		}
		drawPanel(img, p, sig, (l.Rows+i)*rowH, rowH, 0, w, false)
	}

	if p.WithPulse {
		for r := 0; r < l.TotalRows(); r++ {
			drawPulse(img, p, r*rowH, rowH)
		}
	}
	return img
}

// drawGrid draws the 1 mm minor and 5 mm major calibration grid.
func drawGrid(img *image.RGBA, pxPerMM int) {
	b := img.Bounds()
	for x := 0; x < b.Dx(); x += pxPerMM {
		col := ColorMinor
		if (x/pxPerMM)%5 == 0 {
			col = ColorMajor
		}
		for y := 0; y < b.Dy(); y++ {
			img.SetRGBA(x, y, col)
		}
	}
	for y := 0; y < b.Dy(); y += pxPerMM {
		col := ColorMinor
		if (y/pxPerMM)%5 == 0 {
			col = ColorMajor
		}
		for x := 0; x < b.Dx(); x++ {
			img.SetRGBA(x, y, col)
		}
	}
}

// drawPanel plots one signal segment as connected pen strokes inside a panel.
func drawPanel(img *image.RGBA, p Params, seg []float64, top, rowH, left, width int, invert bool) {
	baseline := top + rowH/2
	mmPerSample := p.PaperSpeedMMPerSec / p.SampleRate
	pxPerMV := p.GridMMPerMilliVolt * float64(p.PxPerMM)

	prevX, prevY := -1, 0
	for i, mv := range seg {
		if invert {
			mv = -mv
		}
		x := left + int(float64(i)*mmPerSample*float64(p.PxPerMM))
		if x >= left+width {
			break
		}
		y := baseline - int(mv*pxPerMV+0.5)
		if prevX >= 0 {
			drawStroke(img, prevX, prevY, x, y, top, top+rowH)
		}
		prevX, prevY = x, y
	}
}

// drawStroke fills the vertical span between consecutive sample columns,
// producing contiguous ink the way a plotted pen does.
func drawStroke(img *image.RGBA, x0, y0, x1, y1, yMin, yMax int) {
	if x1 < x0 {
		x0, y0, x1, y1 = x1, y1, x0, y0
	}
	for x := x0; x <= x1; x++ {
		// Interpolate the row at this column and connect to the previous one.
		var y int
		if x1 == x0 {
			y = y1
		} else {
			y = y0 + (y1-y0)*(x-x0)/(x1-x0)
		}
		lo, hi := y, y
		if x > x0 {
			var py int
			if x1 == x0 {
				py = y0
			} else {
				py = y0 + (y1-y0)*(x-1-x0)/(x1-x0)
			}
			if py < lo {
				lo = py
			}
			if py > hi {
				hi = py
			}
		}
		for yy := lo; yy <= hi; yy++ {
			if yy >= yMin && yy < yMax {
				img.SetRGBA(x, yy, ColorTrace)
			}
		}
	}
}

// drawPulse draws the 1 mV calibration square pulse at a row's left edge.
func drawPulse(img *image.RGBA, p Params, top, rowH int) {
	baseline := top + rowH/2
	heightPx := int(p.GridMMPerMilliVolt) * p.PxPerMM
	startX := p.PxPerMM
	widthPx := 5 * p.PxPerMM

	plateau := baseline - heightPx
	for y := plateau; y <= baseline; y++ {
		img.SetRGBA(startX, y, ColorTrace)
		img.SetRGBA(startX+widthPx, y, ColorTrace)
	}
	for x := startX; x <= startX+widthPx; x++ {
		img.SetRGBA(x, plateau, ColorTrace)
	}
}

// ObscureRegion paints a rectangle of paper over the image, simulating a
// fully occluded or blank lead region.
func ObscureRegion(img *image.RGBA, x, y, w, h int) {
	draw.Draw(img, image.Rect(x, y, x+w, y+h), image.NewUniform(ColorPaper), image.Point{}, draw.Src)
}

// EraseColumns blanks the trace ink in the given column range of one row
// band, injecting an ink gap of known width.
func EraseColumns(img *image.RGBA, x0, x1, y0, y1 int) {
	for x := x0; x < x1; x++ {
		for y := y0; y < y1; y++ {
			c := img.RGBAAt(x, y)
			if c == ColorTrace {
				img.SetRGBA(x, y, ColorPaper)
			}
		}
	}
}
