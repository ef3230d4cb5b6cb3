package calibrate

import (
	"sort"

	"ecg-digitizer/internal/logger"
	"ecg-digitizer/internal/raster"
	"ecg-digitizer/pkg/geometry"
)

// Pulse is a detected 1 mV calibration square pulse.
type Pulse struct {
	// Span is the column range the pulse occupies, including its vertical
	// strokes. Extraction excludes these columns from the signal.
	Span geometry.Span `json:"span"`

	// HeightPx is the plateau height above the baseline in pixels,
	// corresponding to exactly 1 mV.
	HeightPx float64 `json:"height_px"`
}

// FindPulse locates the calibration square pulse inside one horizontal band
// of the trace raster. The pulse is searched at the left edge of the band, or
// the right edge when atRight is set.
//
// A pulse presents as a run of columns whose topmost ink row holds constant
// (the plateau) well above the surrounding baseline.
func FindPulse(trace *raster.Bitmap, band geometry.RectInt, atRight bool, smallGridPx float64) (Pulse, bool) {
	band = band.Clamp(trace.Bounds())
	if band.Empty() {
		return Pulse{}, false
	}

	searchW := band.Width * 15 / 100
	if searchW < 8 {
		searchW = min(8, band.Width)
	}
	x0 := band.X
	if atRight {
		x0 = band.Right() - searchW
	}

	// Topmost ink row per column, -1 when blank.
	tops := make([]int, searchW)
	for i := range tops {
		tops[i] = -1
		x := x0 + i
		for y := band.Y; y < band.Bottom(); y++ {
			if trace.Ink(x, y) {
				tops[i] = y
				break
			}
		}
	}

	minPlateau := int(3 * smallGridPx)
	if minPlateau < 4 {
		minPlateau = 4
	}

	// Maximal runs of columns with a stable topmost row. The pulse plateau is
	// the highest run long enough to be a plateau; the baseline run below it
	// is usually far longer, so length alone cannot pick the pulse.
	type topRun struct{ start, len, row int }
	var runs []topRun
	runStart := -1
	flush := func(end int) {
		if runStart >= 0 && end > runStart {
			r := topRun{start: runStart, len: end - runStart}
			r.row = medianInt(tops[r.start : r.start+r.len])
			runs = append(runs, r)
		}
	}
	for i := 0; i < searchW; i++ {
		if tops[i] < 0 {
			flush(i)
			runStart = -1
			continue
		}
		if runStart < 0 {
			runStart = i
		} else if absInt(tops[i]-tops[i-1]) > 2 {
			flush(i)
			runStart = i
		}
	}
	flush(searchW)

	bestStart, bestLen, plateauRow := -1, 0, 0
	for _, r := range runs {
		if r.len < minPlateau {
			continue
		}
		if bestStart < 0 || r.row < plateauRow {
			bestStart, bestLen, plateauRow = r.start, r.len, r.row
		}
	}
	if bestStart < 0 {
		return Pulse{}, false
	}

	// Baseline: the modal topmost row of the remaining search columns. The
	// mode resists contamination from waveform excursions near the pulse.
	var baseRows []int
	for i := 0; i < searchW; i++ {
		if i >= bestStart && i < bestStart+bestLen {
			continue
		}
		if tops[i] >= 0 && tops[i] > plateauRow+2 {
			baseRows = append(baseRows, tops[i])
		}
	}
	if len(baseRows) < 3 {
		return Pulse{}, false
	}
	baselineRow := modalInt(baseRows)

	height := float64(baselineRow - plateauRow)
	if height < 2 {
		return Pulse{}, false
	}

	// Include the vertical strokes flanking the plateau in the span.
	start := x0 + bestStart - 2
	end := x0 + bestStart + bestLen + 1
	if start < band.X {
		start = band.X
	}
	if end >= band.Right() {
		end = band.Right() - 1
	}
	return Pulse{Span: geometry.Span{Start: start, End: end}, HeightPx: height}, true
}

// RefineWithPulse refines the voltage scale from calibration pulses found in
// the given row bands. The scale is only adjusted when at least half the
// bands agree on the pulse height; detected pulses are returned either way so
// extraction can exclude their columns.
func RefineWithPulse(cal *Calibration, trace *raster.Bitmap, bands []geometry.RectInt, atRight bool) []Pulse {
	var pulses []Pulse
	var heights []float64
	for _, band := range bands {
		p, ok := FindPulse(trace, band, atRight, cal.SmallGridPx)
		if !ok {
			continue
		}
		pulses = append(pulses, p)
		heights = append(heights, p.HeightPx)
	}
	if len(heights)*2 < len(bands) || len(heights) == 0 {
		return pulses
	}

	sort.Float64s(heights)
	median := heights[len(heights)/2]
	agreeing := 0
	for _, h := range heights {
		if h > median*0.9 && h < median*1.1 {
			agreeing++
		}
	}
	if agreeing*2 < len(heights) {
		logger.DebugLog("pulse heights disagree, keeping grid-derived scale_y")
		return pulses
	}

	cal.MilliVoltsPerPixel = 1.0 / median
	if cal.Confidence < ConfidenceHigh {
		cal.Confidence++
	}
	logger.DebugLog("scale_y refined from %d pulses: %.2f px/mV", len(heights), median)
	return pulses
}

func medianInt(vals []int) int {
	s := make([]int, len(vals))
	copy(s, vals)
	sort.Ints(s)
	return s[len(s)/2]
}

func modalInt(vals []int) int {
	counts := make(map[int]int)
	for _, v := range vals {
		counts[v]++
	}
	best, bestCount := 0, -1
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
