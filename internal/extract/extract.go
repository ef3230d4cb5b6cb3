// Package extract resolves the ECG curve inside one lead region to at most
// one trace row per pixel column.
package extract

import (
	"fmt"
	"math"

	"ecg-digitizer/internal/raster"
	"ecg-digitizer/pkg/geometry"
)

// Trace is the resolved pixel curve of one lead region: one row value per
// column, left to right. Missing columns hold NaN.
type Trace struct {
	// Left is the absolute image column of Rows[0].
	Left int

	// Rows holds the resolved row per column. At most one row per column by
	// construction.
	Rows []float64
}

// Cols returns the number of columns covered by the trace.
func (t *Trace) Cols() int {
	return len(t.Rows)
}

// Missing reports whether column i resolved no trace pixel.
func (t *Trace) Missing(i int) bool {
	return math.IsNaN(t.Rows[i])
}

// Resolved returns the number of non-missing columns.
func (t *Trace) Resolved() int {
	n := 0
	for _, r := range t.Rows {
		if !math.IsNaN(r) {
			n++
		}
	}
	return n
}

// Error is the lead-local extraction failure: a majority of columns had no
// distinguishable trace pixels. It never aborts sibling leads.
type Error struct {
	Resolved int
	Columns  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("trace extraction failed: %d of %d columns resolved", e.Resolved, e.Columns)
}

// Options configures trace resolution.
type Options struct {
	// MaxJumpRows rejects a continuity step larger than this many rows as
	// noise rather than trace. Zero derives a default from the region height.
	MaxJumpRows int

	// MinRunPx drops ink runs shorter than this (speckle).
	MinRunPx int

	// MaxRunFrac drops runs taller than this fraction of the region height;
	// such runs are leftover gridlines or text blocks, not waveform.
	MaxRunFrac float64

	// GapPenalty weights vertical disconnection in the DP cost. Zero derives
	// a default from the region width.
	GapPenalty float64

	// UseDP selects the global shortest-path resolver instead of the greedy
	// continuity heuristic.
	UseDP bool

	// Exclude lists absolute column spans to skip entirely, e.g. the columns
	// of a calibration pulse.
	Exclude []geometry.Span
}

// DefaultOptions returns the standard extraction options.
func DefaultOptions() Options {
	return Options{
		MinRunPx:   1,
		MaxRunFrac: 0.9,
	}
}

// Extract resolves the trace of one lead region. The returned trace spans
// every region column; unresolvable columns are marked missing and deferred
// to reconstruction.
func Extract(bm *raster.Bitmap, region geometry.RectInt, opts Options) (*Trace, error) {
	region = region.Clamp(bm.Bounds())
	if region.Empty() {
		return nil, &Error{Resolved: 0, Columns: 0}
	}

	maxJump := opts.MaxJumpRows
	if maxJump <= 0 {
		maxJump = region.Height / 3
	}

	runs := regionRuns(bm, region, opts)

	var tr *Trace
	if opts.UseDP {
		tr = resolveDP(runs, region, opts)
	} else {
		tr = resolveGreedy(runs, region, maxJump)
	}

	usable := 0
	for x := 0; x < region.Width; x++ {
		if !excluded(region.X+x, opts.Exclude) {
			usable++
		}
	}
	if resolved := tr.Resolved(); usable == 0 || resolved*2 < usable {
		return nil, &Error{Resolved: resolved, Columns: usable}
	}
	return tr, nil
}

// regionRuns collects the filtered candidate ink runs of every region column.
func regionRuns(bm *raster.Bitmap, region geometry.RectInt, opts Options) [][]raster.Run {
	maxRun := int(opts.MaxRunFrac * float64(region.Height))
	if maxRun < 1 {
		maxRun = region.Height
	}

	all := make([][]raster.Run, region.Width)
	for x := 0; x < region.Width; x++ {
		if excluded(region.X+x, opts.Exclude) {
			continue
		}
		col := bm.ColumnRuns(region.X+x, region.Y, region.Bottom())
		var kept []raster.Run
		for _, r := range col {
			if r.Height() < opts.MinRunPx || r.Height() > maxRun {
				continue
			}
			kept = append(kept, r)
		}
		all[x] = kept
	}
	return all
}

// resolveGreedy picks, per column, the run whose center is closest to the
// previously resolved row, rejecting jumps beyond maxJump.
func resolveGreedy(runs [][]raster.Run, region geometry.RectInt, maxJump int) *Trace {
	rows := make([]float64, region.Width)
	for i := range rows {
		rows[i] = math.NaN()
	}

	prev := math.NaN()
	for x := 0; x < region.Width; x++ {
		cand := runs[x]
		if len(cand) == 0 {
			continue
		}

		// Before any resolution, anchor on the run nearest the region's
		// vertical center, where the baseline sits.
		target := prev
		if math.IsNaN(target) {
			target = region.Center().Y
		}

		best := -1
		bestDist := math.Inf(1)
		for i, r := range cand {
			d := math.Abs(r.Center() - target)
			if d < bestDist {
				best, bestDist = i, d
			}
		}

		if !math.IsNaN(prev) && bestDist > float64(maxJump) {
			continue // noise, not trace
		}
		rows[x] = cand[best].Center()
		prev = rows[x]
	}

	return &Trace{Left: region.X, Rows: rows}
}

func excluded(col int, spans []geometry.Span) bool {
	for _, s := range spans {
		if s.Contains(col) {
			return true
		}
	}
	return false
}
