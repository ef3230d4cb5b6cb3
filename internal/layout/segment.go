package layout

import (
	"fmt"
	"sort"

	"ecg-digitizer/internal/calibrate"
	"ecg-digitizer/internal/ecg"
	"ecg-digitizer/internal/logger"
	"ecg-digitizer/internal/raster"
	"ecg-digitizer/pkg/geometry"
)

// Region is one labeled per-lead pixel region of the printout.
type Region struct {
	// Lead is the underlying channel printed in this region. For a rhythm
	// strip this is the lead the strip repeats (commonly II).
	Lead ecg.Lead `json:"lead"`

	// Rhythm marks a full-width rhythm strip region.
	Rhythm bool `json:"rhythm,omitempty"`

	// Row and Col give the panel grid position; rhythm strips use Col 0 and
	// rows past the panel grid.
	Row int `json:"row"`
	Col int `json:"col"`

	Bounds geometry.RectInt `json:"bounds"`
}

// Result holds the selected layout and its labeled regions, ordered with the
// 12 standard leads in canonical order followed by rhythm strips.
type Result struct {
	Layout  *ecg.Layout `json:"layout"`
	Regions []Region    `json:"regions"`
	Score   float64     `json:"score"`
	Cabrera bool        `json:"cabrera"`
}

// DetectionError is the whole-image fatal layout failure.
type DetectionError struct {
	BestName  string
	BestScore float64
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("no canonical layout detected (best %q scored %.2f)", e.BestName, e.BestScore)
}

// Options configures layout detection.
type Options struct {
	// Expected optionally names a registered layout to force. Detection still
	// partitions the image but skips scoring other layouts.
	Expected string

	// Cabrera selects the Cabrera panel order when labeling regions.
	Cabrera bool

	// MinScore is the acceptance threshold for the best-scoring layout.
	MinScore float64

	// MinRowHeightMM rejects layouts whose implied row height is physically
	// implausible for a printed lead.
	MinRowHeightMM float64
}

// DefaultOptions returns the standard detection options.
func DefaultOptions() Options {
	return Options{
		MinScore:       0.5,
		MinRowHeightMM: 8,
	}
}

// Segment selects the canonical layout best matching the trace raster and
// partitions the image into labeled lead regions.
//
// Ties are broken deterministically: the layout registry is ordered by how
// common each arrangement is in practice, and the first layout reaching the
// best score wins.
func Segment(trace *raster.Bitmap, cal *calibrate.Calibration, opts Options) (*Result, error) {
	bands := DetectBands(trace, trace.H/16)
	logger.DebugLog("layout: %d signal bands detected", len(bands))

	candidates := ecg.Layouts()
	if opts.Expected != "" {
		forced := ecg.GetLayout(opts.Expected)
		if forced == nil {
			return nil, &DetectionError{BestName: opts.Expected, BestScore: 0}
		}
		candidates = []*ecg.Layout{forced}
	}

	var best *ecg.Layout
	bestScore := -1.0
	for _, l := range candidates {
		s := scoreLayout(l, trace, cal, bands, opts)
		logger.DebugLog("layout %s: score %.2f", l.Name, s)
		if s > bestScore {
			best, bestScore = l, s
		}
	}

	if opts.Expected == "" && bestScore < opts.MinScore {
		name := ""
		if best != nil {
			name = best.Name
		}
		return nil, &DetectionError{BestName: name, BestScore: bestScore}
	}

	res := &Result{
		Layout:  best,
		Score:   bestScore,
		Cabrera: opts.Cabrera,
		Regions: partition(best, trace, bands, opts.Cabrera),
	}

	// Regions must tile the strip without overlap; adjacent regions share
	// boundaries but never pixels.
	for i := range res.Regions {
		for j := i + 1; j < len(res.Regions); j++ {
			if res.Regions[i].Bounds.Intersects(res.Regions[j].Bounds) {
				return nil, &DetectionError{BestName: best.Name, BestScore: bestScore}
			}
		}
	}
	return res, nil
}

// scoreLayout rates how well a layout explains the observed band structure
// and image geometry.
func scoreLayout(l *ecg.Layout, trace *raster.Bitmap, cal *calibrate.Calibration, bands []int, opts Options) float64 {
	expected := l.TotalRows()

	// A printed lead row cannot be arbitrarily short; calibration gives the
	// physical row height this layout would imply.
	rowHeightMM := float64(trace.H) / float64(expected) / cal.PixelsPerMM()
	if rowHeightMM < opts.MinRowHeightMM {
		return 0
	}

	diff := float64(absInt(len(bands) - expected))
	bandScore := 1 - diff/float64(expected)
	if bandScore < 0 {
		bandScore = 0
	}

	aspect := float64(trace.W) / float64(trace.H)
	aspectDiff := aspect - l.NominalAspect
	if aspectDiff < 0 {
		aspectDiff = -aspectDiff
	}
	aspectScore := 1 - aspectDiff/l.NominalAspect
	if aspectScore < 0 {
		aspectScore = 0
	}

	return 0.6*bandScore + 0.4*aspectScore
}

// partition cuts the image into labeled regions for the given layout. Row
// boundaries follow detected band midpoints when the band count matches the
// layout; otherwise rows are split evenly. Columns are always split evenly.
func partition(l *ecg.Layout, trace *raster.Bitmap, bands []int, cabrera bool) []Region {
	total := l.TotalRows()

	centers := make([]int, total)
	if len(bands) == total {
		copy(centers, bands)
	} else {
		rowH := trace.H / total
		for r := 0; r < total; r++ {
			centers[r] = r*rowH + rowH/2
		}
	}

	// Row boundaries at midpoints between adjacent band centers. Standard
	// regions stay mutually non-overlapping by construction.
	bounds := make([]int, total+1)
	bounds[0] = 0
	bounds[total] = trace.H
	for r := 1; r < total; r++ {
		bounds[r] = (centers[r-1] + centers[r]) / 2
	}

	var regions []Region
	colW := trace.W / l.Cols
	for r := 0; r < l.Rows; r++ {
		for c := 0; c < l.Cols; c++ {
			x := c * colW
			w := colW
			if c == l.Cols-1 {
				w = trace.W - x
			}
			regions = append(regions, Region{
				Lead: l.LeadAt(r, c, cabrera),
				Row:  r,
				Col:  c,
				Bounds: geometry.RectInt{
					X: x, Y: bounds[r],
					Width: w, Height: bounds[r+1] - bounds[r],
				},
			})
		}
	}

	sort.SliceStable(regions, func(i, j int) bool {
		return ecg.CanonicalIndex(regions[i].Lead) < ecg.CanonicalIndex(regions[j].Lead)
	})

	for i, lead := range l.Rhythm {
		r := l.Rows + i
		regions = append(regions, Region{
			Lead:   lead,
			Rhythm: true,
			Row:    r,
			Bounds: geometry.RectInt{
				X: 0, Y: bounds[r],
				Width: trace.W, Height: bounds[r+1] - bounds[r],
			},
		})
	}

	return regions
}
