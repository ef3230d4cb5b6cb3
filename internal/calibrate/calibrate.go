// Package calibrate derives the physical pixel scale of an ECG printout from
// its printed calibration grid.
package calibrate

import (
	"fmt"

	"ecg-digitizer/internal/logger"
	"ecg-digitizer/internal/raster"
	"ecg-digitizer/pkg/geometry"

	"gonum.org/v1/gonum/stat"
)

// Confidence grades how well the grid evidence supports the derived scale.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Options configures grid analysis.
type Options struct {
	// PaperSpeedMMPerSec is the nominal paper speed, default 25 mm/s.
	PaperSpeedMMPerSec float64

	// GridMMPerMilliVolt is the nominal voltage scale, default 10 mm/mV.
	GridMMPerMilliVolt float64

	// MinSpacingPx and MaxSpacingPx bound the search for the 1 mm grid
	// spacing. Scans below ~75 DPI or above ~1000 DPI are out of scope.
	MinSpacingPx int
	MaxSpacingPx int

	// MinPeriodicity is the normalized autocorrelation a candidate spacing
	// must reach to count as detected grid structure.
	MinPeriodicity float64

	// AllowNominalFallback permits falling back to FallbackPixelsPerMM with
	// low confidence when no periodicity is found. When false the analysis
	// fails instead.
	AllowNominalFallback bool

	// FallbackPixelsPerMM is the assumed scan density for the fallback.
	FallbackPixelsPerMM float64
}

// DefaultOptions returns the standard analysis options.
func DefaultOptions() Options {
	return Options{
		PaperSpeedMMPerSec:   25,
		GridMMPerMilliVolt:   10,
		MinSpacingPx:         3,
		MaxSpacingPx:         40,
		MinPeriodicity:       0.2,
		AllowNominalFallback: false,
		FallbackPixelsPerMM:  8,
	}
}

// Calibration is the derived pixel-to-physical-unit scale of one image.
// Computed once per image and shared read-only by all per-lead workers.
type Calibration struct {
	SecondsPerPixel    float64           `json:"seconds_per_pixel"`
	MilliVoltsPerPixel float64           `json:"millivolts_per_pixel"`
	SmallGridPx        float64           `json:"small_grid_px"`
	Origin             geometry.PointInt `json:"origin"`
	Confidence         Confidence        `json:"confidence"`
}

// PixelsPerMM returns the scan density implied by the small grid spacing.
func (c *Calibration) PixelsPerMM() float64 {
	return c.SmallGridPx
}

// Validate checks the positive-scale invariant.
func (c *Calibration) Validate() error {
	if c.SecondsPerPixel <= 0 || c.MilliVoltsPerPixel <= 0 {
		return fmt.Errorf("calibration scales must be positive")
	}
	return nil
}

// Error is the whole-image fatal calibration failure.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "calibration failed: " + e.Reason
}

// Analyze derives the grid calibration from the grid-ink raster. The row and
// column projection profiles are searched for the dominant 1 mm periodicity;
// the 5 mm harmonic upgrades confidence.
func Analyze(grid *raster.Bitmap, opts Options) (*Calibration, error) {
	if opts.PaperSpeedMMPerSec <= 0 || opts.GridMMPerMilliVolt <= 0 {
		return nil, &Error{Reason: "nominal paper scales must be positive"}
	}

	colSpacing, colScore := dominantPeriod(grid.ColProfile(), opts.MinSpacingPx, opts.MaxSpacingPx)
	rowSpacing, rowScore := dominantPeriod(grid.RowProfile(), opts.MinSpacingPx, opts.MaxSpacingPx)
	logger.DebugLog("grid periodicity: col=%dpx (%.2f) row=%dpx (%.2f)",
		colSpacing, colScore, rowSpacing, rowScore)

	colOK := colScore >= opts.MinPeriodicity
	rowOK := rowScore >= opts.MinPeriodicity

	var spacing float64
	conf := ConfidenceLow
	switch {
	case colOK && rowOK && agreeWithin(colSpacing, rowSpacing, 0.1):
		spacing = (float64(colSpacing) + float64(rowSpacing)) / 2
		conf = ConfidenceMedium
		// The 5 mm major grid shows up as a harmonic at five times the small
		// spacing on both axes of a clean scan.
		if periodScore(grid.ColProfile(), colSpacing*5) >= opts.MinPeriodicity &&
			periodScore(grid.RowProfile(), rowSpacing*5) >= opts.MinPeriodicity {
			conf = ConfidenceHigh
		}
	case colOK:
		spacing = float64(colSpacing)
		conf = ConfidenceMedium
	case rowOK:
		spacing = float64(rowSpacing)
		conf = ConfidenceMedium
	default:
		if !opts.AllowNominalFallback {
			return nil, &Error{Reason: "no grid periodicity detected"}
		}
		spacing = opts.FallbackPixelsPerMM
		logger.DebugLog("grid fallback: assuming %.1f px/mm", spacing)
	}

	cal := &Calibration{
		SecondsPerPixel:    1.0 / (opts.PaperSpeedMMPerSec * spacing),
		MilliVoltsPerPixel: 1.0 / (opts.GridMMPerMilliVolt * spacing),
		SmallGridPx:        spacing,
		Origin:             gridOrigin(grid, int(spacing)),
		Confidence:         conf,
	}
	if err := cal.Validate(); err != nil {
		return nil, &Error{Reason: err.Error()}
	}
	return cal, nil
}

// dominantPeriod finds the lag in [minLag, maxLag] with the highest
// normalized autocorrelation of the profile.
func dominantPeriod(profile []float64, minLag, maxLag int) (int, float64) {
	if maxLag >= len(profile)/2 {
		maxLag = len(profile)/2 - 1
	}
	if minLag < 1 || maxLag < minLag {
		return 0, 0
	}

	mean := stat.Mean(profile, nil)
	var denom float64
	for _, v := range profile {
		d := v - mean
		denom += d * d
	}
	if denom == 0 {
		return 0, 0
	}

	bestLag, bestScore := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var num float64
		for i := 0; i+lag < len(profile); i++ {
			num += (profile[i] - mean) * (profile[i+lag] - mean)
		}
		score := num / denom
		if score > bestScore {
			bestLag, bestScore = lag, score
		}
	}
	return bestLag, bestScore
}

// periodScore returns the normalized autocorrelation of the profile at one
// specific lag.
func periodScore(profile []float64, lag int) float64 {
	if lag < 1 || lag >= len(profile) {
		return 0
	}
	mean := stat.Mean(profile, nil)
	var num, denom float64
	for i, v := range profile {
		d := v - mean
		denom += d * d
		if i+lag < len(profile) {
			num += d * (profile[i+lag] - mean)
		}
	}
	if denom == 0 {
		return 0
	}
	return num / denom
}

// gridOrigin locates the first strong gridline on each axis, giving the pixel
// offset of the grid relative to the image corner.
func gridOrigin(grid *raster.Bitmap, spacing int) geometry.PointInt {
	if spacing < 1 {
		return geometry.PointInt{}
	}
	origin := geometry.PointInt{}
	best := -1.0
	for x := 0; x < spacing && x < grid.W; x++ {
		if c := float64(grid.ColCount(x)); c > best {
			best = c
			origin.X = x
		}
	}
	best = -1.0
	for y := 0; y < spacing && y < grid.H; y++ {
		if c := float64(grid.RowCount(y)); c > best {
			best = c
			origin.Y = y
		}
	}
	return origin
}

func agreeWithin(a, b int, frac float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	diff := float64(a - b)
	if diff < 0 {
		diff = -diff
	}
	return diff/float64(a) <= frac
}
