// Package reconstruct converts resolved pixel traces into calibrated,
// uniformly sampled amplitude-vs-time signals.
package reconstruct

import (
	"encoding/json"
	"fmt"
	"math"

	"ecg-digitizer/internal/calibrate"
	"ecg-digitizer/internal/ecg"
	"ecg-digitizer/internal/extract"

	"gonum.org/v1/gonum/interp"
)

// Status tags the outcome of one lead's digitization.
type Status int

const (
	StatusOK Status = iota
	StatusPartial
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusPartial:
		return "PARTIAL"
	case StatusFailed:
		return "FAILED"
	default:
		return "unknown"
	}
}

// Discontinuity marks a time span whose samples could not be recovered and
// were deliberately left unfilled.
type Discontinuity struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// Signal is the calibrated digital signal of one lead. Immutable once
// produced; samples inside flagged discontinuities are NaN, never invented.
type Signal struct {
	Lead       ecg.Lead `json:"lead"`
	SampleRate float64  `json:"sample_rate"`

	// TimeOffsetSec positions the first sample on the strip's 10-second
	// timeline; panel leads cover only their column's slice of it.
	TimeOffsetSec float64 `json:"time_offset_sec"`

	// Samples are amplitudes in millivolts at the uniform sample period.
	Samples []float64 `json:"samples"`

	Status          Status          `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	Discontinuities []Discontinuity `json:"discontinuities,omitempty"`
}

// MarshalJSON encodes unfilled samples as null. encoding/json rejects NaN, and
// discontinuity holes are NaN by construction.
func (s *Signal) MarshalJSON() ([]byte, error) {
	type plain Signal
	samples := make([]*float64, len(s.Samples))
	for i := range s.Samples {
		if !math.IsNaN(s.Samples[i]) {
			samples[i] = &s.Samples[i]
		}
	}
	return json.Marshal(struct {
		*plain
		Samples []*float64 `json:"samples"`
	}{(*plain)(s), samples})
}

// Duration returns the covered time span in seconds.
func (s *Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / s.SampleRate
}

// Time returns the absolute strip time of sample i.
func (s *Signal) Time(i int) float64 {
	return s.TimeOffsetSec + float64(i)/s.SampleRate
}

// Failed returns the placeholder signal for a lead whose extraction failed.
func Failed(lead ecg.Lead, reason string) *Signal {
	return &Signal{Lead: lead, Status: StatusFailed, Reason: reason}
}

// Options configures signal reconstruction.
type Options struct {
	// SampleRate is the output rate in Hz.
	SampleRate float64

	// MaxGapFillSec bounds linear interpolation across missing columns. Gaps
	// wider than this are flagged discontinuities instead of being filled.
	MaxGapFillSec float64

	// Smooth enables the bounded moving-average filter. Off by default to
	// preserve steep-slope morphology exactly as traced.
	Smooth bool

	// SmoothWindow is the odd moving-average width, default 3. Kept small so
	// QRS slopes survive.
	SmoothWindow int
}

// DefaultOptions returns the standard reconstruction options.
func DefaultOptions() Options {
	return Options{
		SampleRate:    500,
		MaxGapFillSec: 0.05,
		SmoothWindow:  3,
	}
}

// Reconstruct maps one resolved trace to a calibrated signal. timeOffset is
// the strip time of the trace's first column.
func Reconstruct(tr *extract.Trace, cal *calibrate.Calibration, lead ecg.Lead, timeOffset float64, opts Options) (*Signal, error) {
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive")
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}

	var xs, ys []float64
	for i, row := range tr.Rows {
		if !math.IsNaN(row) {
			xs = append(xs, float64(i))
			ys = append(ys, row)
		}
	}
	if len(xs) < 2 {
		return nil, fmt.Errorf("lead %s: too few resolved columns to reconstruct", lead)
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("lead %s: %w", lead, err)
	}

	baseline := modalRow(ys)
	maxGapCols := int(opts.MaxGapFillSec / cal.SecondsPerPixel)
	if maxGapCols < 1 {
		maxGapCols = 1
	}

	// Column spans that must stay unfilled: wide interior gaps plus any
	// unresolved leading/trailing columns (no bounding point to interpolate
	// from there).
	holes := unfillableSpans(tr, xs, maxGapCols)

	duration := float64(tr.Cols()) * cal.SecondsPerPixel
	n := int(duration * opts.SampleRate)
	if n < 1 {
		n = 1
	}

	sig := &Signal{
		Lead:          lead,
		SampleRate:    opts.SampleRate,
		TimeOffsetSec: timeOffset,
		Samples:       make([]float64, n),
		Status:        StatusOK,
	}

	for i := 0; i < n; i++ {
		col := float64(i) / opts.SampleRate / cal.SecondsPerPixel
		if inHole(col, holes) {
			sig.Samples[i] = math.NaN()
			continue
		}
		row := pl.Predict(clampF(col, xs[0], xs[len(xs)-1]))
		sig.Samples[i] = (baseline - row) * cal.MilliVoltsPerPixel
	}

	for _, h := range holes {
		lo := math.Max(h.lo, 0)
		hi := math.Min(h.hi, float64(tr.Cols()))
		sig.Discontinuities = append(sig.Discontinuities, Discontinuity{
			StartSec: timeOffset + lo*cal.SecondsPerPixel,
			EndSec:   timeOffset + hi*cal.SecondsPerPixel,
		})
	}
	if len(holes) > 0 {
		sig.Status = StatusPartial
		sig.Reason = fmt.Sprintf("%d unfilled gap(s)", len(holes))
	}

	if opts.Smooth {
		smooth(sig.Samples, opts.SmoothWindow)
	}
	return sig, nil
}

type span struct{ lo, hi float64 }

// unfillableSpans returns the column ranges left as NaN: interior missing
// gaps wider than maxGapCols, and the unresolved edges of the trace.
func unfillableSpans(tr *extract.Trace, xs []float64, maxGapCols int) []span {
	var holes []span
	first, last := xs[0], xs[len(xs)-1]
	if first > 0 {
		// lo sits one column outside so the very first sample column tests
		// strictly inside the hole.
		holes = append(holes, span{lo: -1, hi: first})
	}
	for i := 1; i < len(xs); i++ {
		if gap := int(xs[i] - xs[i-1] - 1); gap > maxGapCols {
			holes = append(holes, span{lo: xs[i-1] + 0.5, hi: xs[i] - 0.5})
		}
	}
	if last < float64(tr.Cols()-1) {
		holes = append(holes, span{lo: last, hi: float64(tr.Cols())})
	}
	return holes
}

func inHole(col float64, holes []span) bool {
	for _, h := range holes {
		if col > h.lo && col < h.hi {
			return true
		}
	}
	return false
}

// modalRow returns the most frequent rounded row value. The isoelectric
// baseline dominates a 10-second strip, so the mode is a robust zero level.
func modalRow(rows []float64) float64 {
	counts := make(map[int]int)
	for _, r := range rows {
		counts[int(math.Round(r))]++
	}
	bestRow, bestCount := 0, -1
	for row, c := range counts {
		if c > bestCount || (c == bestCount && row < bestRow) {
			bestRow, bestCount = row, c
		}
	}
	return float64(bestRow)
}

// smooth applies an in-place centered moving average. Windows touching a NaN
// sample are left untouched so discontinuities stay sharp and unfabricated.
func smooth(samples []float64, window int) {
	if window < 3 {
		return
	}
	if window%2 == 0 {
		window++
	}
	half := window / 2
	src := make([]float64, len(samples))
	copy(src, samples)
	for i := half; i < len(samples)-half; i++ {
		sum := 0.0
		ok := true
		for j := i - half; j <= i+half; j++ {
			if math.IsNaN(src[j]) {
				ok = false
				break
			}
			sum += src[j]
		}
		if ok {
			samples[i] = sum / float64(window)
		}
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
