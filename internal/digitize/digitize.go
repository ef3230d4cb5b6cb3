// Package digitize orchestrates the full ECG digitization pipeline:
// calibration, layout segmentation, per-lead trace extraction and signal
// reconstruction.
package digitize

import (
	"context"
	"image"
	"runtime"
	"sync"

	"ecg-digitizer/internal/calibrate"
	"ecg-digitizer/internal/ecg"
	"ecg-digitizer/internal/extract"
	"ecg-digitizer/internal/imgio"
	"ecg-digitizer/internal/layout"
	"ecg-digitizer/internal/logger"
	"ecg-digitizer/internal/metadata"
	"ecg-digitizer/internal/preprocess"
	"ecg-digitizer/internal/raster"
	"ecg-digitizer/internal/reconstruct"
	"ecg-digitizer/pkg/geometry"
)

// Config is the immutable pipeline configuration, threaded through the entry
// point rather than held as ambient global state.
type Config struct {
	// PaperSpeedMMPerSec is the nominal paper speed, default 25.
	PaperSpeedMMPerSec float64 `json:"paper_speed_mm_s"`

	// GridMMPerMilliVolt is the nominal voltage scale, default 10.
	GridMMPerMilliVolt float64 `json:"grid_voltage_mm_per_mv"`

	// SampleRate is the output sample rate in Hz.
	SampleRate float64 `json:"sample_rate"`

	// ExpectedLayout optionally names the canonical layout to assume.
	ExpectedLayout string `json:"expected_layout,omitempty"`

	// Cabrera marks printouts in Cabrera presentation order.
	Cabrera bool `json:"cabrera,omitempty"`

	// AllowNominalFallback permits nominal-scale calibration with low
	// confidence when no grid is detected.
	AllowNominalFallback bool `json:"allow_nominal_fallback,omitempty"`

	// FallbackPixelsPerMM is the assumed scan density for the fallback.
	FallbackPixelsPerMM float64 `json:"fallback_px_per_mm,omitempty"`

	// MaxGapFillSec bounds interpolation across ink gaps.
	MaxGapFillSec float64 `json:"max_gap_fill_sec"`

	// UseDP selects global dynamic-programming trace resolution instead of
	// the greedy continuity heuristic.
	UseDP bool `json:"use_dp,omitempty"`

	// Smooth enables light output smoothing.
	Smooth bool `json:"smooth,omitempty"`

	// UseOpenCV selects the gocv preprocessing backend.
	UseOpenCV bool `json:"use_opencv,omitempty"`

	// BlurRadius overrides the classification pre-blur. Zero keeps the
	// default; negative disables blurring, for crisp digital-born images.
	BlurRadius float64 `json:"blur_radius,omitempty"`

	// PulseAtRight marks printouts with calibration pulses on the right edge.
	PulseAtRight bool `json:"pulse_at_right,omitempty"`

	// Workers bounds per-lead concurrency. Zero means GOMAXPROCS.
	Workers int `json:"workers,omitempty"`
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		PaperSpeedMMPerSec:  25,
		GridMMPerMilliVolt:  10,
		SampleRate:          500,
		FallbackPixelsPerMM: 8,
		MaxGapFillSec:       0.05,
	}
}

// LeadResult is the digitization outcome of one output channel.
type LeadResult struct {
	// Lead is the output channel label; rhythm strips report ecg.LeadRhythm.
	Lead   ecg.Lead            `json:"lead"`
	Signal *reconstruct.Signal `json:"signal"`
	Status reconstruct.Status  `json:"status"`
	Reason string              `json:"reason,omitempty"`
}

// Result is the structured output of one pipeline run.
type Result struct {
	Calibration *calibrate.Calibration `json:"calibration"`
	Layout      string                 `json:"layout"`
	LayoutScore float64                `json:"layout_score"`

	// Leads is ordered canonically: I, II, III, aVR, aVL, aVF, V1-V6, then
	// rhythm strips.
	Leads []LeadResult `json:"leads"`

	// Metadata holds advisory OCR fields, nil when extraction was skipped or
	// failed.
	Metadata *metadata.Fields `json:"metadata,omitempty"`

	// Regions and Traces expose the intermediate geometry for overlay
	// rendering; Traces is parallel to Regions with nil for failed leads.
	Regions []layout.Region  `json:"regions"`
	Traces  []*extract.Trace `json:"-"`
}

// Digitizer runs the digitization pipeline with a fixed configuration.
type Digitizer struct {
	cfg  Config
	meta metadata.Extractor
}

// New creates a Digitizer.
func New(cfg Config) *Digitizer {
	return &Digitizer{cfg: cfg}
}

// SetMetadataExtractor attaches an advisory OCR extractor. The pipeline runs
// identically without one; extraction failures never alter digitization.
func (d *Digitizer) SetMetadataExtractor(m metadata.Extractor) {
	d.meta = m
}

// Digitize converts one ECG printout image into calibrated per-lead signals.
//
// Calibration and layout failures are whole-image fatal; a single lead's
// extraction failure only marks that lead FAILED while its siblings complete.
func (d *Digitizer) Digitize(ctx context.Context, img image.Image) (*Result, error) {
	masks, err := d.buildMasks(img)
	if err != nil {
		return nil, err
	}

	cal, err := calibrate.Analyze(masks.Grid, d.calibrateOptions())
	if err != nil {
		return nil, err
	}

	seg, err := layout.Segment(masks.Trace, cal, layout.Options{
		Expected:       d.cfg.ExpectedLayout,
		Cabrera:        d.cfg.Cabrera,
		MinScore:       layout.DefaultOptions().MinScore,
		MinRowHeightMM: layout.DefaultOptions().MinRowHeightMM,
	})
	if err != nil {
		return nil, err
	}
	logger.DebugLog("layout %s selected (score %.2f)", seg.Layout.Name, seg.Score)

	pulses := calibrate.RefineWithPulse(cal, masks.Trace, rowBands(seg.Regions), d.cfg.PulseAtRight)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Calibration: cal,
		Layout:      seg.Layout.Name,
		LayoutScore: seg.Score,
		Regions:     seg.Regions,
		Leads:       make([]LeadResult, len(seg.Regions)),
		Traces:      make([]*extract.Trace, len(seg.Regions)),
	}

	d.runLeadWorkers(ctx, masks.Trace, cal, seg, pulses, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.extractMetadata(img, res)
	return res, nil
}

// runLeadWorkers fans trace extraction and reconstruction out across the lead
// regions. Workers share only read-only inputs and each writes only its own
// output slot, so the final WaitGroup join is the only synchronization.
func (d *Digitizer) runLeadWorkers(ctx context.Context, trace *raster.Bitmap, cal *calibrate.Calibration, seg *layout.Result, pulses []calibrate.Pulse, res *Result) {
	workers := d.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i := range seg.Regions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			region := seg.Regions[i]
			outLead := region.Lead
			if region.Rhythm {
				outLead = ecg.LeadRhythm
			}

			if ctx.Err() != nil {
				res.Leads[i] = LeadResult{
					Lead:   outLead,
					Signal: reconstruct.Failed(region.Lead, "canceled"),
					Status: reconstruct.StatusFailed,
					Reason: "canceled",
				}
				return
			}

			res.Leads[i] = d.digitizeLead(trace, cal, seg, pulses, region, outLead, &res.Traces[i])
		}(i)
	}
	wg.Wait()
}

// digitizeLead runs extraction and reconstruction for one region.
func (d *Digitizer) digitizeLead(trace *raster.Bitmap, cal *calibrate.Calibration, seg *layout.Result, pulses []calibrate.Pulse, region layout.Region, outLead ecg.Lead, traceSlot **extract.Trace) LeadResult {
	extOpts := extract.DefaultOptions()
	extOpts.UseDP = d.cfg.UseDP
	// Within one column step the pen cannot plausibly jump more than the
	// height of 1.5 large grid squares.
	extOpts.MaxJumpRows = int(7.5 * cal.SmallGridPx)
	for _, p := range pulses {
		extOpts.Exclude = append(extOpts.Exclude, p.Span)
	}

	tr, err := extract.Extract(trace, region.Bounds, extOpts)
	if err != nil {
		return LeadResult{
			Lead:   outLead,
			Signal: reconstruct.Failed(region.Lead, err.Error()),
			Status: reconstruct.StatusFailed,
			Reason: err.Error(),
		}
	}
	*traceSlot = tr

	recOpts := reconstruct.Options{
		SampleRate:    d.cfg.SampleRate,
		MaxGapFillSec: d.cfg.MaxGapFillSec,
		Smooth:        d.cfg.Smooth,
		SmoothWindow:  reconstruct.DefaultOptions().SmoothWindow,
	}
	timeOffset := 0.0
	if !region.Rhythm {
		timeOffset = float64(region.Col) * seg.Layout.PanelDurationSec()
	}
	// The calibration pulse precedes the waveform on the strip; its columns
	// are drawing convention, not signal, so the signal span starts after it.
	timeOffset += float64(trimPulse(tr, pulses, d.cfg.PulseAtRight)) * cal.SecondsPerPixel

	sig, err := reconstruct.Reconstruct(tr, cal, region.Lead, timeOffset, recOpts)
	if err != nil {
		return LeadResult{
			Lead:   outLead,
			Signal: reconstruct.Failed(region.Lead, err.Error()),
			Status: reconstruct.StatusFailed,
			Reason: err.Error(),
		}
	}

	// Cabrera printouts render -aVR; undo the inversion on output.
	if d.cfg.Cabrera && region.Lead == ecg.LeadAVR {
		for i, v := range sig.Samples {
			sig.Samples[i] = -v
		}
	}

	return LeadResult{Lead: outLead, Signal: sig, Status: sig.Status, Reason: sig.Reason}
}

// trimPulse cuts calibration-pulse columns off the trace's edge, together
// with the unresolved margin the exclusion leaves behind, and returns the
// number of leading columns removed. Leads whose columns never meet a pulse
// span are untouched.
func trimPulse(tr *extract.Trace, pulses []calibrate.Pulse, atRight bool) int {
	inPulse := func(col int) bool {
		for _, p := range pulses {
			if p.Span.Contains(col) {
				return true
			}
		}
		return false
	}

	if atRight {
		first := -1
		for i := tr.Cols() - 1; i >= 0; i-- {
			if inPulse(tr.Left + i) {
				first = i
			}
		}
		if first < 0 {
			return 0
		}
		end := first - 1
		for end >= 0 && tr.Missing(end) {
			end--
		}
		tr.Rows = tr.Rows[:end+1]
		return 0
	}

	last := -1
	for i := 0; i < tr.Cols(); i++ {
		if inPulse(tr.Left + i) {
			last = i
		}
	}
	if last < 0 {
		return 0
	}
	cut := last + 1
	for cut < tr.Cols() && tr.Missing(cut) {
		cut++
	}
	tr.Rows = tr.Rows[cut:]
	tr.Left += cut
	return cut
}

func (d *Digitizer) buildMasks(img image.Image) (*preprocess.Masks, error) {
	opts := preprocess.DefaultOptions()
	if d.cfg.BlurRadius > 0 {
		opts.BlurRadius = d.cfg.BlurRadius
	} else if d.cfg.BlurRadius < 0 {
		opts.BlurRadius = 0
	}
	if d.cfg.UseOpenCV {
		return preprocess.BuildMasksOpenCV(img, opts)
	}
	return preprocess.BuildMasks(img, opts), nil
}

func (d *Digitizer) calibrateOptions() calibrate.Options {
	opts := calibrate.DefaultOptions()
	opts.PaperSpeedMMPerSec = d.cfg.PaperSpeedMMPerSec
	opts.GridMMPerMilliVolt = d.cfg.GridMMPerMilliVolt
	opts.AllowNominalFallback = d.cfg.AllowNominalFallback
	if d.cfg.FallbackPixelsPerMM > 0 {
		opts.FallbackPixelsPerMM = d.cfg.FallbackPixelsPerMM
	}
	return opts
}

// rowBands returns one full-width rectangle per printed row, for calibration
// pulse search.
func rowBands(regions []layout.Region) []geometry.RectInt {
	byRow := make(map[int]geometry.RectInt)
	maxRow := -1
	for _, r := range regions {
		band, ok := byRow[r.Row]
		if !ok {
			band = geometry.RectInt{X: 0, Y: r.Bounds.Y, Width: 0, Height: r.Bounds.Height}
		}
		if r.Bounds.Right() > band.Width {
			band.Width = r.Bounds.Right()
		}
		byRow[r.Row] = band
		if r.Row > maxRow {
			maxRow = r.Row
		}
	}
	bands := make([]geometry.RectInt, 0, maxRow+1)
	for row := 0; row <= maxRow; row++ {
		if band, ok := byRow[row]; ok {
			bands = append(bands, band)
		}
	}
	return bands
}

func (d *Digitizer) extractMetadata(img image.Image, res *Result) {
	if d.meta == nil {
		return
	}
	fields, err := d.meta.Extract(headerImage(img, res.Regions))
	if err != nil {
		// Advisory only; digitization output is unaffected.
		logger.WarnLog("metadata extraction failed: %v", err)
		return
	}
	res.Metadata = &fields
}

// headerImage returns the grayscaled header strip above the first lead band,
// where the printed patient and recording labels live. When the bands start
// at the paper edge the whole image is passed through instead.
func headerImage(img image.Image, regions []layout.Region) image.Image {
	b := img.Bounds()
	top := b.Dy()
	for _, r := range regions {
		if r.Bounds.Y < top {
			top = r.Bounds.Y
		}
	}
	if len(regions) == 0 || top < 8 {
		return imgio.Grayscale(img)
	}
	return imgio.Grayscale(imgio.Crop(img, geometry.NewRectInt(0, 0, b.Dx(), top)))
}
