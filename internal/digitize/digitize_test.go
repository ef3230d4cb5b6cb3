package digitize

import (
	"context"
	"image"
	"math"
	"testing"

	"ecg-digitizer/internal/calibrate"
	"ecg-digitizer/internal/ecg"
	"ecg-digitizer/internal/extract"
	"ecg-digitizer/internal/layout"
	"ecg-digitizer/internal/metadata"
	"ecg-digitizer/internal/reconstruct"
	"ecg-digitizer/internal/synth"
	"ecg-digitizer/pkg/geometry"
)

// ampTolerance is the recovery bound in mV: two pixel rows at 80 px/mV. The
// rendered pen stroke spans the vertical distance between adjacent sample
// columns, so a resolved run center can sit half a column's slope plus
// rounding away from the true row.
const ampTolerance = 2.0 / 80

// groundTruth builds per-lead 10 s signals: a smooth positive bump centered
// inside each lead's own panel window, zero elsewhere. Amplitudes differ per
// lead so cross-lead mixups would show up as amplitude errors.
func groundTruth(p synth.Params) map[ecg.Lead][]float64 {
	n := int(ecg.NominalDurationSec * p.SampleRate)
	l := p.Layout
	sigs := make(map[ecg.Lead][]float64)

	for c := 0; c < l.Cols; c++ {
		for r := 0; r < l.Rows; r++ {
			lead := l.LeadAt(r, c, false)
			sig := make([]float64, n)
			amp := 0.4 + 0.05*float64(ecg.CanonicalIndex(lead))
			center := (float64(c) + 0.5) * l.PanelDurationSec()
			const sigma = 0.3
			for i := range sig {
				t := float64(i) / p.SampleRate
				d := (t - center) / sigma
				sig[i] = amp * math.Exp(-d*d)
			}
			sigs[lead] = sig
		}
	}
	return sigs
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BlurRadius = -1 // synthetic images are crisp
	return cfg
}

// maxAbsError compares recovered samples against the matching slice of the
// ground truth, skipping NaN samples.
func maxAbsError(got, want []float64) float64 {
	n := len(got)
	if len(want) < n {
		n = len(want)
	}
	worst := 0.0
	for i := 0; i < n; i++ {
		if math.IsNaN(got[i]) {
			continue
		}
		if d := math.Abs(got[i] - want[i]); d > worst {
			worst = d
		}
	}
	return worst
}

func TestDigitizeRecoversGroundTruth(t *testing.T) {
	p := synth.DefaultParams()
	truth := groundTruth(p)
	img := synth.Render(truth, p)

	res, err := New(testConfig()).Digitize(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}

	if res.Layout != "3x4+rhythm" {
		t.Fatalf("layout = %s, want 3x4+rhythm", res.Layout)
	}
	if got := res.Calibration.SmallGridPx; math.Abs(got-8) > 0.5 {
		t.Fatalf("SmallGridPx = %v, want 8", got)
	}
	if len(res.Leads) != 13 {
		t.Fatalf("got %d lead results, want 13", len(res.Leads))
	}

	n := len(truth[ecg.LeadI])
	for _, lr := range res.Leads {
		if lr.Status != reconstruct.StatusOK {
			t.Errorf("lead %s status = %v (%s), want OK", lr.Lead, lr.Status, lr.Reason)
			continue
		}

		var want []float64
		if lr.Lead == ecg.LeadRhythm {
			want = truth[ecg.LeadII]
			if lr.Signal.TimeOffsetSec != 0 {
				t.Errorf("rhythm TimeOffsetSec = %v, want 0", lr.Signal.TimeOffsetSec)
			}
		} else {
			// Panel leads cover their column's slice of the strip.
			off := int(lr.Signal.TimeOffsetSec * p.SampleRate)
			want = truth[lr.Lead][off:]
		}

		if err := maxAbsError(lr.Signal.Samples, want); err > ampTolerance {
			t.Errorf("lead %s max error %.3f mV, want <= %.3f", lr.Lead, err, ampTolerance)
		}
		if len(lr.Signal.Samples) < n/5 {
			t.Errorf("lead %s has only %d samples", lr.Lead, len(lr.Signal.Samples))
		}
	}
}

func TestDigitizeDeterministic(t *testing.T) {
	p := synth.DefaultParams()
	truth := groundTruth(p)
	img := synth.Render(truth, p)
	d := New(testConfig())

	a, err := d.Digitize(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.Digitize(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}

	if a.Layout != b.Layout || *a.Calibration != *b.Calibration {
		t.Fatal("pipeline header differs between identical runs")
	}
	for i := range a.Leads {
		sa, sb := a.Leads[i].Signal, b.Leads[i].Signal
		if a.Leads[i].Status != b.Leads[i].Status || len(sa.Samples) != len(sb.Samples) {
			t.Fatalf("lead %s differs between runs", a.Leads[i].Lead)
		}
		for j := range sa.Samples {
			va, vb := sa.Samples[j], sb.Samples[j]
			if va != vb && !(math.IsNaN(va) && math.IsNaN(vb)) {
				t.Fatalf("lead %s sample %d: %v vs %v", a.Leads[i].Lead, j, va, vb)
			}
		}
	}
}

func TestDigitizeObscuredLeadFailsAlone(t *testing.T) {
	p := synth.DefaultParams()
	truth := groundTruth(p)
	img := synth.Render(truth, p)

	// Paper over the V3 panel (row 2, column 2 of the 3x4 grid).
	w, h := p.Size()
	rowH := h / p.Layout.TotalRows()
	synth.ObscureRegion(img, 2*w/4, 2*rowH+5, w/4, rowH-10)

	res, err := New(testConfig()).Digitize(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}

	okCount, failed := 0, 0
	for _, lr := range res.Leads {
		switch {
		case lr.Lead == ecg.LeadV3:
			if lr.Status != reconstruct.StatusFailed {
				t.Errorf("V3 status = %v, want FAILED", lr.Status)
			}
			if lr.Reason == "" {
				t.Error("failed lead should carry a reason")
			}
			failed++
		default:
			if lr.Status == reconstruct.StatusOK {
				okCount++
			}
		}
	}
	if failed != 1 {
		t.Errorf("V3 result missing")
	}
	if okCount != 12 {
		t.Errorf("%d sibling leads OK, want 12", okCount)
	}
}

func TestDigitizePulseColumnsExcluded(t *testing.T) {
	p := synth.DefaultParams()
	p.WithPulse = true
	truth := groundTruth(p)
	img := synth.Render(truth, p)

	res, err := New(testConfig()).Digitize(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}

	for _, lr := range res.Leads {
		if lr.Status != reconstruct.StatusOK {
			t.Errorf("lead %s status = %v (%s), want OK: the pulse is a print "+
				"convention, not an ink gap", lr.Lead, lr.Status, lr.Reason)
			continue
		}
		switch lr.Lead {
		case ecg.LeadI, ecg.LeadII, ecg.LeadIII, ecg.LeadRhythm:
			// First-column leads start after the trimmed pulse columns.
			off := lr.Signal.TimeOffsetSec
			if off < 0.1 || off > 0.5 {
				t.Errorf("lead %s TimeOffsetSec = %v, want the pulse width past the strip start", lr.Lead, off)
			}
			truthLead := lr.Lead
			if lr.Lead == ecg.LeadRhythm {
				truthLead = ecg.LeadII
			}
			start := int(off * p.SampleRate)
			if err := maxAbsError(lr.Signal.Samples, truth[truthLead][start:]); err > ampTolerance {
				t.Errorf("lead %s max error %.3f mV after pulse trim", lr.Lead, err)
			}
		case ecg.LeadAVR:
			// Second-column leads never see the pulse columns.
			if lr.Signal.TimeOffsetSec != 2.5 {
				t.Errorf("aVR TimeOffsetSec = %v, want 2.5", lr.Signal.TimeOffsetSec)
			}
		}
	}

	// The 1 mV pulses corroborate the grid-derived voltage scale.
	if got := res.Calibration.MilliVoltsPerPixel; math.Abs(got-1.0/80) > 1e-9 {
		t.Errorf("MilliVoltsPerPixel = %v, want 1/80", got)
	}
}

func TestDigitizeCabrera(t *testing.T) {
	p := synth.DefaultParams()
	p.Cabrera = true

	// Ground truth keyed by lead; the Cabrera renderer prints aVR inverted
	// and the pipeline must undo that on output.
	n := int(ecg.NominalDurationSec * p.SampleRate)
	truth := make(map[ecg.Lead][]float64)
	for _, lead := range ecg.StandardOrder {
		truth[lead] = make([]float64, n)
	}
	// aVR sits at row 2, column 0 in Cabrera order: bump inside the first
	// 2.5 s panel window.
	for i := range truth[ecg.LeadAVR] {
		t0 := float64(i)/p.SampleRate - 1.25
		truth[ecg.LeadAVR][i] = 0.6 * math.Exp(-t0*t0/(0.3*0.3))
	}
	img := synth.Render(truth, p)

	cfg := testConfig()
	cfg.Cabrera = true
	res, err := New(cfg).Digitize(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}

	for _, lr := range res.Leads {
		if lr.Lead != ecg.LeadAVR {
			continue
		}
		if lr.Status != reconstruct.StatusOK {
			t.Fatalf("aVR status = %v (%s)", lr.Status, lr.Reason)
		}
		if lr.Signal.TimeOffsetSec != 0 {
			t.Errorf("Cabrera aVR should sit in the first column, offset %v", lr.Signal.TimeOffsetSec)
		}
		peak := 0.0
		for _, v := range lr.Signal.Samples {
			if v > peak {
				peak = v
			}
		}
		// The printed trace dips below the baseline; the output must be the
		// un-inverted positive bump.
		if math.Abs(peak-0.6) > 0.1 {
			t.Errorf("aVR peak = %v mV, want ~+0.6", peak)
		}
	}
}

func TestDigitizeCanceledContext(t *testing.T) {
	p := synth.DefaultParams()
	img := synth.Render(groundTruth(p), p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(testConfig()).Digitize(ctx, img); err == nil {
		t.Error("canceled context should abort the pipeline")
	}
}

func TestDigitizeExpectedLayoutForced(t *testing.T) {
	p := synth.DefaultParams()
	img := synth.Render(groundTruth(p), p)

	cfg := testConfig()
	cfg.ExpectedLayout = "3x4+rhythm"
	res, err := New(cfg).Digitize(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if res.Layout != "3x4+rhythm" {
		t.Errorf("layout = %s", res.Layout)
	}
}

func TestDigitizeNoGridFallback(t *testing.T) {
	p := synth.DefaultParams()
	p.WithGrid = false
	truth := groundTruth(p)
	img := synth.Render(truth, p)

	// Without a grid and without the fallback the image is fatal.
	if _, err := New(testConfig()).Digitize(context.Background(), img); err == nil {
		t.Fatal("gridless image should fail closed by default")
	}

	cfg := testConfig()
	cfg.AllowNominalFallback = true
	cfg.FallbackPixelsPerMM = float64(p.PxPerMM)
	res, err := New(cfg).Digitize(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if res.Calibration.Confidence != 0 { // low
		t.Errorf("fallback confidence = %v, want low", res.Calibration.Confidence)
	}

	for _, lr := range res.Leads {
		if lr.Lead != ecg.LeadV5 {
			continue
		}
		off := int(lr.Signal.TimeOffsetSec * p.SampleRate)
		if err := maxAbsError(lr.Signal.Samples, truth[ecg.LeadV5][off:]); err > ampTolerance {
			t.Errorf("V5 max error %.3f mV under nominal fallback", err)
		}
	}
}

func TestTrimPulse(t *testing.T) {
	mkTrace := func(left, cols int, missing ...int) *extract.Trace {
		rows := make([]float64, cols)
		for i := range rows {
			rows[i] = 100
		}
		for _, m := range missing {
			rows[m] = math.NaN()
		}
		return &extract.Trace{Left: left, Rows: rows}
	}

	t.Run("left pulse shifts the signal start", func(t *testing.T) {
		// Pulse over columns 6-50, exclusion leaves 6-52 unresolved.
		tr := mkTrace(0, 200)
		for i := 6; i <= 52; i++ {
			tr.Rows[i] = math.NaN()
		}
		pulses := []calibrate.Pulse{{Span: geometry.Span{Start: 6, End: 50}, HeightPx: 80}}

		cut := trimPulse(tr, pulses, false)
		if cut != 53 {
			t.Fatalf("cut = %d, want 53", cut)
		}
		if tr.Left != 53 || tr.Cols() != 147 {
			t.Errorf("trace after trim: Left=%d Cols=%d", tr.Left, tr.Cols())
		}
		if tr.Missing(0) {
			t.Error("first remaining column should be resolved")
		}
	})

	t.Run("right pulse shortens the tail", func(t *testing.T) {
		tr := mkTrace(0, 200, 148, 149)
		pulses := []calibrate.Pulse{{Span: geometry.Span{Start: 150, End: 194}, HeightPx: 80}}

		if cut := trimPulse(tr, pulses, true); cut != 0 {
			t.Fatalf("right-side trim must not shift the start, got %d", cut)
		}
		if tr.Cols() != 148 {
			t.Errorf("Cols = %d, want 148", tr.Cols())
		}
	})

	t.Run("leads outside the pulse span are untouched", func(t *testing.T) {
		tr := mkTrace(400, 200)
		pulses := []calibrate.Pulse{{Span: geometry.Span{Start: 6, End: 50}, HeightPx: 80}}

		if cut := trimPulse(tr, pulses, false); cut != 0 {
			t.Fatalf("cut = %d, want 0", cut)
		}
		if tr.Cols() != 200 {
			t.Errorf("Cols = %d, want 200", tr.Cols())
		}
	})
}

func TestHeaderImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 120, 100))
	regions := []layout.Region{
		{Bounds: geometry.NewRectInt(0, 30, 120, 30)},
		{Bounds: geometry.NewRectInt(0, 60, 120, 30)},
	}

	sub := headerImage(img, regions)
	if b := sub.Bounds(); b.Dx() != 120 || b.Dy() != 30 {
		t.Errorf("header bounds = %v, want 120x30", b)
	}

	// Bands flush with the paper edge leave no header to crop.
	flush := []layout.Region{{Bounds: geometry.NewRectInt(0, 0, 120, 50)}}
	if b := headerImage(img, flush).Bounds(); b.Dy() != 100 {
		t.Errorf("flush-band header bounds = %v, want the full image", b)
	}
}

type captureExtractor struct {
	bounds image.Rectangle
}

func (c *captureExtractor) Extract(img image.Image) (metadata.Fields, error) {
	c.bounds = img.Bounds()
	return metadata.Fields{PatientID: "A1234"}, nil
}

func (c *captureExtractor) Close() error { return nil }

func TestDigitizeMetadataAdvisory(t *testing.T) {
	p := synth.DefaultParams()
	img := synth.Render(groundTruth(p), p)

	d := New(testConfig())
	ce := &captureExtractor{}
	d.SetMetadataExtractor(ce)

	res, err := d.Digitize(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata == nil || res.Metadata.PatientID != "A1234" {
		t.Errorf("metadata = %+v, want the extractor's fields", res.Metadata)
	}
	if ce.bounds.Empty() {
		t.Error("extractor never received an image")
	}
}
