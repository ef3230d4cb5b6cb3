package layout

import (
	"errors"
	"reflect"
	"testing"

	"ecg-digitizer/internal/calibrate"
	"ecg-digitizer/internal/ecg"
	"ecg-digitizer/internal/raster"
)

func testCalibration(pxPerMM float64) *calibrate.Calibration {
	return &calibrate.Calibration{
		SecondsPerPixel:    1.0 / (25 * pxPerMM),
		MilliVoltsPerPixel: 1.0 / (10 * pxPerMM),
		SmallGridPx:        pxPerMM,
		Confidence:         calibrate.ConfidenceHigh,
	}
}

// fourRowTrace builds a raster shaped like a 3x4+rhythm printout: four
// horizontal signal bands across the full width.
func fourRowTrace() *raster.Bitmap {
	bm := raster.New(2000, 1280)
	for _, y := range []int{160, 480, 800, 1120} {
		bm.FillRow(y, true)
	}
	return bm
}

func TestSegmentDetects3x4Rhythm(t *testing.T) {
	res, err := Segment(fourRowTrace(), testCalibration(8), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Layout.Name != "3x4+rhythm" {
		t.Fatalf("layout = %s, want 3x4+rhythm", res.Layout.Name)
	}
	if len(res.Regions) != 13 {
		t.Fatalf("got %d regions, want 13", len(res.Regions))
	}

	// The first 12 regions are the standard leads in canonical order.
	for i, lead := range ecg.StandardOrder {
		if res.Regions[i].Lead != lead {
			t.Errorf("region %d = %v, want %v", i, res.Regions[i].Lead, lead)
		}
		if res.Regions[i].Rhythm {
			t.Errorf("region %d should not be a rhythm strip", i)
		}
	}

	rhythm := res.Regions[12]
	if !rhythm.Rhythm || rhythm.Lead != ecg.LeadII {
		t.Errorf("rhythm region = %+v", rhythm)
	}
	if rhythm.Bounds.X != 0 || rhythm.Bounds.Width != 2000 {
		t.Errorf("rhythm strip should span the full width, got %+v", rhythm.Bounds)
	}
}

func TestSegmentRegionsDisjointAndCovering(t *testing.T) {
	res, err := Segment(fourRowTrace(), testCalibration(8), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	std := res.Regions[:12]
	for i := 0; i < len(std); i++ {
		if std[i].Bounds.Empty() {
			t.Errorf("region %v is empty", std[i].Lead)
		}
		for j := i + 1; j < len(std); j++ {
			if std[i].Bounds.Intersects(std[j].Bounds) {
				t.Errorf("regions %v and %v overlap", std[i].Lead, std[j].Lead)
			}
		}
	}
}

func TestSegmentDeterministic(t *testing.T) {
	a, err := Segment(fourRowTrace(), testCalibration(8), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Segment(fourRowTrace(), testCalibration(8), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if a.Layout.Name != b.Layout.Name || a.Score != b.Score {
		t.Errorf("layout selection not deterministic: %s/%v vs %s/%v",
			a.Layout.Name, a.Score, b.Layout.Name, b.Score)
	}
	if !reflect.DeepEqual(a.Regions, b.Regions) {
		t.Error("regions differ between identical runs")
	}
}

func TestSegmentExpectedLayoutForced(t *testing.T) {
	opts := DefaultOptions()
	opts.Expected = "6x2"
	res, err := Segment(fourRowTrace(), testCalibration(8), opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Layout.Name != "6x2" {
		t.Errorf("layout = %s, want forced 6x2", res.Layout.Name)
	}
	if len(res.Regions) != 12 {
		t.Errorf("got %d regions, want 12", len(res.Regions))
	}
}

func TestSegmentUnknownExpectedLayout(t *testing.T) {
	opts := DefaultOptions()
	opts.Expected = "4x4"
	if _, err := Segment(fourRowTrace(), testCalibration(8), opts); err == nil {
		t.Error("unknown expected layout should fail")
	}
}

func TestSegmentFailsOnUnrecognizableImage(t *testing.T) {
	// A blank square raster matches no canonical layout well enough.
	bm := raster.New(300, 300)
	_, err := Segment(bm, testCalibration(8), DefaultOptions())
	if err == nil {
		t.Fatal("expected layout detection failure")
	}
	var detErr *DetectionError
	if !errors.As(err, &detErr) {
		t.Fatalf("error type = %T, want *DetectionError", err)
	}
}

func TestSegmentCabreraLabels(t *testing.T) {
	opts := DefaultOptions()
	opts.Cabrera = true
	res, err := Segment(fourRowTrace(), testCalibration(8), opts)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cabrera {
		t.Error("result should record Cabrera order")
	}
	// In Cabrera order aVL occupies the top-left panel.
	for _, r := range res.Regions {
		if r.Lead == ecg.LeadAVL && (r.Row != 0 || r.Col != 0) {
			t.Errorf("aVL at (%d,%d), want (0,0)", r.Row, r.Col)
		}
	}
}

func TestDetectBands(t *testing.T) {
	bm := raster.New(500, 400)
	for _, y := range []int{50, 150, 250, 350} {
		bm.FillRow(y, true)
	}
	bands := DetectBands(bm, 25)
	if len(bands) != 4 {
		t.Fatalf("got %d bands, want 4: %v", len(bands), bands)
	}
	for i, y := range []int{50, 150, 250, 350} {
		if d := bands[i] - y; d < -bandWindow || d > bandWindow {
			t.Errorf("band %d at %d, want near %d", i, bands[i], y)
		}
	}
}
