package preprocess

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"ecg-digitizer/pkg/colorutil"
)

func classifyColor(t *testing.T, c color.Color, opts Options) InkClass {
	t.Helper()
	l, a, b := colorutil.Lab(c)
	return ClassifyPixel(l, a, b, opts)
}

func TestClassifyPixel(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		name string
		c    color.Color
		want InkClass
	}{
		{"paper white", color.RGBA{255, 255, 255, 255}, Background},
		{"trace black", color.RGBA{0, 0, 0, 255}, TraceInk},
		{"trace dark gray", color.RGBA{60, 60, 60, 255}, TraceInk},
		{"grid red", color.RGBA{255, 0, 0, 255}, GridInk},
		{"grid pink", color.RGBA{255, 179, 179, 255}, GridInk},
		{"light gray paper shade", color.RGBA{230, 230, 230, 255}, Background},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyColor(t, tt.c, opts); got != tt.want {
				t.Errorf("got class %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBuildMasksSeparatesInks(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 60, 40))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{255, 255, 255, 255}), image.Point{}, draw.Src)

	// A red gridline column and a black trace row crossing it.
	for y := 0; y < 40; y++ {
		img.SetRGBA(30, y, color.RGBA{255, 0, 0, 255})
	}
	for x := 10; x < 50; x++ {
		img.SetRGBA(x, 20, color.RGBA{0, 0, 0, 255})
	}

	// No blur: classification should be exact per pixel.
	opts := DefaultOptions()
	opts.BlurRadius = 0
	m := BuildMasks(img, opts)

	if !m.Trace.Ink(20, 20) {
		t.Error("trace pixel missing from trace mask")
	}
	if m.Grid.Ink(20, 20) {
		t.Error("trace pixel leaked into grid mask")
	}
	if !m.Grid.Ink(30, 10) {
		t.Error("grid pixel missing from grid mask")
	}
	if m.Trace.Ink(30, 10) {
		t.Error("grid pixel leaked into trace mask")
	}
	// The crossing pixel was drawn black last and belongs to the trace.
	if !m.Trace.Ink(30, 20) {
		t.Error("crossing pixel should classify as trace")
	}
	if m.Trace.Ink(5, 5) || m.Grid.Ink(5, 5) {
		t.Error("paper pixel should be in neither mask")
	}
}

func TestBuildMasksBlurKeepsThickTrace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{255, 255, 255, 255}), image.Point{}, draw.Src)
	for y := 18; y < 23; y++ {
		for x := 5; x < 35; x++ {
			img.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
		}
	}

	m := BuildMasks(img, DefaultOptions())
	if !m.Trace.Ink(20, 20) {
		t.Error("core of a thick stroke should survive the pre-blur")
	}
}
