//go:build cgo

package preprocess

import (
	"fmt"
	"image"

	"ecg-digitizer/internal/raster"
	"ecg-digitizer/pkg/colorutil"

	"gocv.io/x/gocv"
)

// Grid mask floors come from the extremes of printed grid ink: the palest
// pink minor line fixes the saturation floor, the darkest red the value floor.
var (
	_, gridSatMin, _ = colorutil.RGBToHSV(255, 230, 230)
	_, _, gridValMin = colorutil.RGBToHSV(60, 0, 0)
)

// BuildMasksOpenCV classifies ink using the OpenCV backend: HSV in-range
// masking for the red/pink grid and Otsu-thresholded darkness for the trace,
// followed by morphological cleanup. Produces the same Masks shape as the
// pure-Go path.
func BuildMasksOpenCV(img image.Image, opts Options) (*Masks, error) {
	mat, err := imageToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(mat, &blurred, image.Point{X: 3, Y: 3}, 0, 0, gocv.BorderDefault)

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(blurred, &hsv, gocv.ColorBGRToHSV)

	// Red hue wraps around 180 in OpenCV's HSV space, so the grid mask is the
	// union of a low band and a high band.
	gridLow := gocv.NewMat()
	defer gridLow.Close()
	gocv.InRangeWithScalar(hsv,
		gocv.NewScalar(0, gridSatMin, gridValMin, 0),
		gocv.NewScalar(12, 255, 255, 0),
		&gridLow)

	gridHigh := gocv.NewMat()
	defer gridHigh.Close()
	gocv.InRangeWithScalar(hsv,
		gocv.NewScalar(168, gridSatMin, gridValMin, 0),
		gocv.NewScalar(180, 255, 255, 0),
		&gridHigh)

	gridMask := gocv.NewMat()
	defer gridMask.Close()
	gocv.BitwiseOr(gridLow, gridHigh, &gridMask)

	// Trace ink: dark pixels that are not part of the grid mask.
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(blurred, &gray, gocv.ColorBGRToGray)

	dark := gocv.NewMat()
	defer dark.Close()
	gocv.Threshold(gray, &dark, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

	notGrid := gocv.NewMat()
	defer notGrid.Close()
	gocv.BitwiseNot(gridMask, &notGrid)

	traceMask := gocv.NewMat()
	defer traceMask.Close()
	gocv.BitwiseAnd(dark, notGrid, &traceMask)

	cleaned := cleanupMask(traceMask, 1)
	defer cleaned.Close()

	m := &Masks{
		Trace: matMaskToBitmap(cleaned),
		Grid:  matMaskToBitmap(gridMask),
	}
	RepairBorders(m.Trace)
	return m, nil
}

// cleanupMask applies morphological close-then-open to seal single-pixel
// breaks and drop isolated noise.
func cleanupMask(mask gocv.Mat, iterations int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()

	cleaned := mask.Clone()
	for i := 0; i < iterations; i++ {
		gocv.MorphologyEx(cleaned, &cleaned, gocv.MorphClose, kernel)
	}
	for i := 0; i < iterations; i++ {
		gocv.MorphologyEx(cleaned, &cleaned, gocv.MorphOpen, kernel)
	}
	return cleaned
}

// imageToMat converts a Go image.Image to a gocv.Mat in BGR format.
func imageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return gocv.Mat{}, fmt.Errorf("empty image")
	}

	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			mat.SetUCharAt(y, x*3+0, uint8(b>>8))
			mat.SetUCharAt(y, x*3+1, uint8(g>>8))
			mat.SetUCharAt(y, x*3+2, uint8(r>>8))
		}
	}
	return mat, nil
}

// matMaskToBitmap converts a single-channel 0/255 mask to a Bitmap.
func matMaskToBitmap(m gocv.Mat) *raster.Bitmap {
	rows, cols := m.Rows(), m.Cols()
	bm := raster.New(cols, rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if m.GetUCharAt(y, x) > 0 {
				bm.Set(x, y, true)
			}
		}
	}
	return bm
}
