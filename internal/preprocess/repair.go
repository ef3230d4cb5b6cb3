package preprocess

import "ecg-digitizer/internal/raster"

// Border repair constants. Frame lines hug the outer 10 pixels of a cropped
// strip; a row or column that is almost entirely inked there is a frame
// artifact, not signal.
const (
	borderDepth    = 10
	frameInkFrac   = 0.95
	bridgeWidthPct = 0.02
)

// RepairBorders removes near-solid frame lines at the raster edges and
// bridges short breaks in signals that were clipped at the top or bottom of
// the printable grid.
func RepairBorders(bm *raster.Bitmap) {
	// Delete thick frame lines in the border bands.
	for _, y := range borderRows(bm.H) {
		if float64(bm.RowCount(y)) >= frameInkFrac*float64(bm.W) {
			bm.FillRow(y, false)
		}
	}
	for _, x := range borderRows(bm.W) {
		if float64(bm.ColCount(x)) >= frameInkFrac*float64(bm.H) {
			bm.FillCol(x, false)
		}
	}

	// A waveform that ran off the printable area gets cut into separate ink
	// islands along the first and last inked rows. Bridge neighbours that are
	// close enough to have been one stroke.
	maxDist := int(bridgeWidthPct * float64(bm.W))
	first, last := -1, -1
	for y := 0; y < bm.H; y++ {
		if bm.RowCount(y) > 0 {
			if first < 0 {
				first = y
			}
			last = y
		}
	}
	if first < 0 {
		return
	}
	for _, y := range []int{first, last} {
		prev := -1
		for x := 0; x < bm.W; x++ {
			if !bm.Ink(x, y) {
				continue
			}
			if prev >= 0 && x-prev > 1 && x-prev <= maxDist {
				for bx := prev + 1; bx < x; bx++ {
					bm.Set(bx, y, true)
				}
			}
			prev = x
		}
	}
}

func borderRows(n int) []int {
	var idx []int
	for i := 0; i < borderDepth && i < n; i++ {
		idx = append(idx, i)
	}
	for i := n - borderDepth; i < n; i++ {
		if i >= borderDepth && i >= 0 {
			idx = append(idx, i)
		}
	}
	return idx
}
