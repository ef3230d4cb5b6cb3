// Package layout identifies the canonical lead arrangement of an ECG
// printout and partitions the image into labeled per-lead regions.
package layout

import (
	"math"
	"sort"

	"ecg-digitizer/internal/raster"
)

// bandWindow is the rolling-window height used for the row activity profile.
const bandWindow = 10

// DetectBands locates the horizontal signal bands of the trace raster.
// Each lead row produces a band of elevated ink variance; band centers are
// returned in top-to-bottom order.
func DetectBands(trace *raster.Bitmap, minDistance int) []int {
	if trace.H < bandWindow {
		return nil
	}
	if minDistance < 1 {
		minDistance = 1
	}

	// Rolling std of the binary block under a sliding row window. For ink
	// fraction p the block std is sqrt(p(1-p)), so quiet rows score near
	// zero and signal rows stand out.
	counts := make([]int, trace.H)
	for y := 0; y < trace.H; y++ {
		counts[y] = trace.RowCount(y)
	}
	blockPixels := float64(bandWindow * trace.W)
	shift := (bandWindow - 1) / 2
	stds := make([]float64, trace.H)
	sum := 0
	for y := 0; y < trace.H; y++ {
		sum += counts[y]
		if y >= bandWindow {
			sum -= counts[y-bandWindow]
		}
		if y >= bandWindow-1 {
			p := float64(sum) / blockPixels
			stds[y-bandWindow+1+shift] = math.Sqrt(p * (1 - p))
		}
	}

	return findPeaks(stds, minDistance)
}

// findPeaks returns local maxima separated by at least minDistance, strongest
// first retained, in ascending index order. Peaks below 20% of the global
// maximum are noise and dropped.
func findPeaks(vals []float64, minDistance int) []int {
	var cand []int
	maxVal := 0.0
	for i := 1; i < len(vals)-1; i++ {
		if vals[i] > vals[i-1] && vals[i] >= vals[i+1] && vals[i] > 0 {
			cand = append(cand, i)
			if vals[i] > maxVal {
				maxVal = vals[i]
			}
		}
	}
	if len(cand) == 0 {
		return nil
	}

	sort.Slice(cand, func(i, j int) bool { return vals[cand[i]] > vals[cand[j]] })

	var kept []int
	for _, c := range cand {
		if vals[c] < 0.2*maxVal {
			continue
		}
		ok := true
		for _, k := range kept {
			if absInt(c-k) < minDistance {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, c)
		}
	}
	sort.Ints(kept)
	return kept
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
