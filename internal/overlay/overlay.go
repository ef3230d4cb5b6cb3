// Package overlay renders resolved traces over the source image for visual QA.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"ecg-digitizer/internal/extract"
	"ecg-digitizer/internal/layout"
	"ecg-digitizer/pkg/colorutil"
)

// Render paints each resolved trace over a copy of the source image, one
// palette color per region. traces is parallel to regions; nil entries
// (failed leads) are skipped.
func Render(src image.Image, regions []layout.Region, traces []*extract.Trace) *image.RGBA {
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)

	for i, tr := range traces {
		if tr == nil || i >= len(regions) {
			continue
		}
		col := colorutil.PaletteColor(i)

		prevX, prevY := -1, -1
		for x := 0; x < tr.Cols(); x++ {
			if tr.Missing(x) {
				prevX = -1
				continue
			}
			px := tr.Left + x
			py := int(math.Round(tr.Rows[x]))
			if prevX >= 0 {
				drawLine(out, prevX, prevY, px, py, col)
			} else {
				out.SetRGBA(px, py, col)
			}
			prevX, prevY = px, py
		}
	}
	return out
}

// drawLine draws a 1 px Bresenham segment.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	dx := absInt(x1 - x0)
	dy := -absInt(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		img.SetRGBA(x0, y0, col)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
