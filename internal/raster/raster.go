// Package raster provides the binary ink bitmap the digitization passes operate on.
package raster

import "ecg-digitizer/pkg/geometry"

// Bitmap is a binary raster: true marks an inked pixel. It is the shared
// read-only product of preprocessing; the per-lead workers never mutate it.
type Bitmap struct {
	W, H int
	bits []bool
}

// New creates an empty bitmap of the given size.
func New(w, h int) *Bitmap {
	return &Bitmap{W: w, H: h, bits: make([]bool, w*h)}
}

// Ink reports whether pixel (x, y) is inked. Out-of-bounds pixels are blank.
func (b *Bitmap) Ink(x, y int) bool {
	if x < 0 || x >= b.W || y < 0 || y >= b.H {
		return false
	}
	return b.bits[y*b.W+x]
}

// Set marks pixel (x, y). Out-of-bounds writes are ignored.
func (b *Bitmap) Set(x, y int, ink bool) {
	if x < 0 || x >= b.W || y < 0 || y >= b.H {
		return
	}
	b.bits[y*b.W+x] = ink
}

// Bounds returns the full-bitmap rectangle.
func (b *Bitmap) Bounds() geometry.RectInt {
	return geometry.RectInt{Width: b.W, Height: b.H}
}

// Count returns the number of inked pixels.
func (b *Bitmap) Count() int {
	n := 0
	for _, v := range b.bits {
		if v {
			n++
		}
	}
	return n
}

// RowCount returns the number of inked pixels in row y.
func (b *Bitmap) RowCount(y int) int {
	if y < 0 || y >= b.H {
		return 0
	}
	n := 0
	for _, v := range b.bits[y*b.W : (y+1)*b.W] {
		if v {
			n++
		}
	}
	return n
}

// ColCount returns the number of inked pixels in column x.
func (b *Bitmap) ColCount(x int) int {
	if x < 0 || x >= b.W {
		return 0
	}
	n := 0
	for y := 0; y < b.H; y++ {
		if b.bits[y*b.W+x] {
			n++
		}
	}
	return n
}

// RowProfile returns the per-row inked pixel counts, one entry per row.
func (b *Bitmap) RowProfile() []float64 {
	p := make([]float64, b.H)
	for y := 0; y < b.H; y++ {
		p[y] = float64(b.RowCount(y))
	}
	return p
}

// ColProfile returns the per-column inked pixel counts, one entry per column.
func (b *Bitmap) ColProfile() []float64 {
	p := make([]float64, b.W)
	for x := 0; x < b.W; x++ {
		p[x] = float64(b.ColCount(x))
	}
	return p
}

// FillRow sets a whole row to the given ink state.
func (b *Bitmap) FillRow(y int, ink bool) {
	if y < 0 || y >= b.H {
		return
	}
	row := b.bits[y*b.W : (y+1)*b.W]
	for i := range row {
		row[i] = ink
	}
}

// FillCol sets a whole column to the given ink state.
func (b *Bitmap) FillCol(x int, ink bool) {
	if x < 0 || x >= b.W {
		return
	}
	for y := 0; y < b.H; y++ {
		b.bits[y*b.W+x] = ink
	}
}

// ClearRect blanks every pixel inside the rectangle.
func (b *Bitmap) ClearRect(r geometry.RectInt) {
	r = r.Clamp(b.Bounds())
	for y := r.Y; y < r.Bottom(); y++ {
		for x := r.X; x < r.Right(); x++ {
			b.bits[y*b.W+x] = false
		}
	}
}

// Run is a maximal vertical range of consecutive inked pixels in one column.
// Top and Bottom are inclusive row indices.
type Run struct {
	Top, Bottom int
}

// Center returns the vertical midpoint of the run.
func (r Run) Center() float64 {
	return float64(r.Top+r.Bottom) / 2
}

// Height returns the run height in pixels.
func (r Run) Height() int {
	return r.Bottom - r.Top + 1
}

// Gap returns the vertical blank space between two runs in the same or
// adjacent columns, zero when they touch or overlap.
func (r Run) Gap(other Run) int {
	if other.Top > r.Bottom {
		return other.Top - r.Bottom - 1
	}
	if r.Top > other.Bottom {
		return r.Top - other.Bottom - 1
	}
	return 0
}

// ColumnRuns returns the disjoint ink runs of column x between rows y0 and y1
// (y1 exclusive), ordered top to bottom.
func (b *Bitmap) ColumnRuns(x, y0, y1 int) []Run {
	if y0 < 0 {
		y0 = 0
	}
	if y1 > b.H {
		y1 = b.H
	}
	var runs []Run
	inRun := false
	top := 0
	for y := y0; y < y1; y++ {
		if b.Ink(x, y) {
			if !inRun {
				inRun = true
				top = y
			}
		} else if inRun {
			runs = append(runs, Run{Top: top, Bottom: y - 1})
			inRun = false
		}
	}
	if inRun {
		runs = append(runs, Run{Top: top, Bottom: y1 - 1})
	}
	return runs
}
