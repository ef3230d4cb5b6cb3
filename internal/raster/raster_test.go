package raster

import (
	"testing"

	"ecg-digitizer/pkg/geometry"
)

func TestSetAndInk(t *testing.T) {
	b := New(10, 5)
	b.Set(3, 2, true)
	if !b.Ink(3, 2) {
		t.Error("pixel (3,2) should be inked")
	}
	if b.Ink(4, 2) {
		t.Error("pixel (4,2) should be blank")
	}

	// Out-of-bounds access never panics and never sticks.
	b.Set(-1, 0, true)
	b.Set(10, 0, true)
	b.Set(0, 5, true)
	if b.Ink(-1, 0) || b.Ink(10, 0) || b.Ink(0, 5) {
		t.Error("out-of-bounds pixels should read blank")
	}
	if b.Count() != 1 {
		t.Errorf("Count = %d, want 1", b.Count())
	}
}

func TestRowAndColProfiles(t *testing.T) {
	b := New(8, 4)
	b.FillRow(1, true)
	b.Set(2, 3, true)

	if got := b.RowCount(1); got != 8 {
		t.Errorf("RowCount(1) = %d, want 8", got)
	}
	if got := b.ColCount(2); got != 2 {
		t.Errorf("ColCount(2) = %d, want 2", got)
	}

	rp := b.RowProfile()
	if len(rp) != 4 || rp[1] != 8 || rp[0] != 0 {
		t.Errorf("RowProfile = %v", rp)
	}
	cp := b.ColProfile()
	if len(cp) != 8 || cp[2] != 2 || cp[0] != 1 {
		t.Errorf("ColProfile = %v", cp)
	}
}

func TestClearRect(t *testing.T) {
	b := New(6, 6)
	for y := 0; y < 6; y++ {
		b.FillRow(y, true)
	}
	b.ClearRect(geometry.RectInt{X: 1, Y: 1, Width: 2, Height: 3})
	if b.Ink(1, 1) || b.Ink(2, 3) {
		t.Error("cleared pixels should be blank")
	}
	if !b.Ink(0, 0) || !b.Ink(3, 1) || !b.Ink(1, 4) {
		t.Error("pixels outside the rect should stay inked")
	}
}

func TestColumnRuns(t *testing.T) {
	b := New(3, 12)
	// Column 1: runs at rows 2-4 and 7-7, plus ink above the window.
	for y := 2; y <= 4; y++ {
		b.Set(1, y, true)
	}
	b.Set(1, 7, true)
	b.Set(1, 11, true)

	runs := b.ColumnRuns(1, 0, 10)
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2: %v", len(runs), runs)
	}
	if runs[0].Top != 2 || runs[0].Bottom != 4 {
		t.Errorf("run 0 = %+v, want 2-4", runs[0])
	}
	if runs[1].Top != 7 || runs[1].Bottom != 7 {
		t.Errorf("run 1 = %+v, want 7-7", runs[1])
	}
	if runs[0].Height() != 3 || runs[0].Center() != 3 {
		t.Errorf("run 0 height/center = %d/%v", runs[0].Height(), runs[0].Center())
	}

	// A run extending to the window edge is closed at y1-1.
	runs = b.ColumnRuns(1, 10, 12)
	if len(runs) != 1 || runs[0].Top != 11 || runs[0].Bottom != 11 {
		t.Errorf("edge run = %v", runs)
	}
}

func TestRunGap(t *testing.T) {
	a := Run{Top: 2, Bottom: 4}
	tests := []struct {
		other Run
		want  int
	}{
		{Run{Top: 8, Bottom: 9}, 3},
		{Run{Top: 5, Bottom: 6}, 0},
		{Run{Top: 0, Bottom: 0}, 1},
		{Run{Top: 3, Bottom: 3}, 0},
	}
	for _, tt := range tests {
		if got := a.Gap(tt.other); got != tt.want {
			t.Errorf("Gap(%+v, %+v) = %d, want %d", a, tt.other, got, tt.want)
		}
		if got := tt.other.Gap(a); got != tt.want {
			t.Errorf("Gap is not symmetric for %+v", tt.other)
		}
	}
}
