package extract

import (
	"math"

	"ecg-digitizer/internal/raster"
	"ecg-digitizer/pkg/geometry"
)

// dpNode is one candidate run linked into a resolution path.
type dpNode struct {
	col    int
	run    raster.Run
	score  float64
	length int
	prev   int // index into nodes, -1 for path start
	seg    int // connected segment id; blank columns separate segments
}

// resolveDP resolves the trace by a global shortest-path search across
// columns. The step cost combines distance from the region baseline with a
// penalty on vertical disconnection between consecutive runs, and the longest
// cheapest path wins. More robust than the greedy pass when occlusions split
// the curve, at the price of touching every candidate pair.
func resolveDP(runs [][]raster.Run, region geometry.RectInt, opts Options) *Trace {
	baseline := region.Center().Y
	gapPenalty := opts.GapPenalty
	if gapPenalty <= 0 {
		gapPenalty = float64(region.Width) / 10
	}

	var nodes []dpNode
	prevStart, prevEnd := -1, -1 // node index range of the previous inked column
	prevCol := -1
	seg := -1

	for x := 0; x < region.Width; x++ {
		cand := runs[x]
		if len(cand) == 0 {
			continue
		}
		if prevCol != x-1 {
			seg++
		}

		start := len(nodes)
		for _, r := range cand {
			n := dpNode{col: x, run: r, prev: -1, length: 1, seg: seg}
			n.score = math.Abs(r.Center() - baseline)

			// Only adjacent columns chain; a blank column breaks the path and
			// later candidates restart, exactly like a pen lift would.
			if prevCol == x-1 {
				bestScore := math.Inf(1)
				bestPrev := -1
				for pi := prevStart; pi < prevEnd; pi++ {
					p := nodes[pi]
					cost := p.score + math.Abs(p.run.Center()-r.Center()) +
						gapPenalty*float64(p.run.Gap(r))
					if cost < bestScore {
						bestScore, bestPrev = cost, pi
					}
				}
				if bestPrev >= 0 {
					n.score = bestScore
					n.prev = bestPrev
					n.length = nodes[bestPrev].length + 1
				}
			}
			nodes = append(nodes, n)
		}
		prevStart, prevEnd = start, len(nodes)
		prevCol = x
	}

	rows := make([]float64, region.Width)
	for i := range rows {
		rows[i] = math.NaN()
	}
	tr := &Trace{Left: region.X, Rows: rows}
	if len(nodes) == 0 {
		return tr
	}

	// Each pen-lift segment resolves independently: within a segment the
	// best terminal is the longest path, ties broken by distance to the
	// baseline.
	best := make([]int, seg+1)
	for i := range best {
		best[i] = -1
	}
	for i, n := range nodes {
		b := best[n.seg]
		if b < 0 || n.length > nodes[b].length ||
			(n.length == nodes[b].length && math.Abs(n.run.Center()-baseline) < math.Abs(nodes[b].run.Center()-baseline)) {
			best[n.seg] = i
		}
	}

	for _, terminal := range best {
		var path []int
		for i := terminal; i >= 0; i = nodes[i].prev {
			path = append(path, i)
		}
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}
		for _, i := range path {
			rows[nodes[i].col] = nodes[i].run.Center()
		}
		delineatePeaks(tr, path, nodes, baseline)
	}
	return tr
}

// delineatePeaks sharpens local extrema: at a peak column the run center
// underestimates the excursion, so the row snaps to the run pixel farthest
// from the baseline. Preserves QRS amplitude that center-of-run averaging
// would clip.
func delineatePeaks(tr *Trace, path []int, nodes []dpNode, baseline float64) {
	for k := 1; k < len(path)-1; k++ {
		cur := nodes[path[k]]
		d := math.Abs(cur.run.Center() - baseline)
		dPrev := math.Abs(nodes[path[k-1]].run.Center() - baseline)
		dNext := math.Abs(nodes[path[k+1]].run.Center() - baseline)
		if d <= dPrev || d < dNext {
			continue
		}
		far := float64(cur.run.Top)
		if math.Abs(float64(cur.run.Bottom)-baseline) > math.Abs(float64(cur.run.Top)-baseline) {
			far = float64(cur.run.Bottom)
		}
		tr.Rows[cur.col] = far
	}
}
