// Package selector implements deterministic greedy maximum-coverage
// selection over candidate viewshed rasters, projected into master-grid
// pixel indices.
//
// Candidate pixel sets are sorted packed arrays of row-major master-grid
// indices rather than hash sets: set-difference and union become linear
// merges over sorted slices, which is both faster and branch-predictable
// than hashing for the pixel-count ranges these grids reach.
package selector

import (
	"sort"

	"meshrf/internal/geoproj"
	"meshrf/internal/model"
)

// PixelsFromRaster projects a viewshed raster's visible cells into sorted,
// deduplicated row-major master-grid pixel indices via the master grid's
// affine.
func PixelsFromRaster(r *model.Raster, affine geoproj.Affine) []int32 {
	seen := make(map[int32]struct{}, r.Rows*r.Cols/4)
	for row := 0; row < r.Rows; row++ {
		lat := r.RowLats[row]
		for col := 0; col < r.Cols; col++ {
			if !r.At(row, col) {
				continue
			}
			lon := r.ColLons[col]
			mRow, mCol := affine.RowCol(lat, lon)
			if !affine.Contains(mRow, mCol) {
				continue
			}
			idx := int32(mRow*affine.Cols + mCol)
			seen[idx] = struct{}{}
		}
	}

	out := make([]int32, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Candidate is one selectable site with its projected pixel set.
type Candidate struct {
	Index  int // caller's identifier, reported in Result.SelectedIdx; ties are broken by slice position, not by Index
	Pixels []int32
}

// Result is the outcome of the greedy selection.
type Result struct {
	SelectedIdx []int     // Index values of the selected candidates, in selection order
	Covered     []int32   // final union of all selected pixel sets, sorted
	Marginal    []int     // marginal gain (new pixel count) at each selection step, same order as SelectedIdx
}

// Select runs the greedy maximum-coverage loop. If n <= 0 (not provided),
// every candidate is selected (no-op) in input order. Otherwise at most n
// candidates (capped at len(candidates)) are picked greedily, and the loop
// stops early once the best marginal gain is zero.
func Select(candidates []Candidate, n int) Result {
	if n <= 0 {
		var res Result
		covered := []int32{}
		for _, c := range candidates {
			res.SelectedIdx = append(res.SelectedIdx, c.Index)
			res.Marginal = append(res.Marginal, setDifferenceCount(c.Pixels, covered))
			covered = union(covered, c.Pixels)
		}
		res.Covered = covered
		return res
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	covered := []int32{}
	remaining := make([]bool, len(candidates))
	for i := range remaining {
		remaining[i] = true
	}

	var res Result
	for step := 0; step < n; step++ {
		bestIdx := -1
		bestGain := -1
		for i, c := range candidates {
			if !remaining[i] {
				continue
			}
			gain := setDifferenceCount(c.Pixels, covered)
			if gain > bestGain {
				bestGain = gain
				bestIdx = i
			}
			// ties broken by first-seen: strict > above already does this,
			// since candidates are iterated in input order.
		}

		if bestIdx == -1 || bestGain <= 0 {
			break
		}

		covered = union(covered, candidates[bestIdx].Pixels)
		remaining[bestIdx] = false
		res.SelectedIdx = append(res.SelectedIdx, candidates[bestIdx].Index)
		res.Marginal = append(res.Marginal, bestGain)
	}

	res.Covered = covered
	return res
}

// setDifferenceCount returns |a \ b| for two sorted, deduplicated slices,
// via a linear merge.
func setDifferenceCount(a, b []int32) int {
	count := 0
	i, j := 0, 0
	for i < len(a) {
		if j >= len(b) || a[i] < b[j] {
			count++
			i++
		} else if a[i] == b[j] {
			i++
			j++
		} else {
			j++
		}
	}
	return count
}

// union merges two sorted, deduplicated slices into one.
func union(a, b []int32) []int32 {
	out := make([]int32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
