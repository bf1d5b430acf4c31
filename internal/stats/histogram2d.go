// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package stats

import (
	"sort"
)

// A two-dimensional histogram with equally spaced bins per axis. Bins are half open
// [lo, hi) except for the last bin on each axis, which also includes its upper edge
type Histogram2D struct {
	Bins   int
	XEdges []float64
	YEdges []float64
	Counts []int // indexed by xIndex*Bins+yIndex
}

// Builds a histogram of the pairs (x, y) with the given number of bins per axis.
// Each axis spans the range of its data. A zero-width range is widened by 0.5 on each side
func NewHistogram2D(x, y []float64, bins int) *Histogram2D {
	h := &Histogram2D{
		Bins:   bins,
		XEdges: edges(x, bins),
		YEdges: edges(y, bins),
		Counts: make([]int, bins*bins),
	}
	for i := range x {
		if ix, iy, ok := h.Index(x[i], y[i]); ok {
			h.Counts[ix*bins+iy]++
		}
	}
	return h
}

func edges(data []float64, bins int) []float64 {
	lo, hi := 0.0, 1.0
	if len(data) > 0 {
		lo, hi = data[0], data[0]
		for _, v := range data[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	res := make([]float64, bins+1)
	step := (hi - lo) / float64(bins)
	for i := range res {
		res[i] = lo + float64(i)*step
	}
	res[bins] = hi
	return res
}

func binOf(e []float64, v float64) (int, bool) {
	last := len(e) - 1
	if v < e[0] || v > e[last] {
		return -1, false
	}
	if v == e[last] {
		return last - 1, true
	}
	// first edge greater than v, minus one
	return sort.Search(len(e), func(i int) bool { return e[i] > v }) - 1, true
}

// Returns the bin indices of the pair (x, y), or false if it lies outside the histogram
func (h *Histogram2D) Index(x, y float64) (ix, iy int, ok bool) {
	if ix, ok = binOf(h.XEdges, x); !ok {
		return -1, -1, false
	}
	if iy, ok = binOf(h.YEdges, y); !ok {
		return -1, -1, false
	}
	return ix, iy, true
}

// Returns the largest bin count
func (h *Histogram2D) MaxCount() int {
	max := 0
	for _, c := range h.Counts {
		if c > max {
			max = c
		}
	}
	return max
}
