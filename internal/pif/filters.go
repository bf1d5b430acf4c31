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

package pif

import (
	"math"
	"sort"

	"github.com/mlnoga/radnorm/internal/metrics"
	"github.com/mlnoga/radnorm/internal/stats"
)

// Keeps pairs within the threshold distance of the principal axis of the scatter plot
func pcaFilter(band int, c, r []float64, opts *Options, obs metrics.Observer) []bool {
	if len(c) < 2 {
		obs.DegenerateFit("pif_pca", band)
		return all(len(c))
	}
	_, stdC := stats.MeanStdDev(c, nil)
	_, stdR := stats.MeanStdDev(r, nil)
	if stdC == 0 || stdR == 0 {
		obs.DegenerateFit("pif_pca", band)
		return all(len(c))
	}

	meanC, meanR, cov := stats.Covariance2(c, r)
	vx, vy, ok := stats.MinorAxis(cov)
	if !ok {
		obs.DegenerateFit("pif_pca", band)
		return all(len(c))
	}

	pass := make([]bool, len(c))
	for i := range c {
		proj := (c[i]-meanC)*vx + (r[i]-meanR)*vy
		pass[i] = math.Abs(proj) <= opts.PCAThreshold
	}
	return pass
}

// Keeps pairs within the threshold distance of a robust regression line. The line is
// fitted on a deterministic subsample of at most MaxSamples pairs
func robustFilter(band int, c, r []float64, opts *Options, obs metrics.Observer) []bool {
	if len(c) < 2 {
		obs.DegenerateFit("pif_robust", band)
		return all(len(c))
	}
	sc, sr := c, r
	if opts.MaxSamples > 0 && len(c) > opts.MaxSamples {
		idx := stats.SampleIndices(len(c), opts.MaxSamples)
		sc, sr = make([]float64, len(idx)), make([]float64, len(idx))
		for j, i := range idx {
			sc[j], sr[j] = c[i], r[i]
		}
	}
	if _, std := stats.MeanStdDev(sc, nil); std == 0 {
		obs.DegenerateFit("pif_robust", band)
		return all(len(c))
	}

	offset, gain, _ := stats.HuberRegression(sc, sr, nil)
	norm := math.Sqrt(1 + gain*gain)
	pass := make([]bool, len(c))
	for i := range c {
		pass[i] = math.Abs(gain*c[i]-r[i]+offset)/norm < opts.RobustThreshold
	}
	return pass
}

// Keeps pairs falling into the popular bins of a 2D histogram, or into the bounding
// box of the popular bins in rough mode
func histogramFilter(band int, c, r []float64, opts *Options, obs metrics.Observer) []bool {
	if len(c) == 0 {
		return nil
	}
	bins := opts.HistogramBins
	if bins <= 0 {
		bins = DefaultOptions().HistogramBins
	}
	h := stats.NewHistogram2D(c, r, bins)
	selected := popularBins(h, opts)

	pass := make([]bool, len(c))
	if opts.Rough {
		cMin, cMax := math.Inf(1), math.Inf(-1)
		rMin, rMax := math.Inf(1), math.Inf(-1)
		for k, sel := range selected {
			if !sel {
				continue
			}
			ix, iy := k/bins, k%bins
			cMin, cMax = math.Min(cMin, h.XEdges[ix]), math.Max(cMax, h.XEdges[ix+1])
			rMin, rMax = math.Min(rMin, h.YEdges[iy]), math.Max(rMax, h.YEdges[iy+1])
		}
		for i := range c {
			pass[i] = c[i] >= cMin && c[i] <= cMax && r[i] >= rMin && r[i] <= rMax
		}
		return pass
	}

	for i := range c {
		if ix, iy, ok := h.Index(c[i], r[i]); ok {
			pass[i] = selected[ix*bins+iy]
		}
	}
	return pass
}

// Flags the popular bins: the TopK most populated ones if TopK is positive, ties
// going to the lower bin index, else those above the threshold relative to the maximum
func popularBins(h *stats.Histogram2D, opts *Options) []bool {
	selected := make([]bool, len(h.Counts))
	if opts.TopK > 0 {
		order := make([]int, len(h.Counts))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return h.Counts[order[a]] > h.Counts[order[b]] })
		for k := 0; k < opts.TopK && k < len(order); k++ {
			selected[order[k]] = true
		}
		return selected
	}

	maxCount := h.MaxCount()
	if maxCount == 0 {
		return selected
	}
	for i, cnt := range h.Counts {
		selected[i] = float64(cnt)/float64(maxCount) > opts.HistogramThreshold
	}
	return selected
}
