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

// Package pif selects pseudo-invariant features: pixels whose values are expected
// not to have changed between a candidate and a reference image, so that the
// remaining differences are radiometric.
package pif

import (
	"runtime"
	"sync"
	"time"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/metrics"
	"github.com/mlnoga/radnorm/internal/raster"
	"github.com/mlnoga/radnorm/internal/stats"
)

// Tuning parameters of the selection methods
type Options struct {
	PCAThreshold       float64 `json:"pcaThreshold" yaml:"pcaThreshold"`             // max distance from the principal axis
	RobustThreshold    float64 `json:"robustThreshold" yaml:"robustThreshold"`       // max distance from the robust line
	MaxSamples         int     `json:"maxSamples" yaml:"maxSamples"`                 // max pixel pairs used for the robust fit
	HistogramBins      int     `json:"histogramBins" yaml:"histogramBins"`           // bins per axis
	HistogramThreshold float64 `json:"histogramThreshold" yaml:"histogramThreshold"` // min bin population relative to the most popular bin
	TopK               int     `json:"topK" yaml:"topK"`                             // if positive, select this many most popular bins instead
	Rough              bool    `json:"rough" yaml:"rough"`                           // select the bounding box of the popular bins
	MaxThreads         int     `json:"-" yaml:"-"`                                   // parallelism across bands, GOMAXPROCS if zero
}

func DefaultOptions() Options {
	return Options{
		PCAThreshold:       30,
		RobustThreshold:    1000,
		MaxSamples:         100000,
		HistogramBins:      10,
		HistogramThreshold: 0.1,
	}
}

// Selects pseudo-invariant features. The result carries the PIF weight of each pixel,
// zero for pixels which are not PIFs
type Selector interface {
	Select(candidate, reference *raster.Image, obs metrics.Observer) (*raster.Mask, error)
}

// Creates the selector for the given method
func NewSelector(method Method, opts Options) (Selector, error) {
	switch method {
	case MethodSkip:
		return skipSelector{}, nil
	case MethodNoData:
		return noDataSelector{}, nil
	case MethodPCA:
		return &bandSelector{stage: "pif_pca", opts: opts, filter: pcaFilter}, nil
	case MethodRobust:
		return &bandSelector{stage: "pif_robust", opts: opts, filter: robustFilter}, nil
	case MethodHistogram:
		return &bandSelector{stage: "pif_histogram", opts: opts, filter: histogramFilter}, nil
	}
	return nil, unsupported(method)
}

func unsupported(m Method) error {
	return errs.Unsupported("pif", m.String())
}

// Returns the reference alpha as PIF weights, for references prepared with weights
type skipSelector struct{}

func (skipSelector) Select(candidate, reference *raster.Image, obs metrics.Observer) (*raster.Mask, error) {
	if err := raster.CheckComparable([]*raster.Image{candidate, reference}, false); err != nil {
		return nil, err
	}
	return reference.Alpha.Clone(), nil
}

// Selects pixels valid in both images
type noDataSelector struct{}

func (noDataSelector) Select(candidate, reference *raster.Image, obs metrics.Observer) (*raster.Mask, error) {
	obs = metrics.OrNop(obs)
	start := time.Now()
	mask, err := combinedAlpha(candidate, reference)
	if err != nil {
		return nil, err
	}
	valid := mask.Count()
	for b := range candidate.Bands {
		obs.ValidPixels("pif_nodata", b, valid, len(mask.Data))
	}
	obs.Duration("pif_nodata", time.Since(start))
	return mask, nil
}

// Mask valid where both images are valid, weighted with the reference alpha
func combinedAlpha(candidate, reference *raster.Image) (*raster.Mask, error) {
	if err := raster.CheckComparable([]*raster.Image{candidate, reference}, false); err != nil {
		return nil, err
	}
	return reference.Alpha.And(candidate.Alpha)
}

// Filters the valid pixel pairs of one band. Returns which pairs pass
type bandFilter func(band int, c, r []float64, opts *Options, obs metrics.Observer) []bool

// Applies a band filter to all bands in parallel, and combines the results.
// A pixel is selected if it passes the filter in every band
type bandSelector struct {
	stage  string
	opts   Options
	filter bandFilter
}

func (s *bandSelector) Select(candidate, reference *raster.Image, obs metrics.Observer) (*raster.Mask, error) {
	obs = metrics.OrNop(obs)
	start := time.Now()
	mask, err := combinedAlpha(candidate, reference)
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(mask.Data))
	for i, v := range mask.Data {
		if v > 0 {
			indices = append(indices, i)
		}
	}

	maxThreads := s.opts.MaxThreads
	if maxThreads <= 0 {
		maxThreads = runtime.GOMAXPROCS(0)
	}
	passes := make([][]bool, len(candidate.Bands))
	sem := make(chan bool, maxThreads)
	var wg sync.WaitGroup
	for b := range candidate.Bands {
		wg.Add(1)
		sem <- true
		go func(b int) {
			defer func() { <-sem; wg.Done() }()
			c := gather(candidate.Bands[b].Data, indices)
			r := gather(reference.Bands[b].Data, indices)
			pass := s.filter(b, c, r, &s.opts, obs)
			passes[b] = pass

			kept := 0
			for _, p := range pass {
				if p {
					kept++
				}
			}
			obs.ValidPixels(s.stage, b, kept, len(mask.Data))
			obs.Correlation(s.stage, b, stats.Correlation(c, r, nil), stats.Correlation(subset(c, pass), subset(r, pass), nil))
		}(b)
	}
	wg.Wait()

	for j, i := range indices {
		for b := range passes {
			if !passes[b][j] {
				mask.Data[i] = 0
				break
			}
		}
	}
	obs.Duration(s.stage, time.Since(start))
	return mask, nil
}

func gather(data []uint16, indices []int) []float64 {
	res := make([]float64, len(indices))
	for j, i := range indices {
		res[j] = float64(data[i])
	}
	return res
}

func subset(data []float64, pass []bool) []float64 {
	res := make([]float64, 0, len(data))
	for i, p := range pass {
		if p {
			res = append(res, data[i])
		}
	}
	return res
}

func all(n int) []bool {
	res := make([]bool, n)
	for i := range res {
		res[i] = true
	}
	return res
}
