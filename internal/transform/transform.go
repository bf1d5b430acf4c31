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

// Package transform fits per-band linear transformations mapping candidate pixel
// values onto reference pixel values.
package transform

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/metrics"
	"github.com/mlnoga/radnorm/internal/pif"
	"github.com/mlnoga/radnorm/internal/stats"
)

// Maps a candidate value v to gain*v+offset
type LinearTransformation struct {
	Gain   float64 `json:"gain"`
	Offset float64 `json:"offset"`
}

func Identity() LinearTransformation {
	return LinearTransformation{Gain: 1, Offset: 0}
}

func (t LinearTransformation) Apply(v float64) float64 {
	return t.Gain*v + t.Offset
}

func (t LinearTransformation) String() string {
	return fmt.Sprintf("gain %.6g offset %.6g", t.Gain, t.Offset)
}

// Fits a transformation to the PIF values of one band. Weights may be ignored
type Fitter interface {
	Fit(candidate, reference []uint16, weight []float64) (LinearTransformation, error)
}

// Creates the fitter for the given method
func NewFitter(method Method) (Fitter, error) {
	switch method {
	case MethodSkip:
		return identityFitter{}, nil
	case MethodMoment:
		return momentFitter{}, nil
	case MethodOLS:
		return olsFitter{}, nil
	case MethodRobust:
		return robustFitter{}, nil
	}
	return nil, errs.Unsupported("transformation", method.String())
}

// Checks the inputs of a fit and converts them to float64
func prepare(candidate, reference []uint16, weight []float64) (c, r []float64, err error) {
	if len(candidate) != len(reference) || (weight != nil && len(weight) != len(candidate)) {
		return nil, nil, errs.Shape("%d candidate values, %d reference values, %d weights", len(candidate), len(reference), len(weight))
	}
	if len(candidate) < 2 {
		return nil, nil, fmt.Errorf("%w: %d PIFs", errs.ErrInsufficientPIFs, len(candidate))
	}
	if !distinctPairs(candidate, reference) {
		return nil, nil, fmt.Errorf("%w: %d PIFs with a single distinct value pair", errs.ErrInsufficientPIFs, len(candidate))
	}
	return stats.ToFloat64(candidate), stats.ToFloat64(reference), nil
}

// True if at least two (candidate, reference) pairs differ
func distinctPairs(candidate, reference []uint16) bool {
	for i := 1; i < len(candidate); i++ {
		if candidate[i] != candidate[0] || reference[i] != reference[0] {
			return true
		}
	}
	return false
}

// True if at least two PIFs differ in some band
func distinctRows(set *pif.PIFSet) bool {
	for b := range set.Candidate {
		if distinctPairs(set.Candidate[b], set.Reference[b]) {
			return true
		}
	}
	return false
}

// True if the candidate values have zero variance, so no gain can be estimated
func Degenerate(candidate []uint16) bool {
	for _, v := range candidate {
		if v != candidate[0] {
			return false
		}
	}
	return true
}

// Unit gain, shifting the candidate mean onto the reference mean
func meanShift(c, r []float64) LinearTransformation {
	meanC, _ := stats.MeanStdDev(c, nil)
	meanR, _ := stats.MeanStdDev(r, nil)
	return LinearTransformation{Gain: 1, Offset: meanR - meanC}
}

type identityFitter struct{}

func (identityFitter) Fit(candidate, reference []uint16, weight []float64) (LinearTransformation, error) {
	return Identity(), nil
}

// Matches the mean and population standard deviation of the candidate to the reference
type momentFitter struct{}

func (momentFitter) Fit(candidate, reference []uint16, weight []float64) (LinearTransformation, error) {
	c, r, err := prepare(candidate, reference, weight)
	if err != nil {
		return LinearTransformation{}, err
	}
	meanC, stdC := stats.MeanStdDev(c, nil)
	meanR, stdR := stats.MeanStdDev(r, nil)
	if stdC == 0 {
		return meanShift(c, r), nil
	}
	gain := stdR / stdC
	return LinearTransformation{Gain: gain, Offset: meanR - gain*meanC}, nil
}

// Weighted least squares regression of reference on candidate
type olsFitter struct{}

func (olsFitter) Fit(candidate, reference []uint16, weight []float64) (LinearTransformation, error) {
	c, r, err := prepare(candidate, reference, weight)
	if err != nil {
		return LinearTransformation{}, err
	}
	if Degenerate(candidate) {
		return meanShift(c, r), nil
	}
	offset, gain := stats.OLS(c, r, weight)
	return LinearTransformation{Gain: gain, Offset: offset}, nil
}

// Huber regression of reference on candidate
type robustFitter struct{}

func (robustFitter) Fit(candidate, reference []uint16, weight []float64) (LinearTransformation, error) {
	c, r, err := prepare(candidate, reference, weight)
	if err != nil {
		return LinearTransformation{}, err
	}
	if Degenerate(candidate) {
		return meanShift(c, r), nil
	}
	offset, gain, _ := stats.HuberRegression(c, r, weight)
	return LinearTransformation{Gain: gain, Offset: offset}, nil
}

// Fits all bands of the PIF set in parallel, using at most maxThreads goroutines
// (GOMAXPROCS if zero). Reports each result to the observer
func FitAll(set *pif.PIFSet, fitter Fitter, maxThreads int, obs metrics.Observer) ([]LinearTransformation, error) {
	obs = metrics.OrNop(obs)
	start := time.Now()
	_, skip := fitter.(identityFitter)
	if !skip && set.Len() < 2 {
		return nil, fmt.Errorf("%w: %d PIFs", errs.ErrInsufficientPIFs, set.Len())
	}
	if !skip && !distinctRows(set) {
		return nil, fmt.Errorf("%w: %d PIFs with identical values in all bands", errs.ErrInsufficientPIFs, set.Len())
	}
	if maxThreads <= 0 {
		maxThreads = runtime.GOMAXPROCS(0)
	}

	res := make([]LinearTransformation, set.Bands())
	bandErrs := make([]error, set.Bands())
	sem := make(chan bool, maxThreads)
	var wg sync.WaitGroup
	for b := 0; b < set.Bands(); b++ {
		wg.Add(1)
		sem <- true
		go func(b int) {
			defer func() { <-sem; wg.Done() }()
			c, r := set.Candidate[b], set.Reference[b]
			if !skip && !distinctPairs(c, r) {
				// other bands carry the distinct samples
				res[b] = meanShift(stats.ToFloat64(c), stats.ToFloat64(r))
				return
			}
			res[b], bandErrs[b] = fitter.Fit(c, r, set.Weight)
		}(b)
	}
	wg.Wait()

	for b, err := range bandErrs {
		if err != nil {
			return nil, fmt.Errorf("band %d: %w", b, err)
		}
	}
	for b, t := range res {
		if !skip && Degenerate(set.Candidate[b]) {
			obs.DegenerateFit("transform", b)
		}
		obs.Transformation(b, t.Gain, t.Offset)
	}
	obs.Duration("transform", time.Since(start))
	return res, nil
}
