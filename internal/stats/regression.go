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
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/mlnoga/radnorm/internal/qsort"
)

const (
	HuberK             = 1.345  // tuning constant of the Huber norm, 95% efficiency under normal errors
	madToSigma         = 0.6745 // median absolute deviation of a standard normal distribution
	huberMaxIterations = 50
	huberTolerance     = 1e-8
)

// Weighted least squares fit of y = slope*x + intercept. Weights may be nil.
// The caller must ensure x has nonzero variance
func OLS(x, y, weights []float64) (intercept, slope float64) {
	return stat.LinearRegression(x, y, weights, false)
}

// Median absolute deviation around the median. Does not modify the input
func MAD(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	tmp := append([]float64(nil), data...)
	med := qsort.QSelectMedianFloat64(tmp)
	for i, v := range data {
		tmp[i] = math.Abs(v - med)
	}
	return qsort.QSelectMedianFloat64(tmp)
}

// Robust fit of y = slope*x + intercept with the Huber M-estimator, by iteratively
// reweighted least squares starting from the weighted OLS solution. Prior weights
// may be nil. The caller must ensure x has nonzero variance
func HuberRegression(x, y, weights []float64) (intercept, slope float64, iterations int) {
	intercept, slope = OLS(x, y, weights)
	residuals := make([]float64, len(x))
	rw := make([]float64, len(x))

	for iterations = 0; iterations < huberMaxIterations; iterations++ {
		for i := range x {
			residuals[i] = y[i] - (intercept + slope*x[i])
		}
		scale := MAD(residuals) / madToSigma
		if scale == 0 {
			break // at least half the points are on the line
		}
		for i, r := range residuals {
			u := math.Abs(r) / scale
			w := 1.0
			if u > HuberK {
				w = HuberK / u
			}
			if weights != nil {
				w *= weights[i]
			}
			rw[i] = w
		}
		newIntercept, newSlope := OLS(x, y, rw)
		converged := math.Abs(newIntercept-intercept) <= huberTolerance*math.Max(1, math.Abs(intercept)) &&
			math.Abs(newSlope-slope) <= huberTolerance*math.Max(1, math.Abs(slope))
		intercept, slope = newIntercept, newSlope
		if converged {
			iterations++
			break
		}
	}
	return intercept, slope, iterations
}
