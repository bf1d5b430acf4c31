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

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Converts uint16 samples to float64 for use with gonum
func ToFloat64(data []uint16) []float64 {
	res := make([]float64, len(data))
	for i, v := range data {
		res[i] = float64(v)
	}
	return res
}

// Population mean and standard deviation (ddof 0). Weights may be nil
func MeanStdDev(x, weights []float64) (mean, stdDev float64) {
	if len(x) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(x, weights)
}

// Pearson correlation of x and y. Returns 0 if either has zero variance
func Correlation(x, y, weights []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	c := stat.Correlation(x, y, weights)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return c
}

// Population covariance matrix of the pairs (x, y)
func Covariance2(x, y []float64) (meanX, meanY float64, cov *mat.SymDense) {
	meanX, meanY = stat.Mean(x, nil), stat.Mean(y, nil)
	var sxx, sxy, syy float64
	for i := range x {
		dx, dy := x[i]-meanX, y[i]-meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	n := float64(len(x))
	return meanX, meanY, mat.NewSymDense(2, []float64{sxx / n, sxy / n, sxy / n, syy / n})
}

// Returns the unit eigenvector of the smallest eigenvalue of a symmetric 2x2 matrix,
// which is the direction of least variance. ok is false if the decomposition fails
func MinorAxis(cov *mat.SymDense) (vx, vy float64, ok bool) {
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return 0, 0, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// eigenvalues are in ascending order, so the first column is the minor axis
	return vecs.At(0, 0), vecs.At(1, 0), true
}
