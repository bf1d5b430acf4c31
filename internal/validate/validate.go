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

// Package validate scores how closely two images agree.
package validate

import (
	"errors"
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/raster"
)

// No pixel is valid in both images, so no score can be computed
var ErrNoOverlap = errors.New("no pixel is valid in both images")

// Root mean square difference of two bands, over the pixels valid in both masks
func RMSE(a, b *raster.Band, ma, mb *raster.Mask) (float64, error) {
	if a.Width != b.Width || a.Height != b.Height || len(ma.Data) != len(a.Data) || len(mb.Data) != len(b.Data) {
		return 0, errs.Shape("bands %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	sum, n := 0.0, 0
	for i, va := range a.Data {
		if ma.Data[i] == 0 || mb.Data[i] == 0 {
			continue
		}
		d := float64(va) - float64(b.Data[i])
		sum += d * d
		n++
	}
	if n == 0 {
		return 0, ErrNoOverlap
	}
	return math.Sqrt(sum / float64(n)), nil
}

// RMSE of each band pair
func PerBandRMSE(a, b *raster.Image) ([]float64, error) {
	if err := raster.CheckComparable([]*raster.Image{a, b}, false); err != nil {
		return nil, err
	}
	res := make([]float64, len(a.Bands))
	for i := range a.Bands {
		var err error
		if res[i], err = RMSE(a.Bands[i], b.Bands[i], a.Alpha, b.Alpha); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Sum of the per band RMSE. Lower is better
func SumOfRMSE(a, b *raster.Image) (float64, error) {
	rmses, err := PerBandRMSE(a, b)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, r := range rmses {
		sum += r
	}
	return sum, nil
}

// Mean CIE76 color difference of two 3-band images, interpreting bands as linear
// red, green and blue, over the pixels valid in both
func MeanDeltaE(a, b *raster.Image) (float64, error) {
	if err := raster.CheckComparable([]*raster.Image{a, b}, false); err != nil {
		return 0, err
	}
	if a.NumBands() != 3 {
		return 0, fmt.Errorf("%w: color difference needs 3 bands, got %d", errs.ErrShapeMismatch, a.NumBands())
	}
	const scale = 1.0 / math.MaxUint16
	ar, ag, ab := a.Bands[0].Data, a.Bands[1].Data, a.Bands[2].Data
	br, bg, bb := b.Bands[0].Data, b.Bands[1].Data, b.Bands[2].Data
	sum, n := 0.0, 0
	for i := range ar {
		if a.Alpha.Data[i] == 0 || b.Alpha.Data[i] == 0 {
			continue
		}
		ca := colorful.LinearRgb(float64(ar[i])*scale, float64(ag[i])*scale, float64(ab[i])*scale)
		cb := colorful.LinearRgb(float64(br[i])*scale, float64(bg[i])*scale, float64(bb[i])*scale)
		sum += ca.DistanceCIE76(cb)
		n++
	}
	if n == 0 {
		return 0, ErrNoOverlap
	}
	return sum / float64(n), nil
}
