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
	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/raster"
)

// Pixel values and weights of the selected pseudo-invariant features, in columns.
// Row j of every column refers to the same pixel
type PIFSet struct {
	Weight    []float64  // PIF weight per row, always positive
	Candidate [][]uint16 // candidate values, indexed by band then row
	Reference [][]uint16 // reference values, indexed by band then row
}

// Extracts the pixels with nonzero weight in the mask from candidate and reference
func Extract(mask *raster.Mask, candidate, reference *raster.Image) (*PIFSet, error) {
	if err := raster.CheckComparable([]*raster.Image{candidate, reference}, false); err != nil {
		return nil, err
	}
	if mask.Width != candidate.Width() || mask.Height != candidate.Height() {
		return nil, errs.Shape("PIF mask %dx%d vs image %s", mask.Width, mask.Height, candidate.DimensionsToString())
	}

	n := mask.Count()
	set := &PIFSet{
		Weight:    make([]float64, 0, n),
		Candidate: make([][]uint16, candidate.NumBands()),
		Reference: make([][]uint16, candidate.NumBands()),
	}
	for b := range set.Candidate {
		set.Candidate[b] = make([]uint16, 0, n)
		set.Reference[b] = make([]uint16, 0, n)
	}
	for i, w := range mask.Data {
		if w == 0 {
			continue
		}
		set.Weight = append(set.Weight, float64(w))
		for b := range set.Candidate {
			set.Candidate[b] = append(set.Candidate[b], candidate.Bands[b].Data[i])
			set.Reference[b] = append(set.Reference[b], reference.Bands[b].Data[i])
		}
	}
	return set, nil
}

// Number of PIFs
func (s *PIFSet) Len() int { return len(s.Weight) }

// Number of bands
func (s *PIFSet) Bands() int { return len(s.Candidate) }
