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

// Package timestack composites a series of co-registered images into a single
// reference image.
package timestack

import (
	"errors"
	"math"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/raster"
)

// Running per pixel sums and observation counts of a time stack
type Accumulator struct {
	Width, Height int
	Sum           [][]float64 // per band
	Freq          [][]uint32  // per band, number of valid observations
	Metadata      raster.Metadata // of the first image
	firstID       int
	checkMetadata bool
	finalized     bool
}

// Creates an empty accumulator for images comparable to the template. The template
// is not retained, and the output carries its metadata
func NewAccumulator(template *raster.Image, checkMetadata bool) *Accumulator {
	n := template.Pixels()
	a := &Accumulator{
		Width:         template.Width(),
		Height:        template.Height(),
		Sum:           make([][]float64, template.NumBands()),
		Freq:          make([][]uint32, template.NumBands()),
		Metadata:      template.Metadata.Clone(),
		firstID:       template.ID,
		checkMetadata: checkMetadata,
	}
	for b := range a.Sum {
		a.Sum[b] = make([]float64, n)
		a.Freq[b] = make([]uint32, n)
	}
	return a
}

var errFinalized = errors.New("time stack accumulator already finalized")

// Checks that an image matches the shape, and optionally the metadata, of the accumulator
func (a *Accumulator) check(id, width, height, numBands int, md raster.Metadata) error {
	if numBands != len(a.Sum) {
		return errs.Shape("%d: %d bands, but %d: %d bands", id, numBands, a.firstID, len(a.Sum))
	}
	if width != a.Width || height != a.Height {
		return errs.Shape("%d: %dx%d pixels, but %d: %dx%d pixels", id, width, height, a.firstID, a.Width, a.Height)
	}
	if a.checkMetadata && !md.Equal(a.Metadata) {
		return errs.Shape("%d: metadata differs from %d", id, a.firstID)
	}
	return nil
}

// Adds the valid pixels of an image to the running sums
func (a *Accumulator) Add(img *raster.Image) error {
	if a.finalized {
		return errFinalized
	}
	if err := img.Validate(); err != nil {
		return err
	}
	if err := a.check(img.ID, img.Width(), img.Height(), img.NumBands(), img.Metadata); err != nil {
		return err
	}
	alpha := img.Alpha.Data
	for b, band := range img.Bands {
		sum, freq := a.Sum[b], a.Freq[b]
		for i, v := range band.Data {
			if alpha[i] > 0 {
				sum[i] += float64(v)
				freq[i]++
			}
		}
	}
	return nil
}

// Adds the sums and counts of another accumulator to this one
func (a *Accumulator) Merge(o *Accumulator) error {
	if a.finalized || o.finalized {
		return errFinalized
	}
	if err := a.check(o.firstID, o.Width, o.Height, len(o.Sum), o.Metadata); err != nil {
		return err
	}
	for b := range a.Sum {
		sum, freq := a.Sum[b], a.Freq[b]
		for i, s := range o.Sum[b] {
			sum[i] += s
			freq[i] += o.Freq[b][i]
		}
	}
	return nil
}

// Computes the composite. Values are the mean of the valid observations, truncated
// to uint16, or zero where there were none. A pixel is valid only if all bands have
// at least one observation. Can only be called once
func (a *Accumulator) Finalize() (*raster.Image, error) {
	if a.finalized {
		return nil, errFinalized
	}
	a.finalized = true

	n := a.Width * a.Height
	alpha := raster.NewFullMask(a.Width, a.Height)
	bands := make([]*raster.Band, len(a.Sum))
	for b := range a.Sum {
		band := raster.NewBand(a.Width, a.Height, nil)
		sum, freq := a.Sum[b], a.Freq[b]
		for i := 0; i < n; i++ {
			if freq[i] == 0 {
				alpha.Data[i] = 0
				continue
			}
			band.Data[i] = uint16(math.Min(sum[i]/float64(freq[i]), math.MaxUint16))
		}
		bands[b] = band
	}
	a.Sum, a.Freq = nil, nil
	return raster.NewImage(bands, alpha, a.Metadata.Clone())
}
