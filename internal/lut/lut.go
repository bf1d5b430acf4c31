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

// Package lut turns linear transformations into 16-bit lookup tables and applies
// them to image bands.
package lut

import (
	"math"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/raster"
	"github.com/mlnoga/radnorm/internal/transform"
)

// Number of entries in a lookup table, one per 16-bit input value
const Size = 1 << 16

// Lookup table from 16-bit input values to 16-bit output values
type LUT []uint16

// Builds the lookup table for a transformation. Results are clipped to the
// 16-bit range and truncated toward zero
func Build(t transform.LinearTransformation) LUT {
	l := make(LUT, Size)
	for i := range l {
		v := t.Apply(float64(i))
		switch {
		case math.IsNaN(v), v <= 0:
			l[i] = 0
		case v >= math.MaxUint16:
			l[i] = math.MaxUint16
		default:
			l[i] = uint16(v)
		}
	}
	return l
}

// Builds one lookup table per transformation
func BuildAll(ts []transform.LinearTransformation) []LUT {
	res := make([]LUT, len(ts))
	for i, t := range ts {
		res[i] = Build(t)
	}
	return res
}

// Number of pixels per parallel work item, so that input, output and table
// share the L2 cache
func chunkSize() int {
	l2 := cpuid.CPU.Cache.L2
	if l2 <= 0 {
		l2 = 256 * 1024
	}
	pixels := (l2 - 2*Size) / 4
	if pixels < 16*1024 {
		pixels = 16 * 1024
	}
	return pixels
}

// Applies the lookup table to all pixels of a band, returning a new band
func Apply(band *raster.Band, l LUT) (*raster.Band, error) {
	if len(l) != Size {
		return nil, errs.ErrTypeMismatch
	}
	res := raster.NewBand(band.Width, band.Height, nil)
	src, dest := band.Data, res.Data

	chunk := chunkSize()
	if len(src) <= chunk {
		for i, v := range src {
			dest[i] = l[v]
		}
		return res, nil
	}

	sem := make(chan bool, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup
	for start := 0; start < len(src); start += chunk {
		end := start + chunk
		if end > len(src) {
			end = len(src)
		}
		wg.Add(1)
		sem <- true
		go func(s, d []uint16) {
			defer func() { <-sem; wg.Done() }()
			for i, v := range s {
				d[i] = l[v]
			}
		}(src[start:end], dest[start:end])
	}
	wg.Wait()
	return res, nil
}

// Applies one lookup table per band. Alpha and metadata are kept
func ApplyImage(img *raster.Image, luts []LUT) (*raster.Image, error) {
	if len(luts) != len(img.Bands) {
		return nil, errs.Shape("%d lookup tables for %d bands", len(luts), len(img.Bands))
	}
	bands := make([]*raster.Band, len(img.Bands))
	for b, band := range img.Bands {
		var err error
		if bands[b], err = Apply(band, luts[b]); err != nil {
			return nil, err
		}
	}
	res, err := raster.NewImage(bands, img.Alpha.Clone(), img.Metadata.Clone())
	if err != nil {
		return nil, err
	}
	res.ID, res.FileName = img.ID, img.FileName
	return res, nil
}

// Applies a transformation without quantization or clipping
func ApplyDirect(band *raster.Band, t transform.LinearTransformation) *raster.FloatBand {
	res := &raster.FloatBand{Width: band.Width, Height: band.Height, Data: make([]float64, len(band.Data))}
	for i, v := range band.Data {
		res.Data[i] = t.Apply(float64(v))
	}
	return res
}
