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

package raster

import (
	"fmt"
	"math"
	"strings"

	"github.com/mlnoga/radnorm/internal/errs"
)

// Maximum mask weight, marking a fully valid pixel
const MaskFull uint16 = math.MaxUint16

// A single band of unsigned 16-bit samples, row-major, most quickly varying dimension first (i.e. X,Y).
// Not modified once a stage has returned it.
type Band struct {
	Width  int
	Height int
	Data   []uint16
}

// Creates a band with the given dimensions. Data is not copied, allocated if nil
func NewBand(width, height int, data []uint16) *Band {
	if data == nil {
		data = make([]uint16, width*height)
	}
	return &Band{Width: width, Height: height, Data: data}
}

// Returns a deep copy of the band
func (b *Band) Clone() *Band {
	return NewBand(b.Width, b.Height, append([]uint16(nil), b.Data...))
}

func (b *Band) At(x, y int) uint16 { return b.Data[y*b.Width+x] }

// A band of float64 samples, for unquantized diagnostic output
type FloatBand struct {
	Width  int
	Height int
	Data   []float64
}

// An alpha mask. Zero is invalid, any other value is a validity weight up to MaskFull
type Mask struct {
	Width  int
	Height int
	Data   []uint16
}

// Creates a mask with the given dimensions. Data is not copied, allocated if nil
func NewMask(width, height int, data []uint16) *Mask {
	if data == nil {
		data = make([]uint16, width*height)
	}
	return &Mask{Width: width, Height: height, Data: data}
}

// Creates a mask with all pixels fully valid
func NewFullMask(width, height int) *Mask {
	m := NewMask(width, height, nil)
	for i := range m.Data {
		m.Data[i] = MaskFull
	}
	return m
}

func (m *Mask) Valid(i int) bool { return m.Data[i] > 0 }

// Number of valid pixels
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v > 0 {
			n++
		}
	}
	return n
}

// Returns a new mask valid where both masks are valid, carrying the weights of m
func (m *Mask) And(o *Mask) (*Mask, error) {
	if m.Width != o.Width || m.Height != o.Height {
		return nil, errs.Shape("mask %dx%d vs %dx%d", m.Width, m.Height, o.Width, o.Height)
	}
	res := NewMask(m.Width, m.Height, nil)
	for i, v := range m.Data {
		if o.Data[i] > 0 {
			res.Data[i] = v
		}
	}
	return res, nil
}

// Returns a deep copy of the mask
func (m *Mask) Clone() *Mask {
	return NewMask(m.Width, m.Height, append([]uint16(nil), m.Data...))
}

// Georeferencing information. Forwarded between images, never interpreted
type Metadata struct {
	HasGeoTransform bool
	GeoTransform    [6]float64
	Projection      string
	RPC             map[string]string
}

// Returns true if both metadata blocks carry the same information
func (md Metadata) Equal(o Metadata) bool {
	if md.HasGeoTransform != o.HasGeoTransform || md.Projection != o.Projection || len(md.RPC) != len(o.RPC) {
		return false
	}
	if md.HasGeoTransform && md.GeoTransform != o.GeoTransform {
		return false
	}
	for k, v := range md.RPC {
		if ov, ok := o.RPC[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Returns a deep copy of the metadata
func (md Metadata) Clone() Metadata {
	res := md
	if md.RPC != nil {
		res.RPC = make(map[string]string, len(md.RPC))
		for k, v := range md.RPC {
			res.RPC[k] = v
		}
	}
	return res
}

// A multi-band image with one shared alpha mask and opaque metadata
type Image struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output

	Bands    []*Band  // Ordered bands. Order must agree across compared images
	Alpha    *Mask    // Validity mask shared by all bands
	Metadata Metadata // Georeferencing, passed through unexamined
}

// Creates an image from the given bands. A nil alpha is replaced with a fully valid mask
func NewImage(bands []*Band, alpha *Mask, md Metadata) (*Image, error) {
	if len(bands) == 0 {
		return nil, errs.Shape("image without bands")
	}
	if alpha == nil {
		alpha = NewFullMask(bands[0].Width, bands[0].Height)
	}
	img := &Image{Bands: bands, Alpha: alpha, Metadata: md}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// Checks the single image invariants: at least one band, all bands and the alpha share one shape
func (img *Image) Validate() error {
	if len(img.Bands) == 0 {
		return errs.Shape("%d: image without bands", img.ID)
	}
	w, h := img.Bands[0].Width, img.Bands[0].Height
	for i, b := range img.Bands {
		if b.Width != w || b.Height != h || len(b.Data) != w*h {
			return errs.Shape("%d: band %d is %dx%d with %d samples, expected %dx%d",
				img.ID, i, b.Width, b.Height, len(b.Data), w, h)
		}
	}
	if img.Alpha == nil {
		return errs.Shape("%d: image without alpha", img.ID)
	}
	if img.Alpha.Width != w || img.Alpha.Height != h || len(img.Alpha.Data) != w*h {
		return errs.Shape("%d: alpha is %dx%d, expected %dx%d", img.ID, img.Alpha.Width, img.Alpha.Height, w, h)
	}
	return nil
}

func (img *Image) Width() int    { return img.Bands[0].Width }
func (img *Image) Height() int   { return img.Bands[0].Height }
func (img *Image) Pixels() int   { return img.Bands[0].Width * img.Bands[0].Height }
func (img *Image) NumBands() int { return len(img.Bands) }

// Returns a new image with the same bands and metadata, and the given alpha
func (img *Image) WithAlpha(alpha *Mask) (*Image, error) {
	res := &Image{ID: img.ID, FileName: img.FileName, Bands: img.Bands, Alpha: alpha, Metadata: img.Metadata}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

func (img *Image) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%d", img.Width(), img.Height(), len(img.Bands))
}

// Checks that all images have equal band count and band shape, and optionally equal metadata
func CheckComparable(images []*Image, checkMetadata bool) error {
	if len(images) == 0 {
		return nil
	}
	first := images[0]
	if err := first.Validate(); err != nil {
		return err
	}
	for _, img := range images[1:] {
		if err := img.Validate(); err != nil {
			return err
		}
		if len(img.Bands) != len(first.Bands) {
			return errs.Shape("%d: %d bands, but %d: %d bands", img.ID, len(img.Bands), first.ID, len(first.Bands))
		}
		if img.Width() != first.Width() || img.Height() != first.Height() {
			return errs.Shape("%d: %dx%d pixels, but %d: %dx%d pixels",
				img.ID, img.Width(), img.Height(), first.ID, first.Width(), first.Height())
		}
		if checkMetadata && !img.Metadata.Equal(first.Metadata) {
			return errs.Shape("%d: metadata differs from %d", img.ID, first.ID)
		}
	}
	return nil
}

// Returns a new image where every pixel with any band equal to nodata is marked invalid
func ApplyNoData(img *Image, nodata uint16) *Image {
	alpha := img.Alpha.Clone()
	for _, b := range img.Bands {
		for i, v := range b.Data {
			if v == nodata {
				alpha.Data[i] = 0
			}
		}
	}
	return &Image{ID: img.ID, FileName: img.FileName, Bands: img.Bands, Alpha: alpha, Metadata: img.Metadata}
}

// Formats a short summary of the metadata for log output
func (md Metadata) String() string {
	parts := []string{}
	if md.HasGeoTransform {
		parts = append(parts, fmt.Sprintf("geotransform %v", md.GeoTransform))
	}
	if md.Projection != "" {
		p := md.Projection
		if len(p) > 32 {
			p = p[:32] + "..."
		}
		parts = append(parts, "projection "+p)
	}
	if len(md.RPC) > 0 {
		parts = append(parts, fmt.Sprintf("%d RPC entries", len(md.RPC)))
	}
	if len(parts) == 0 {
		return "no georeferencing"
	}
	return strings.Join(parts, ", ")
}
