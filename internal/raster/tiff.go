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
	"image"
	"image/color"
	"io"

	"golang.org/x/image/tiff"
)

// Reads a grayscale or color TIFF image. Grayscale yields one band, color three bands.
// An alpha channel becomes the image alpha, else all pixels are valid.
func ReadTIFF(r io.Reader, id int) (*Image, error) {
	t, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%d: decoding TIFF: %w", id, err)
	}
	bounds := t.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var bands []*Band
	alpha := NewFullMask(width, height)
	switch img := t.(type) {
	case *image.Gray16:
		bands = []*Band{NewBand(width, height, nil)}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				bands[0].Data[y*width+x] = img.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y
			}
		}
	case *image.Gray:
		bands = []*Band{NewBand(width, height, nil)}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				bands[0].Data[y*width+x] = uint16(img.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y) * 257
			}
		}
	case *image.NRGBA64, *image.NRGBA:
		// unassociated alpha, color values are straight
		bands = newBands(3, width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c := color.NRGBA64Model.Convert(t.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA64)
				i := y*width + x
				bands[0].Data[i], bands[1].Data[i], bands[2].Data[i] = c.R, c.G, c.B
				alpha.Data[i] = c.A
			}
		}
	case *image.RGBA64, *image.RGBA:
		// associated alpha, undo the premultiplication
		bands = newBands(3, width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, g, b, a := t.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				i := y*width + x
				if a > 0 && a < 0xffff {
					r, g, b = r*0xffff/a, g*0xffff/a, b*0xffff/a
				}
				bands[0].Data[i], bands[1].Data[i], bands[2].Data[i] = uint16(r), uint16(g), uint16(b)
				alpha.Data[i] = uint16(a)
			}
		}
	default:
		return nil, fmt.Errorf("%d: unsupported TIFF color model %T", id, t)
	}

	res, err := NewImage(bands, alpha, Metadata{})
	if err != nil {
		return nil, err
	}
	res.ID = id
	return res, nil
}

func newBands(n, width, height int) []*Band {
	bands := make([]*Band, n)
	for i := range bands {
		bands[i] = NewBand(width, height, nil)
	}
	return bands
}

// Writes an image as 16-bit TIFF. One band is written as grayscale without alpha,
// three bands as RGB with unassociated alpha. Returns an error for other band counts.
// Georeferencing is not written.
func WriteTIFF(w io.Writer, img *Image, logWriter io.Writer) error {
	if err := img.Validate(); err != nil {
		return err
	}
	width, height := img.Width(), img.Height()
	rect := image.Rectangle{image.Point{0, 0}, image.Point{width, height}}

	var out image.Image
	switch len(img.Bands) {
	case 1:
		if img.Alpha.Count() != img.Pixels() {
			fmt.Fprintf(logWriter, "%d: Warning: grayscale TIFF cannot hold alpha, %d invalid pixels written as data\n",
				img.ID, img.Pixels()-img.Alpha.Count())
		}
		gray := image.NewGray16(rect)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				gray.SetGray16(x, y, color.Gray16{img.Bands[0].Data[y*width+x]})
			}
		}
		out = gray
	case 3:
		rgba := image.NewNRGBA64(rect)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				i := y*width + x
				rgba.SetNRGBA64(x, y, color.NRGBA64{img.Bands[0].Data[i], img.Bands[1].Data[i], img.Bands[2].Data[i], img.Alpha.Data[i]})
			}
		}
		out = rgba
	default:
		return fmt.Errorf("%d: cannot write %d bands as TIFF, use FITS instead", img.ID, len(img.Bands))
	}
	return tiff.Encode(w, out, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
