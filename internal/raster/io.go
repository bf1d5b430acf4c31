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
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/fileaccess"
)

// Raster file formats, selected by file name suffix
type Format int

const (
	FormatUnknown Format = iota
	FormatFITS
	FormatTIFF
)

// Determines the format of a file name, and whether it is gzip compressed
func FormatOf(fileName string) (format Format, gzipped bool) {
	fnLower := strings.ToLower(fileName)
	if strings.HasSuffix(fnLower, ".gz") || strings.HasSuffix(fnLower, ".gzip") {
		gzipped = true
		fnLower = fnLower[:strings.LastIndex(fnLower, ".")]
	}
	switch {
	case strings.HasSuffix(fnLower, ".fits"), strings.HasSuffix(fnLower, ".fit"), strings.HasSuffix(fnLower, ".fts"):
		return FormatFITS, gzipped
	case strings.HasSuffix(fnLower, ".tif"), strings.HasSuffix(fnLower, ".tiff"):
		return FormatTIFF, gzipped
	}
	return FormatUnknown, gzipped
}

// Decodes an image from raw file contents, using the format implied by the file name
func Decode(data []byte, fileName string, id int, logWriter io.Writer) (*Image, error) {
	format, gzipped := FormatOf(fileName)
	var r io.Reader = bytes.NewReader(data)
	if gzipped {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errs.IO("read", fileName, err)
		}
		defer zr.Close()
		r = zr
	}

	var img *Image
	var err error
	switch format {
	case FormatFITS:
		img, err = ReadFITS(r, id, logWriter)
	case FormatTIFF:
		img, err = ReadTIFF(r, id)
	default:
		return nil, errs.IO("read", fileName, fmt.Errorf("unknown suffix"))
	}
	if err != nil {
		return nil, errs.IO("read", fileName, err)
	}
	img.FileName = fileName
	return img, nil
}

// Encodes an image into file contents, using the format implied by the file name
func Encode(img *Image, fileName string, logWriter io.Writer) ([]byte, error) {
	format, gzipped := FormatOf(fileName)
	buf := bytes.Buffer{}
	var w io.Writer = &buf
	var zw *gzip.Writer
	if gzipped {
		zw = gzip.NewWriter(&buf)
		w = zw
	}

	var err error
	switch format {
	case FormatFITS:
		err = WriteFITS(w, img)
	case FormatTIFF:
		err = WriteTIFF(w, img, logWriter)
	default:
		err = fmt.Errorf("unknown suffix")
	}
	if err != nil {
		return nil, errs.IO("write", fileName, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, errs.IO("write", fileName, err)
		}
	}
	return buf.Bytes(), nil
}

// Loads an image through the given object store. If nodata is not nil,
// pixels where any band equals it are marked invalid
func Load(fa fileaccess.FileAccess, fileName string, id int, nodata *uint16, logWriter io.Writer) (*Image, error) {
	data, err := fa.ReadObject(fileName)
	if err != nil {
		return nil, err
	}
	img, err := Decode(data, fileName, id, logWriter)
	if err != nil {
		return nil, err
	}
	if nodata != nil {
		img = ApplyNoData(img, *nodata)
	}
	return img, nil
}

// Saves an image through the given object store
func Save(fa fileaccess.FileAccess, img *Image, fileName string, logWriter io.Writer) error {
	data, err := Encode(img, fileName, logWriter)
	if err != nil {
		return err
	}
	return fa.WriteObject(fileName, data)
}
