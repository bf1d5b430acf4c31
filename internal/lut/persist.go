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

package lut

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/fileaccess"
	"github.com/mlnoga/radnorm/internal/transform"
)

const magic = "RNLUT001"

// Writes lookup tables in binary form: magic, band count, then the big-endian
// table entries band by band
func Write(w io.Writer, luts []LUT) error {
	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(luts))); err != nil {
		return err
	}
	for b, l := range luts {
		if len(l) != Size {
			return fmt.Errorf("%w: band %d table has %d entries", errs.ErrTypeMismatch, b, len(l))
		}
		if err := binary.Write(w, binary.BigEndian, []uint16(l)); err != nil {
			return err
		}
	}
	return nil
}

// Reads lookup tables written by Write
func Read(r io.Reader) ([]LUT, error) {
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if string(header) != magic {
		return nil, fmt.Errorf("%w: not a lookup table file", errs.ErrTypeMismatch)
	}
	var numBands uint32
	if err := binary.Read(r, binary.BigEndian, &numBands); err != nil {
		return nil, err
	}
	if numBands > 1024 {
		return nil, fmt.Errorf("%w: implausible band count %d", errs.ErrTypeMismatch, numBands)
	}
	luts := make([]LUT, numBands)
	for b := range luts {
		luts[b] = make(LUT, Size)
		if err := binary.Read(r, binary.BigEndian, []uint16(luts[b])); err != nil {
			return nil, err
		}
	}
	return luts, nil
}

// Saves lookup tables, compressing with zstd or gzip for .zst and .gz suffixes
func Save(fa fileaccess.FileAccess, fileName string, luts []LUT) error {
	buf := bytes.Buffer{}
	if err := Write(&buf, luts); err != nil {
		return errs.IO("write", fileName, err)
	}
	data := buf.Bytes()

	switch compression(fileName) {
	case "zst":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return errs.IO("write", fileName, err)
		}
		data = enc.EncodeAll(data, nil)
		enc.Close()
	case "gz":
		zbuf := bytes.Buffer{}
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(data); err != nil {
			return errs.IO("write", fileName, err)
		}
		if err := zw.Close(); err != nil {
			return errs.IO("write", fileName, err)
		}
		data = zbuf.Bytes()
	}
	return fa.WriteObject(fileName, data)
}

// Loads lookup tables saved with Save
func Load(fa fileaccess.FileAccess, fileName string) ([]LUT, error) {
	data, err := fa.ReadObject(fileName)
	if err != nil {
		return nil, err
	}

	var r io.Reader = bytes.NewReader(data)
	switch compression(fileName) {
	case "zst":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errs.IO("read", fileName, err)
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, errs.IO("read", fileName, err)
		}
		r = bytes.NewReader(raw)
	case "gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errs.IO("read", fileName, err)
		}
		defer zr.Close()
		r = zr
	}

	luts, err := Read(r)
	if err != nil {
		return nil, errs.IO("read", fileName, err)
	}
	return luts, nil
}

func compression(fileName string) string {
	l := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(l, ".zst"), strings.HasSuffix(l, ".zstd"):
		return "zst"
	case strings.HasSuffix(l, ".gz"), strings.HasSuffix(l, ".gzip"):
		return "gz"
	}
	return ""
}

// Saves transformations as a JSON array of gain and offset pairs
func SaveTransformations(fa fileaccess.FileAccess, fileName string, ts []transform.LinearTransformation) error {
	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return errs.IO("write", fileName, err)
	}
	return fa.WriteObject(fileName, data)
}

// Loads transformations saved with SaveTransformations
func LoadTransformations(fa fileaccess.FileAccess, fileName string) ([]transform.LinearTransformation, error) {
	data, err := fa.ReadObject(fileName)
	if err != nil {
		return nil, err
	}
	var ts []transform.LinearTransformation
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, errs.IO("read", fileName, err)
	}
	return ts, nil
}
