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
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/fileaccess"
	"github.com/mlnoga/radnorm/internal/raster"
	"github.com/mlnoga/radnorm/internal/transform"
)

func TestBuildOffsetClips(t *testing.T) {
	l := Build(transform.LinearTransformation{Gain: 1, Offset: 2})
	if len(l) != Size {
		t.Fatalf("got %d entries; want %d", len(l), Size)
	}
	for i := 0; i < Size; i++ {
		want := uint16(65535)
		if i < 65534 {
			want = uint16(i + 2)
		}
		if l[i] != want {
			t.Fatalf("lut[%d]=%d; want %d", i, l[i], want)
		}
	}
}

func TestBuildTruncatesAndClipsLow(t *testing.T) {
	l := Build(transform.LinearTransformation{Gain: 0.5, Offset: -10})
	cases := map[int]uint16{0: 0, 20: 0, 21: 0, 22: 1, 23: 1, 65535: 32757}
	for in, want := range cases {
		if l[in] != want {
			t.Errorf("lut[%d]=%d; want %d", in, l[in], want)
		}
	}
	nan := Build(transform.LinearTransformation{Gain: math.NaN(), Offset: 0})
	if nan[100] != 0 {
		t.Errorf("NaN maps to %d; want 0", nan[100])
	}
	huge := Build(transform.LinearTransformation{Gain: 1e9, Offset: 0})
	if huge[0] != 0 || huge[1] != 65535 {
		t.Errorf("got %d %d; want 0 65535", huge[0], huge[1])
	}
}

func TestApplyLargeBand(t *testing.T) {
	rng := fastrand.RNG{}
	band := raster.NewBand(1000, 700, nil)
	for i := range band.Data {
		band.Data[i] = uint16(rng.Uint32n(Size))
	}
	tr := transform.LinearTransformation{Gain: 1.3, Offset: -500}
	l := Build(tr)
	res, err := Apply(band, l)
	if err != nil {
		t.Fatalf("got %v", err)
	}
	direct := ApplyDirect(band, tr)
	for i, v := range band.Data {
		if res.Data[i] != l[v] {
			t.Fatalf("pixel %d=%d; want %d", i, res.Data[i], l[v])
		}
		clipped := math.Max(0, math.Min(65535, direct.Data[i]))
		if math.Abs(float64(res.Data[i])-clipped) >= 1 {
			t.Fatalf("pixel %d quantized %d vs direct %f", i, res.Data[i], direct.Data[i])
		}
	}
}

func TestApplyTypeMismatch(t *testing.T) {
	band := raster.NewBand(2, 2, nil)
	if _, err := Apply(band, make(LUT, 256)); !errors.Is(err, errs.ErrTypeMismatch) {
		t.Errorf("got %v; want type mismatch", err)
	}
}

func TestApplyImage(t *testing.T) {
	b0 := raster.NewBand(2, 1, []uint16{10, 20})
	b1 := raster.NewBand(2, 1, []uint16{30, 40})
	alpha := raster.NewMask(2, 1, []uint16{0, 65535})
	img, _ := raster.NewImage([]*raster.Band{b0, b1}, alpha, raster.Metadata{Projection: "EPSG:3857"})

	luts := BuildAll([]transform.LinearTransformation{{Gain: 2, Offset: 0}, {Gain: 1, Offset: -5}})
	res, err := ApplyImage(img, luts)
	if err != nil {
		t.Fatalf("got %v", err)
	}
	if res.Bands[0].Data[1] != 40 || res.Bands[1].Data[0] != 25 {
		t.Errorf("got %v %v", res.Bands[0].Data, res.Bands[1].Data)
	}
	if res.Alpha.Data[0] != 0 || res.Metadata.Projection != "EPSG:3857" {
		t.Errorf("alpha or metadata not preserved")
	}
	if b0.Data[1] != 20 {
		t.Errorf("input modified")
	}
	if _, err := ApplyImage(img, luts[:1]); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("got %v; want shape mismatch", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	luts := BuildAll([]transform.LinearTransformation{{Gain: 1.1, Offset: -3}, {Gain: 0.7, Offset: 99}, {Gain: 1, Offset: 0}})
	dir := t.TempDir()
	fa := fileaccess.LocalFileSystem{}
	for _, name := range []string{"t.lut", "t.lut.zst", "t.lut.gz"} {
		fn := filepath.Join(dir, name)
		if err := Save(fa, fn, luts); err != nil {
			t.Fatalf("%s: save %v", name, err)
		}
		res, err := Load(fa, fn)
		if err != nil {
			t.Fatalf("%s: load %v", name, err)
		}
		if len(res) != len(luts) {
			t.Fatalf("%s: got %d tables; want %d", name, len(res), len(luts))
		}
		for b := range luts {
			for i := range luts[b] {
				if res[b][i] != luts[b][i] {
					t.Fatalf("%s: band %d entry %d=%d; want %d", name, b, i, res[b][i], luts[b][i])
				}
			}
		}
	}

	buf := bytes.Buffer{}
	if err := Write(&buf, luts); err != nil {
		t.Fatalf("write: %v", err)
	}
	if want := len(magic) + 4 + 3*2*Size; buf.Len() != want {
		t.Errorf("binary size %d; want %d", buf.Len(), want)
	}
	if _, err := Read(bytes.NewReader([]byte("NOTALUT0...."))); !errors.Is(err, errs.ErrTypeMismatch) {
		t.Errorf("got %v; want type mismatch", err)
	}
}

func TestTransformationsJSON(t *testing.T) {
	fa := fileaccess.LocalFileSystem{}
	fn := filepath.Join(t.TempDir(), "t.json")
	ts := []transform.LinearTransformation{{Gain: 1.25, Offset: -7.5}, transform.Identity()}
	if err := SaveTransformations(fa, fn, ts); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := LoadTransformations(fa, fn)
	if err != nil || len(res) != 2 || res[0] != ts[0] || res[1] != ts[1] {
		t.Errorf("got %v %v; want %v", res, err, ts)
	}
}
