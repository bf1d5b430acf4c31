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
	"errors"
	"testing"

	"github.com/mlnoga/radnorm/internal/errs"
)

func mustImage(t *testing.T, w, h, bands int, md Metadata) *Image {
	t.Helper()
	bs := make([]*Band, bands)
	for b := range bs {
		bs[b] = NewBand(w, h, nil)
		for i := range bs[b].Data {
			bs[b].Data[i] = uint16(b*1000 + i)
		}
	}
	img, err := NewImage(bs, nil, md)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	return img
}

func TestNewImageInvariants(t *testing.T) {
	if _, err := NewImage(nil, nil, Metadata{}); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("no bands: got %v; want shape mismatch", err)
	}
	bands := []*Band{NewBand(2, 2, nil), NewBand(3, 2, nil)}
	if _, err := NewImage(bands, nil, Metadata{}); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("uneven bands: got %v; want shape mismatch", err)
	}
	if _, err := NewImage([]*Band{NewBand(2, 2, nil)}, NewFullMask(2, 3), Metadata{}); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("alpha shape: got %v; want shape mismatch", err)
	}
	img, err := NewImage([]*Band{NewBand(2, 2, nil)}, nil, Metadata{})
	if err != nil {
		t.Fatalf("got %v; want nil", err)
	}
	if img.Alpha.Count() != 4 {
		t.Errorf("default alpha count=%d; want 4", img.Alpha.Count())
	}
}

func TestCheckComparable(t *testing.T) {
	md := Metadata{Projection: "EPSG:32633"}
	a := mustImage(t, 4, 3, 2, md)
	b := mustImage(t, 4, 3, 2, md)
	if err := CheckComparable([]*Image{a, b}, true); err != nil {
		t.Errorf("got %v; want nil", err)
	}

	c := mustImage(t, 4, 3, 3, md)
	if err := CheckComparable([]*Image{a, c}, false); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("band count: got %v; want shape mismatch", err)
	}
	d := mustImage(t, 3, 4, 2, md)
	if err := CheckComparable([]*Image{a, d}, false); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("dimensions: got %v; want shape mismatch", err)
	}
	e := mustImage(t, 4, 3, 2, Metadata{Projection: "EPSG:4326"})
	if err := CheckComparable([]*Image{a, e}, false); err != nil {
		t.Errorf("metadata unchecked: got %v; want nil", err)
	}
	if err := CheckComparable([]*Image{a, e}, true); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("metadata checked: got %v; want shape mismatch", err)
	}
}

func TestMaskAnd(t *testing.T) {
	m := NewMask(2, 2, []uint16{100, 0, 65535, 7})
	o := NewMask(2, 2, []uint16{1, 1, 0, 65535})
	res, err := m.And(o)
	if err != nil {
		t.Fatalf("got %v", err)
	}
	want := []uint16{100, 0, 0, 7}
	for i := range want {
		if res.Data[i] != want[i] {
			t.Errorf("And[%d]=%d; want %d", i, res.Data[i], want[i])
		}
	}
	if _, err := m.And(NewMask(1, 4, nil)); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("got %v; want shape mismatch", err)
	}
}

func TestApplyNoData(t *testing.T) {
	b0 := NewBand(3, 1, []uint16{0, 5, 7})
	b1 := NewBand(3, 1, []uint16{3, 0, 7})
	img, _ := NewImage([]*Band{b0, b1}, nil, Metadata{})
	res := ApplyNoData(img, 0)
	want := []uint16{0, 0, MaskFull}
	for i := range want {
		if res.Alpha.Data[i] != want[i] {
			t.Errorf("alpha[%d]=%d; want %d", i, res.Alpha.Data[i], want[i])
		}
	}
	if img.Alpha.Data[0] != MaskFull {
		t.Errorf("input alpha was modified")
	}
}

func TestMetadataEqual(t *testing.T) {
	a := Metadata{HasGeoTransform: true, GeoTransform: [6]float64{1, 2, 3, 4, 5, 6}, RPC: map[string]string{"LINE_OFF": "1"}}
	b := a.Clone()
	if !a.Equal(b) {
		t.Errorf("clone not equal")
	}
	b.RPC["LINE_OFF"] = "2"
	if a.Equal(b) || a.RPC["LINE_OFF"] != "1" {
		t.Errorf("clone shares RPC map or compares equal after change")
	}
}
