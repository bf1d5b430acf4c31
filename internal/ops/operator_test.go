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

package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/fileaccess"
	"github.com/mlnoga/radnorm/internal/raster"
)

func testImage(t *testing.T, id int, value uint16) *raster.Image {
	t.Helper()
	band := raster.NewBand(4, 3, nil)
	for i := range band.Data {
		band.Data[i] = value + uint16(i)
	}
	img, err := raster.NewImage([]*raster.Band{band}, nil, raster.Metadata{})
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	img.ID = id
	return img
}

func promiseOf(img *raster.Image) Promise {
	return func() (*raster.Image, error) { return img, nil }
}

func TestMaterializeAll(t *testing.T) {
	ins := []Promise{
		promiseOf(testImage(t, 0, 10)),
		func() (*raster.Image, error) { return nil, errors.New("broken") },
		promiseOf(testImage(t, 2, 30)),
	}
	outs, err := MaterializeAll(ins, 2, false)
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("got %v; want error from second promise", err)
	}
	if len(outs) != 2 || outs[0].ID != 0 || outs[1].ID != 2 {
		t.Errorf("got %d outputs; want ids 0 and 2", len(outs))
	}

	outs, err = MaterializeAll(ins[:1], 1, true)
	if err != nil || len(outs) != 0 {
		t.Errorf("forget: got %v %v; want no outputs and no error", outs, err)
	}
}

func TestRemoveNils(t *testing.T) {
	a, b := testImage(t, 1, 0), testImage(t, 2, 0)
	res := RemoveNils([]*raster.Image{nil, a, nil, b})
	if len(res) != 2 || res[0] != a || res[1] != b {
		t.Errorf("got %v", res)
	}
}

func TestPathAllowed(t *testing.T) {
	cases := map[string]bool{
		"scene.fits":       true,
		"sub/scene.fits":   true,
		"/etc/passwd":      false,
		"../scene.fits":    false,
		"s3://b/scene.fit": true,
	}
	for p, want := range cases {
		if got := isPathAllowed(p); got != want {
			t.Errorf("isPathAllowed(%s)=%v; want %v", p, got, want)
		}
	}
}

func TestLoadSaveSequence(t *testing.T) {
	dir := t.TempDir()
	c := NewContext(io.Discard, fileaccess.LocalFileSystem{}, nil)
	for i := 0; i < 3; i++ {
		img := testImage(t, i, uint16(100*i))
		if err := raster.Save(c.Store, img, filepath.Join(dir, "in", "img"+string(rune('a'+i))+".fits"), io.Discard); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	nodata := uint16(100)
	seq := NewOpSequence(
		NewOpLoadMany([]string{filepath.Join(dir, "in", "*.fits")}, &nodata),
		NewOpForEach(NewOpSave(filepath.Join(dir, "out", "copy%d.fits"))),
	)
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		t.Fatalf("make promises: %v", err)
	}
	imgs, err := MaterializeAll(promises, 2, false)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(imgs) != 3 {
		t.Fatalf("got %d images; want 3", len(imgs))
	}
	if imgs[1].Alpha.Data[0] != 0 || imgs[1].Alpha.Data[1] == 0 {
		t.Errorf("nodata not applied: alpha %v", imgs[1].Alpha.Data[:2])
	}
	written, err := c.Store.ListObjects(filepath.Join(dir, "out", "*.fits"))
	if err != nil || len(written) != 3 {
		t.Errorf("got %v %v; want three written files", written, err)
	}
}

func TestSandboxedLoad(t *testing.T) {
	c := NewContext(io.Discard, nil, nil)
	c.Sandboxed = true
	if _, err := NewOpLoad(0, "/etc/passwd", nil).MakePromises(nil, c); err == nil {
		t.Errorf("expected error for absolute path")
	}
	c.Sandboxed = false
	promises, err := NewOpLoad(0, filepath.Join(t.TempDir(), "missing.fits"), nil).MakePromises(nil, c)
	if err != nil {
		t.Fatalf("got %v", err)
	}
	if _, err := promises[0](); !errors.Is(err, errs.ErrIOFailure) {
		t.Errorf("got %v; want IO failure", err)
	}
}

func TestSequenceJSON(t *testing.T) {
	seq := NewOpSequence(
		NewOpLoadMany([]string{"*.fits"}, nil),
		NewOpForEach(NewOpSave("out%d.fits")),
	)
	data, err := json.Marshal(seq)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var res OpSequence
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("got %d steps; want 2", len(res.Steps))
	}
	lm, ok := res.Steps[0].(*OpLoadMany)
	if !ok || len(lm.FilePatterns) != 1 || lm.FilePatterns[0] != "*.fits" {
		t.Errorf("step 0 got %#v", res.Steps[0])
	}
	fe, ok := res.Steps[1].(*OpForEach)
	if !ok {
		t.Fatalf("step 1 got %#v", res.Steps[1])
	}
	save, ok := fe.Operation.(*OpSave)
	if !ok || save.FilePattern != "out%d.fits" || !save.Active {
		t.Errorf("forEach operation got %#v", fe.Operation)
	}
	if save.OpUnaryBase.Apply == nil {
		t.Errorf("save apply not bound after unmarshal")
	}

	var bad OpSequence
	if err := json.Unmarshal([]byte(`{"type":"seq","steps":[{"type":"nope"}]}`), &bad); err == nil {
		t.Errorf("expected error for unknown operator")
	}
}

func TestSaveLogs(t *testing.T) {
	log := bytes.Buffer{}
	c := NewContext(&log, nil, nil)
	img := testImage(t, 7, 1)
	if _, err := NewOpSave(filepath.Join(t.TempDir(), "x%d.tif")).Apply(img, c); err != nil {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(log.String(), "7: Writing 4x3x1 pixel image to") || !strings.Contains(log.String(), "x7.tif") {
		t.Errorf("got log %q", log.String())
	}
}

func TestSaveFromJSON(t *testing.T) {
	dir := t.TempDir()
	fa := fileaccess.LocalFileSystem{}
	c := NewContext(io.Discard, fa, nil)

	fn := filepath.Join(dir, "out.fits")
	op, err := UnmarshalOperator([]byte(`{"type":"save","filePattern":` + quoteJSON(fn) + `}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !op.IsActive() {
		t.Errorf("save without active key is inactive")
	}
	outs, err := op.MakePromises([]Promise{promiseOf(testImage(t, 1, 10))}, c)
	if err != nil {
		t.Fatalf("make promises: %v", err)
	}
	if _, err := outs[0](); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := fa.ReadObject(fn); err != nil {
		t.Errorf("got %v; want file written", err)
	}

	off := filepath.Join(dir, "off.fits")
	op, err = UnmarshalOperator([]byte(`{"type":"save","active":false,"filePattern":` + quoteJSON(off) + `}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	outs, _ = op.MakePromises([]Promise{promiseOf(testImage(t, 2, 10))}, c)
	if _, err := outs[0](); err != nil {
		t.Fatalf("inactive save: %v", err)
	}
	if _, err := fa.ReadObject(off); !errors.Is(err, errs.ErrIOFailure) {
		t.Errorf("got %v; want nothing written for inactive save", err)
	}
}

func quoteJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
