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

package timestack

import (
	"errors"
	"testing"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/metrics"
	"github.com/mlnoga/radnorm/internal/raster"
)

func newImage(t *testing.T, id int, alpha []uint16, md raster.Metadata, bands ...[]uint16) *raster.Image {
	t.Helper()
	bs := make([]*raster.Band, len(bands))
	for i, b := range bands {
		bs[i] = raster.NewBand(len(b), 1, b)
	}
	var mask *raster.Mask
	if alpha != nil {
		mask = raster.NewMask(len(alpha), 1, alpha)
	}
	img, err := raster.NewImage(bs, mask, md)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	img.ID = id
	return img
}

func loadersOf(imgs ...*raster.Image) []Loader {
	res := make([]Loader, len(imgs))
	for i, img := range imgs {
		img := img
		res[i] = func() (*raster.Image, error) { return img, nil }
	}
	return res
}

func TestIdenticalImages(t *testing.T) {
	md := raster.Metadata{Projection: "EPSG:32633"}
	imgs := []*raster.Image{}
	for i := 0; i < 3; i++ {
		imgs = append(imgs, newImage(t, i, nil, md, []uint16{1, 500, 65535}, []uint16{7, 8, 9}))
	}
	res, err := Composite(loadersOf(imgs...), Options{CheckMetadata: true})
	if err != nil {
		t.Fatalf("got %v", err)
	}
	for b := range imgs[0].Bands {
		for i, v := range imgs[0].Bands[b].Data {
			if res.Bands[b].Data[i] != v {
				t.Errorf("band %d pixel %d=%d; want %d", b, i, res.Bands[b].Data[i], v)
			}
		}
	}
	if res.Alpha.Count() != 3 || res.Metadata.Projection != "EPSG:32633" {
		t.Errorf("alpha count %d metadata %v", res.Alpha.Count(), res.Metadata)
	}
}

func TestMeanTruncatesAndSkipsInvalid(t *testing.T) {
	a := newImage(t, 0, []uint16{65535, 65535, 0, 0}, raster.Metadata{}, []uint16{1, 10, 100, 5})
	b := newImage(t, 1, []uint16{65535, 0, 65535, 0}, raster.Metadata{}, []uint16{2, 20, 200, 6})
	rec := metrics.NewRecorder()
	res, err := Composite(loadersOf(a, b), Options{Observer: rec})
	if err != nil {
		t.Fatalf("got %v", err)
	}
	wantData := []uint16{1, 10, 200, 0}
	wantAlpha := []uint16{65535, 65535, 65535, 0}
	for i := range wantData {
		if res.Bands[0].Data[i] != wantData[i] || res.Alpha.Data[i] != wantAlpha[i] {
			t.Errorf("pixel %d got %d/%d; want %d/%d", i, res.Bands[0].Data[i], res.Alpha.Data[i], wantData[i], wantAlpha[i])
		}
	}
	if px := rec.Pixels[metrics.StageBand{Stage: "timestack", Band: 0}]; px.Valid != 3 || px.Total != 4 {
		t.Errorf("observed %+v; want 3 of 4 valid", px)
	}
}

func randomStack(t *testing.T, n, pixels int) []*raster.Image {
	rng := fastrand.RNG{}
	imgs := make([]*raster.Image, n)
	for k := range imgs {
		alpha := make([]uint16, pixels)
		b0 := make([]uint16, pixels)
		b1 := make([]uint16, pixels)
		for i := range alpha {
			if rng.Uint32n(5) != 0 {
				alpha[i] = 65535
			}
			b0[i] = uint16(rng.Uint32n(65536))
			b1[i] = uint16(rng.Uint32n(65536))
		}
		imgs[k] = newImage(t, k, alpha, raster.Metadata{}, b0, b1)
	}
	return imgs
}

func sameImage(t *testing.T, got, want *raster.Image) {
	t.Helper()
	for b := range want.Bands {
		for i, v := range want.Bands[b].Data {
			if got.Bands[b].Data[i] != v {
				t.Fatalf("band %d pixel %d=%d; want %d", b, i, got.Bands[b].Data[i], v)
			}
		}
	}
	for i, v := range want.Alpha.Data {
		if got.Alpha.Data[i] != v {
			t.Fatalf("alpha %d=%d; want %d", i, got.Alpha.Data[i], v)
		}
	}
}

func TestOrderAndParallelismInvariance(t *testing.T) {
	imgs := randomStack(t, 9, 500)
	ref, err := Composite(loadersOf(imgs...), Options{MaxThreads: 1})
	if err != nil {
		t.Fatalf("got %v", err)
	}

	reversed := make([]*raster.Image, len(imgs))
	for i, img := range imgs {
		reversed[len(imgs)-1-i] = img
	}
	for _, threads := range []int{1, 2, 4, 16} {
		res, err := Composite(loadersOf(reversed...), Options{MaxThreads: threads, MemoryMB: 1024})
		if err != nil {
			t.Fatalf("threads %d: %v", threads, err)
		}
		sameImage(t, res, ref)
	}
}

func TestMergeEqualsSequential(t *testing.T) {
	imgs := randomStack(t, 6, 100)
	seq := NewAccumulator(imgs[0], false)
	left := NewAccumulator(imgs[0], false)
	right := NewAccumulator(imgs[0], false)
	for i, img := range imgs {
		if err := seq.Add(img); err != nil {
			t.Fatalf("add: %v", err)
		}
		part := left
		if i%2 == 1 {
			part = right
		}
		if err := part.Add(img); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := left.Merge(right); err != nil {
		t.Fatalf("merge: %v", err)
	}
	for b := range seq.Sum {
		for i := range seq.Sum[b] {
			if seq.Sum[b][i] != left.Sum[b][i] || seq.Freq[b][i] != left.Freq[b][i] {
				t.Fatalf("band %d pixel %d differs", b, i)
			}
		}
	}
	a, _ := seq.Finalize()
	b, _ := left.Finalize()
	sameImage(t, b, a)

	if _, err := seq.Finalize(); err == nil {
		t.Errorf("second finalize should fail")
	}
	if err := seq.Add(imgs[0]); err == nil {
		t.Errorf("add after finalize should fail")
	}
}

func TestIncomparableImages(t *testing.T) {
	a := newImage(t, 0, nil, raster.Metadata{}, []uint16{1, 2})
	b := newImage(t, 1, nil, raster.Metadata{}, []uint16{1, 2, 3})
	if _, err := Composite(loadersOf(a, b), Options{}); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("got %v; want shape mismatch", err)
	}
	c := newImage(t, 2, nil, raster.Metadata{Projection: "other"}, []uint16{1, 2})
	if _, err := Composite(loadersOf(a, c), Options{CheckMetadata: true}); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("got %v; want shape mismatch for metadata", err)
	}
	if _, err := Composite(loadersOf(a, c), Options{}); err != nil {
		t.Errorf("got %v; want nil without metadata check", err)
	}
}

func TestLoaderError(t *testing.T) {
	a := newImage(t, 0, nil, raster.Metadata{}, []uint16{1, 2})
	boom := errors.New("boom")
	loaders := append(loadersOf(a, a), func() (*raster.Image, error) { return nil, boom })
	if _, err := Composite(loaders, Options{}); !errors.Is(err, boom) {
		t.Errorf("got %v; want loader error", err)
	}
	if _, err := Composite(nil, Options{}); err == nil {
		t.Errorf("empty stack should fail")
	}
}

func TestParseMethod(t *testing.T) {
	for s, want := range map[string]Method{"identity": MethodSkip, "skip": MethodSkip, "mean_with_uniform_weight": MethodMeanUniform} {
		if m, err := ParseMethod(s); err != nil || m != want {
			t.Errorf("ParseMethod(%s)=%v,%v; want %v", s, m, err, want)
		}
	}
	if _, err := ParseMethod("median"); !errors.Is(err, errs.ErrUnsupportedMethod) {
		t.Errorf("got %v; want unsupported", err)
	}
}
