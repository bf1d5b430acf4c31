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

package norm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/radnorm/internal/config"
	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/fileaccess"
	"github.com/mlnoga/radnorm/internal/metrics"
	"github.com/mlnoga/radnorm/internal/ops"
	"github.com/mlnoga/radnorm/internal/pif"
	"github.com/mlnoga/radnorm/internal/raster"
	"github.com/mlnoga/radnorm/internal/timestack"
	"github.com/mlnoga/radnorm/internal/transform"
)

const scenePixels = 60 * 50

// Two band reference and a candidate with known per band gains and offsets, small noise,
// and every 20th pixel replaced by a random value. Pixel 7 is invalid in the candidate
func scenePair(t *testing.T) (candidate, reference *raster.Image) {
	t.Helper()
	rng := fastrand.RNG{}
	gains := []float64{0.8, 1.1}
	offsets := []float64{250, -300}
	rbands := make([]*raster.Band, 2)
	cbands := make([]*raster.Band, 2)
	for b := range rbands {
		rbands[b] = raster.NewBand(60, 50, nil)
		cbands[b] = raster.NewBand(60, 50, nil)
		for i := range rbands[b].Data {
			r := 2000 + float64((i*(37+54*b))%15000)
			rbands[b].Data[i] = uint16(r)
			noise := float64(rng.Uint32n(7)) - 3
			c := gains[b]*r + offsets[b] + noise
			if i%20 == 0 {
				c = float64(rng.Uint32n(65536))
			}
			cbands[b].Data[i] = uint16(c)
		}
	}
	var err error
	if reference, err = raster.NewImage(rbands, nil, raster.Metadata{}); err != nil {
		t.Fatalf("reference: %v", err)
	}
	alpha := raster.NewFullMask(60, 50)
	alpha.Data[7] = 0
	if candidate, err = raster.NewImage(cbands, alpha, raster.Metadata{}); err != nil {
		t.Fatalf("candidate: %v", err)
	}
	candidate.ID, reference.ID = 1, 2
	return candidate, reference
}

func TestNormalizeReducesPIFError(t *testing.T) {
	candidate, reference := scenePair(t)
	for _, m := range []struct {
		pif pif.Method
		tr  transform.Method
	}{
		{pif.MethodRobust, transform.MethodRobust},
		{pif.MethodRobust, transform.MethodOLS},
		{pif.MethodRobust, transform.MethodMoment},
	} {
		cfg := config.Default()
		cfg.PIF, cfg.Transformation = m.pif, m.tr
		rec := metrics.NewRecorder()
		res, err := Normalize(candidate, reference, cfg, rec)
		if err != nil {
			t.Fatalf("%v/%v: %v", m.pif, m.tr, err)
		}
		before, err := PIFScore(candidate, reference, res.PIFs)
		if err != nil {
			t.Fatalf("score before: %v", err)
		}
		after, err := PIFScore(res.Image, reference, res.PIFs)
		if err != nil {
			t.Fatalf("score after: %v", err)
		}
		if after >= before/10 {
			t.Errorf("%v/%v: PIF sum of RMSE %f after, %f before", m.pif, m.tr, after, before)
		}
		if res.PIFs.Data[7] != 0 || res.Image.Alpha.Data[7] != 0 {
			t.Errorf("%v/%v: invalid pixel became a PIF or valid", m.pif, m.tr)
		}
		if len(rec.Fits) != 2 {
			t.Errorf("%v/%v: %d fits reported; want 2", m.pif, m.tr, len(rec.Fits))
		}
	}
}

func TestRobustRecoversGains(t *testing.T) {
	candidate, reference := scenePair(t)
	cfg := config.Default()
	cfg.PIF, cfg.Transformation = pif.MethodRobust, transform.MethodRobust
	ts, _, err := GenerateTransformations(candidate, reference, cfg, nil)
	if err != nil {
		t.Fatalf("got %v", err)
	}
	// the transformations map candidate to reference, inverting the scene model
	wantGains := []float64{1 / 0.8, 1 / 1.1}
	for b, tr := range ts {
		if d := tr.Gain - wantGains[b]; d < -0.01 || d > 0.01 {
			t.Errorf("band %d gain %f; want %f", b, tr.Gain, wantGains[b])
		}
	}
	img, err := ApplyTransformations(candidate, ts)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if img.NumBands() != 2 || img.Alpha.Data[7] != 0 {
		t.Errorf("got %s image, alpha[7]=%d", img.DimensionsToString(), img.Alpha.Data[7])
	}
}

func TestGenerateTransformationsErrors(t *testing.T) {
	candidate, reference := scenePair(t)

	cfg := config.Default()
	cfg.PIF = pif.Method(99)
	if _, _, err := GenerateTransformations(candidate, reference, cfg, nil); !errors.Is(err, errs.ErrUnsupportedMethod) {
		t.Errorf("pif: got %v; want unsupported method", err)
	}
	cfg = config.Default()
	cfg.Transformation = transform.Method(99)
	if _, _, err := GenerateTransformations(candidate, reference, cfg, nil); !errors.Is(err, errs.ErrUnsupportedMethod) {
		t.Errorf("transform: got %v; want unsupported method", err)
	}

	small, _ := raster.NewImage([]*raster.Band{raster.NewBand(2, 2, nil), raster.NewBand(2, 2, nil)}, nil, raster.Metadata{})
	if _, _, err := GenerateTransformations(small, reference, config.Default(), nil); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("shape: got %v; want shape mismatch", err)
	}

	empty, _ := candidate.WithAlpha(raster.NewMask(60, 50, nil))
	if _, _, err := GenerateTransformations(empty, reference, config.Default(), nil); !errors.Is(err, errs.ErrInsufficientPIFs) {
		t.Errorf("no PIFs: got %v; want insufficient PIFs", err)
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestJobPipeline(t *testing.T) {
	dir := t.TempDir()
	fa := fileaccess.LocalFileSystem{}
	candidate, reference := scenePair(t)
	candFile, refFile := filepath.Join(dir, "cand.fits"), filepath.Join(dir, "ref.fits")
	if err := raster.Save(fa, candidate, candFile, io.Discard); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := raster.Save(fa, reference, refFile, io.Discard); err != nil {
		t.Fatalf("save: %v", err)
	}
	lutFile, tsFile, outFile := filepath.Join(dir, "x.lut.zst"), filepath.Join(dir, "t.json"), filepath.Join(dir, "out.fits")

	job := fmt.Sprintf(`{"type":"seq","steps":[
		{"type":"loadMany","filePatterns":[%s,%s]},
		{"type":"normalize","pif":"filter_robust","transformation":"robust_linear","lutFile":%s,"transformationsFile":%s},
		{"type":"save","filePattern":%s}
	]}`, quote(candFile), quote(refFile), quote(lutFile), quote(tsFile), quote(outFile))
	var seq ops.OpSequence
	if err := json.Unmarshal([]byte(job), &seq); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if n, ok := seq.Steps[1].(*OpNormalize); !ok || n.PIFOptions.RobustThreshold != 1000 || !n.Validate {
		t.Errorf("normalize defaults not kept: %#v", seq.Steps[1])
	}

	log := bytes.Buffer{}
	c := ops.NewContext(&log, fa, nil)
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		t.Fatalf("make promises: %v", err)
	}
	if len(promises) != 1 {
		t.Fatalf("got %d promises; want 1", len(promises))
	}
	out, err := promises[0]()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(log.String(), "PIF sum of RMSE") {
		t.Errorf("missing validation in log %q", log.String())
	}

	// applying the persisted tables to the candidate reproduces the output
	for _, f := range []string{lutFile, tsFile} {
		apply := ops.NewOpSequence(ops.NewOpLoad(1, candFile, nil), NewOpApplyLUT(f))
		promises, err := apply.MakePromises(nil, c)
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		res, err := promises[0]()
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		for b := range out.Bands {
			for i, v := range out.Bands[b].Data {
				if res.Bands[b].Data[i] != v {
					t.Fatalf("%s: band %d pixel %d=%d; want %d", f, b, i, res.Bands[b].Data[i], v)
				}
			}
		}
	}

	saved, err := raster.Load(fa, outFile, 0, nil, io.Discard)
	if err != nil || saved.NumBands() != 2 {
		t.Errorf("got %v; want saved two band output", err)
	}
}

func TestValidateOperator(t *testing.T) {
	_, reference := scenePair(t)
	shifted := make([]*raster.Band, 2)
	for b := range shifted {
		shifted[b] = reference.Bands[b].Clone()
		for i := range shifted[b].Data {
			shifted[b].Data[i] += 5
		}
	}
	other, _ := raster.NewImage(shifted, nil, raster.Metadata{})
	log := bytes.Buffer{}
	c := ops.NewContext(&log, nil, nil)
	sum, err := NewOpValidate(false).Score(other, reference, c)
	if err != nil || sum != 10 {
		t.Errorf("got %f %v; want 10", sum, err)
	}
	if !strings.Contains(log.String(), "sum of RMSE 10.000") {
		t.Errorf("got log %q", log.String())
	}
	if _, err := NewOpValidate(true).Score(other, reference, c); !errors.Is(err, errs.ErrShapeMismatch) {
		t.Errorf("got %v; want shape mismatch for 2 band delta E", err)
	}
	if _, err := NewOpValidate(false).MakePromises(nil, c); err == nil {
		t.Errorf("expected error without inputs")
	}
}

func TestTimeStackOperator(t *testing.T) {
	_, reference := scenePair(t)
	c := ops.NewContext(io.Discard, nil, nil)
	ins := make([]ops.Promise, 3)
	for i := range ins {
		ins[i] = func() (*raster.Image, error) { return reference, nil }
	}
	outs, err := NewOpTimeStack(timestack.MethodMeanUniform, true).MakePromises(ins, c)
	if err != nil || len(outs) != 1 {
		t.Fatalf("got %d outputs, %v", len(outs), err)
	}
	res, err := outs[0]()
	if err != nil {
		t.Fatalf("got %v", err)
	}
	for b := range reference.Bands {
		for i, v := range reference.Bands[b].Data {
			if res.Bands[b].Data[i] != v {
				t.Fatalf("band %d pixel %d=%d; want %d", b, i, res.Bands[b].Data[i], v)
			}
		}
	}
	if res.Alpha.Count() != scenePixels {
		t.Errorf("alpha count %d; want %d", res.Alpha.Count(), scenePixels)
	}

	skip := NewOpTimeStack(timestack.MethodSkip, false)
	if outs, err := skip.MakePromises(ins[:1], c); err != nil || len(outs) != 1 {
		t.Errorf("skip with one input: got %d, %v", len(outs), err)
	}
	if _, err := skip.MakePromises(ins, c); err == nil {
		t.Errorf("expected error for skip with three inputs")
	}
}

func TestStatsOperator(t *testing.T) {
	_, reference := scenePair(t)
	dir := t.TempDir()
	log := bytes.Buffer{}
	c := ops.NewContext(&log, fileaccess.LocalFileSystem{}, nil)
	op := NewOpStats(filepath.Join(dir, "stats%d.json"))
	if _, err := op.Apply(reference, c); err != nil {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(log.String(), "2: band 1 valid 3000") {
		t.Errorf("got log %q", log.String())
	}
	data, err := c.Store.ReadObject(filepath.Join(dir, "stats2.json"))
	if err != nil || !bytes.Contains(data, []byte("\"median\"")) {
		t.Errorf("got %s %v", string(data), err)
	}
}
