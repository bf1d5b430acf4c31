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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mlnoga/radnorm/internal/config"
	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/lut"
	"github.com/mlnoga/radnorm/internal/ops"
	"github.com/mlnoga/radnorm/internal/pif"
	"github.com/mlnoga/radnorm/internal/raster"
	"github.com/mlnoga/radnorm/internal/stats"
	"github.com/mlnoga/radnorm/internal/timestack"
	"github.com/mlnoga/radnorm/internal/transform"
	"github.com/mlnoga/radnorm/internal/validate"
)

// Composites n input images into one time stack. Takes n inputs, produces one output.
// With method skip, the single input is passed through
type OpTimeStack struct {
	ops.OpBase
	Method        timestack.Method `json:"method"`
	CheckMetadata bool             `json:"checkMetadata"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpTimeStackDefault() }) } // register the operator for JSON decoding

func NewOpTimeStackDefault() *OpTimeStack {
	return NewOpTimeStack(timestack.MethodMeanUniform, true)
}

func NewOpTimeStack(method timestack.Method, checkMetadata bool) *OpTimeStack {
	return &OpTimeStack{
		OpBase:        ops.OpBase{Type: "timeStack", Active: true},
		Method:        method,
		CheckMetadata: checkMetadata,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpTimeStack) UnmarshalJSON(data []byte) error {
	type defaults OpTimeStack
	def := defaults(*NewOpTimeStackDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpTimeStack(def)
	return nil
}

func (op *OpTimeStack) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins) == 0 {
		return nil, fmt.Errorf("%s operator needs inputs", op.Type)
	}
	switch op.Method {
	case timestack.MethodSkip:
		if len(ins) != 1 {
			return nil, fmt.Errorf("%s operator with method %s needs exactly one input, got %d", op.Type, op.Method, len(ins))
		}
		return ins, nil
	case timestack.MethodMeanUniform:
	default:
		return nil, errs.Unsupported("timestack", op.Method.String())
	}

	out := func() (*raster.Image, error) {
		loaders := make([]timestack.Loader, len(ins))
		for i, in := range ins {
			loaders[i] = timestack.Loader(in)
		}
		fmt.Fprintf(c.Log, "Time stacking %d images...\n", len(ins))
		return timestack.Composite(loaders, timestack.Options{
			CheckMetadata: op.CheckMetadata,
			MaxThreads:    c.MaxThreads,
			MemoryMB:      c.StackMemoryMB,
			Log:           c.Log,
			Observer:      c.Observer,
		})
	}
	return []ops.Promise{out}, nil
}

// Normalizes a candidate to a reference. Takes two inputs, candidate first,
// and produces the corrected candidate
type OpNormalize struct {
	ops.OpBase
	PIF                 pif.Method       `json:"pif"`
	PIFOptions          pif.Options      `json:"pifOptions"`
	Transformation      transform.Method `json:"transformation"`
	LUTFile             string           `json:"lutFile"`             // if set, save the lookup tables here
	TransformationsFile string           `json:"transformationsFile"` // if set, save gains and offsets here as JSON
	Validate            bool             `json:"validate"`            // log the PIF RMSE before and after
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpNormalizeDefault() }) } // register the operator for JSON decoding

func NewOpNormalizeDefault() *OpNormalize { return NewOpNormalize(config.Default()) }

func NewOpNormalize(cfg *config.Config) *OpNormalize {
	return &OpNormalize{
		OpBase:         ops.OpBase{Type: "normalize", Active: true},
		PIF:            cfg.PIF,
		PIFOptions:     cfg.PIFOptions,
		Transformation: cfg.Transformation,
		Validate:       true,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpNormalize) UnmarshalJSON(data []byte) error {
	type defaults OpNormalize
	def := defaults(*NewOpNormalizeDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpNormalize(def)
	return nil
}

func (op *OpNormalize) config(c *ops.Context) *config.Config {
	cfg := config.Default()
	cfg.PIF, cfg.PIFOptions, cfg.Transformation = op.PIF, op.PIFOptions, op.Transformation
	cfg.PIFOptions.MaxThreads = c.MaxThreads
	return cfg
}

func (op *OpNormalize) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins) != 2 {
		return nil, fmt.Errorf("%s operator needs a candidate and a reference, got %d inputs", op.Type, len(ins))
	}
	// fail early on unknown methods, before any image is loaded
	if _, err := pif.NewSelector(op.PIF, op.PIFOptions); err != nil {
		return nil, err
	}
	if _, err := transform.NewFitter(op.Transformation); err != nil {
		return nil, err
	}

	out := func() (*raster.Image, error) {
		imgs, err := ops.MaterializeAll(ins, c.MaxThreads, false)
		if err != nil {
			return nil, err
		}
		candidate, reference := imgs[0], imgs[1]
		return op.Apply(candidate, reference, c)
	}
	return []ops.Promise{out}, nil
}

func (op *OpNormalize) Apply(candidate, reference *raster.Image, c *ops.Context) (*raster.Image, error) {
	fmt.Fprintf(c.Log, "%d: Normalizing %s image to %d with %s PIFs and %s fit\n",
		candidate.ID, candidate.DimensionsToString(), reference.ID, op.PIF, op.Transformation)
	res, err := Normalize(candidate, reference, op.config(c), c.Observer)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", candidate.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: %d PIFs of %d pixels\n", candidate.ID, res.PIFs.Count(), candidate.Pixels())
	for b, t := range res.Transformations {
		fmt.Fprintf(c.Log, "%d: band %d %v\n", candidate.ID, b, t)
	}

	if op.Validate {
		before, err := PIFScore(candidate, reference, res.PIFs)
		if err == nil {
			after, err2 := PIFScore(res.Image, reference, res.PIFs)
			err = err2
			if err == nil {
				fmt.Fprintf(c.Log, "%d: PIF sum of RMSE %.3f before, %.3f after\n", candidate.ID, before, after)
			}
		}
		if err != nil {
			fmt.Fprintf(c.Log, "%d: Warning: unable to score PIFs: %s\n", candidate.ID, err.Error())
		}
	}

	if op.LUTFile != "" {
		fmt.Fprintf(c.Log, "%d: Writing %d lookup tables to %s\n", candidate.ID, len(res.LUTs), op.LUTFile)
		if err := lut.Save(c.Store, op.LUTFile, res.LUTs); err != nil {
			return nil, err
		}
	}
	if op.TransformationsFile != "" {
		fmt.Fprintf(c.Log, "%d: Writing transformations to %s\n", candidate.ID, op.TransformationsFile)
		if err := lut.SaveTransformations(c.Store, op.TransformationsFile, res.Transformations); err != nil {
			return nil, err
		}
	}
	return res.Image, nil
}

// Applies persisted lookup tables, or transformations from a .json file, to each input.
// Takes n inputs, produces n outputs
type OpApplyLUT struct {
	ops.OpUnaryBase
	FileName string     `json:"fileName"`
	once     sync.Once
	luts     []lut.LUT
	loadErr  error
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpApplyLUTDefault() }) } // register the operator for JSON decoding

func NewOpApplyLUTDefault() *OpApplyLUT { return NewOpApplyLUT("") }

func NewOpApplyLUT(fileName string) *OpApplyLUT {
	op := &OpApplyLUT{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "applyLUT", Active: true}},
		FileName:    fileName,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpApplyLUT) UnmarshalJSON(data []byte) error {
	var aux struct {
		Active   *bool  `json:"active"`
		FileName string `json:"fileName"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	op.OpUnaryBase = ops.OpUnaryBase{OpBase: ops.OpBase{Type: "applyLUT", Active: aux.Active == nil || *aux.Active}}
	op.FileName = aux.FileName
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op
	return nil
}

func (op *OpApplyLUT) load(c *ops.Context) ([]lut.LUT, error) {
	op.once.Do(func() {
		if strings.HasSuffix(strings.ToLower(op.FileName), ".json") {
			ts, err := lut.LoadTransformations(c.Store, op.FileName)
			op.luts, op.loadErr = lut.BuildAll(ts), err
		} else {
			op.luts, op.loadErr = lut.Load(c.Store, op.FileName)
		}
		if op.loadErr == nil {
			fmt.Fprintf(c.Log, "Loaded %d lookup tables from %s\n", len(op.luts), op.FileName)
		}
	})
	return op.luts, op.loadErr
}

func (op *OpApplyLUT) Apply(img *raster.Image, c *ops.Context) (*raster.Image, error) {
	if op.FileName == "" {
		return nil, errors.New("applyLUT operator without file name")
	}
	luts, err := op.load(c)
	if err != nil {
		return nil, err
	}
	res, err := lut.ApplyImage(img, luts)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", img.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: Applied lookup tables from %s\n", img.ID, op.FileName)
	return res, nil
}

// Scores two images against each other. Takes two inputs, and passes the first one
// through unchanged
type OpValidate struct {
	ops.OpBase
	DeltaE bool `json:"deltaE"` // also report the mean color difference, for 3 band images
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpValidateDefault() }) } // register the operator for JSON decoding

func NewOpValidateDefault() *OpValidate { return NewOpValidate(false) }

func NewOpValidate(deltaE bool) *OpValidate {
	return &OpValidate{
		OpBase: ops.OpBase{Type: "validate", Active: true},
		DeltaE: deltaE,
	}
}

func (op *OpValidate) UnmarshalJSON(data []byte) error {
	type defaults OpValidate
	def := defaults(*NewOpValidateDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpValidate(def)
	return nil
}

func (op *OpValidate) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins) != 2 {
		return nil, fmt.Errorf("%s operator needs two inputs, got %d", op.Type, len(ins))
	}
	out := func() (*raster.Image, error) {
		imgs, err := ops.MaterializeAll(ins, c.MaxThreads, false)
		if err != nil {
			return nil, err
		}
		_, err = op.Score(imgs[0], imgs[1], c)
		if err != nil {
			return nil, err
		}
		return imgs[0], nil
	}
	return []ops.Promise{out}, nil
}

// Logs per band RMSE, their sum and optionally the color difference. Returns the sum
func (op *OpValidate) Score(a, b *raster.Image, c *ops.Context) (float64, error) {
	rmses, err := validate.PerBandRMSE(a, b)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for i, r := range rmses {
		fmt.Fprintf(c.Log, "%d vs %d: band %d RMSE %.3f\n", a.ID, b.ID, i, r)
		sum += r
	}
	fmt.Fprintf(c.Log, "%d vs %d: sum of RMSE %.3f\n", a.ID, b.ID, sum)
	if op.DeltaE {
		de, err := validate.MeanDeltaE(a, b)
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(c.Log, "%d vs %d: mean delta E %.5f\n", a.ID, b.ID, de)
	}
	return sum, nil
}

// Logs summary statistics for each band of each input, and optionally writes them as JSON
// to a file name pattern with %d expanded to the image ID. Takes n inputs, produces n outputs
type OpStats struct {
	ops.OpUnaryBase
	FilePattern string `json:"filePattern"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpStatsDefault() }) } // register the operator for JSON decoding

func NewOpStatsDefault() *OpStats { return NewOpStats("") }

func NewOpStats(filePattern string) *OpStats {
	op := &OpStats{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "stats", Active: true}},
		FilePattern: filePattern,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpStats) UnmarshalJSON(data []byte) error {
	type defaults OpStats
	def := defaults(*NewOpStatsDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpStats(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpStats) Apply(img *raster.Image, c *ops.Context) (*raster.Image, error) {
	bandStats := make([]*stats.BandStats, len(img.Bands))
	for b, band := range img.Bands {
		s, err := stats.ComputeBandStats(band.Data, img.Alpha.Data)
		if err != nil {
			return nil, fmt.Errorf("%d: band %d: %w", img.ID, b, err)
		}
		bandStats[b] = s
		fmt.Fprintf(c.Log, "%d: band %d %v\n", img.ID, b, s)
	}
	if op.FilePattern == "" {
		return img, nil
	}
	fileName := op.FilePattern
	if strings.Contains(fileName, "%d") {
		fileName = fmt.Sprintf(op.FilePattern, img.ID)
	}
	data, err := json.MarshalIndent(bandStats, "", "  ")
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: Writing statistics to %s\n", img.ID, fileName)
	if err := c.Store.WriteObject(fileName, data); err != nil {
		return nil, err
	}
	return img, nil
}
