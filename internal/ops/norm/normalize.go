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

// Package norm provides the radiometric normalization entry points and the
// operators which expose them to sequences, the CLI and the REST API.
package norm

import (
	"time"

	"github.com/mlnoga/radnorm/internal/config"
	"github.com/mlnoga/radnorm/internal/lut"
	"github.com/mlnoga/radnorm/internal/metrics"
	"github.com/mlnoga/radnorm/internal/pif"
	"github.com/mlnoga/radnorm/internal/raster"
	"github.com/mlnoga/radnorm/internal/transform"
	"github.com/mlnoga/radnorm/internal/validate"
)

// Outcome of normalizing one candidate against a reference
type Result struct {
	Image           *raster.Image                    // corrected candidate
	Transformations []transform.LinearTransformation // one per band
	LUTs            []lut.LUT                        // one per band
	PIFs            *raster.Mask                     // PIF weights
}

// Derives one linear transformation per band which maps the candidate onto the
// reference, from the pseudo-invariant features selected by cfg.PIF. Returns
// the transformations and the PIF weights. Nothing is computed if the methods
// are unknown or the images are not comparable
func GenerateTransformations(candidate, reference *raster.Image, cfg *config.Config, obs metrics.Observer) ([]transform.LinearTransformation, *raster.Mask, error) {
	obs = metrics.OrNop(obs)
	selector, err := pif.NewSelector(cfg.PIF, cfg.PIFOptions)
	if err != nil {
		return nil, nil, err
	}
	fitter, err := transform.NewFitter(cfg.Transformation)
	if err != nil {
		return nil, nil, err
	}
	if err := raster.CheckComparable([]*raster.Image{candidate, reference}, false); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	mask, err := selector.Select(candidate, reference, obs)
	if err != nil {
		return nil, nil, err
	}
	obs.Duration("pif", time.Since(start))

	set, err := pif.Extract(mask, candidate, reference)
	if err != nil {
		return nil, nil, err
	}
	ts, err := transform.FitAll(set, fitter, cfg.PIFOptions.MaxThreads, obs)
	if err != nil {
		return nil, nil, err
	}
	return ts, mask, nil
}

// Applies per band transformations to an image through lookup tables
func ApplyTransformations(img *raster.Image, ts []transform.LinearTransformation) (*raster.Image, error) {
	return lut.ApplyImage(img, lut.BuildAll(ts))
}

// Normalizes the candidate to the reference. The candidate keeps its alpha and metadata
func Normalize(candidate, reference *raster.Image, cfg *config.Config, obs metrics.Observer) (*Result, error) {
	ts, mask, err := GenerateTransformations(candidate, reference, cfg, obs)
	if err != nil {
		return nil, err
	}
	luts := lut.BuildAll(ts)
	start := time.Now()
	img, err := lut.ApplyImage(candidate, luts)
	if err != nil {
		return nil, err
	}
	metrics.OrNop(obs).Duration("lut", time.Since(start))
	return &Result{Image: img, Transformations: ts, LUTs: luts, PIFs: mask}, nil
}

// Scores two images by the sum of per band RMSE over the given PIF pixels, which
// must also be valid in both images
func PIFScore(a, b *raster.Image, pifs *raster.Mask) (float64, error) {
	alphaA, err := a.Alpha.And(pifs)
	if err != nil {
		return 0, err
	}
	alphaB, err := b.Alpha.And(pifs)
	if err != nil {
		return 0, err
	}
	ma, err := a.WithAlpha(alphaA)
	if err != nil {
		return 0, err
	}
	mb, err := b.WithAlpha(alphaB)
	if err != nil {
		return 0, err
	}
	return validate.SumOfRMSE(ma, mb)
}
