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

// Package config holds the normalization settings, loaded from YAML or JSON files.
package config

/* Example config file ...

time_stack_method: mean_with_uniform_weight
pif_method: filter_pca
pif_options:
  pcaThreshold: 30
transformation_method: robust_linear
check_metadata: true
nodata: 0

*/

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/mlnoga/radnorm/internal/errs"
	"github.com/mlnoga/radnorm/internal/fileaccess"
	"github.com/mlnoga/radnorm/internal/pif"
	"github.com/mlnoga/radnorm/internal/timestack"
	"github.com/mlnoga/radnorm/internal/transform"
)

// Settings of a normalization run
type Config struct {
	TimeStack      timestack.Method `json:"time_stack_method" yaml:"time_stack_method"`
	PIF            pif.Method       `json:"pif_method" yaml:"pif_method"`
	PIFOptions     pif.Options      `json:"pif_options" yaml:"pif_options"`
	Transformation transform.Method `json:"transformation_method" yaml:"transformation_method"`
	CheckMetadata  bool             `json:"check_metadata" yaml:"check_metadata"` // require identical georeferencing in the time stack
	NoData         *uint16          `json:"nodata,omitempty" yaml:"nodata,omitempty"` // input value marking invalid pixels
	Metrics        bool             `json:"metrics" yaml:"metrics"`               // emit structured diagnostics
}

func Default() *Config {
	return &Config{
		TimeStack:      timestack.MethodMeanUniform,
		PIF:            pif.MethodNoData,
		PIFOptions:     pif.DefaultOptions(),
		Transformation: transform.MethodMoment,
		CheckMetadata:  true,
	}
}

// Loads a config from a .yaml, .yml or .json file. Entries missing from the file keep
// their default values
func Load(fa fileaccess.FileAccess, fileName string) (*Config, error) {
	data, err := fa.ReadObject(fileName)
	if err != nil {
		return nil, err
	}
	return Parse(data, fileName)
}

// Parses config file contents, in the format implied by the file name
func Parse(data []byte, fileName string) (*Config, error) {
	c := Default()
	lower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		err := yaml.Unmarshal(data, c)
		if err != nil {
			return nil, fmt.Errorf("parse '%s': %w", fileName, err)
		}
	case strings.HasSuffix(lower, ".json"):
		if err := json.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse '%s': %w", fileName, err)
		}
	default:
		return nil, errs.IO("read", fileName, fmt.Errorf("unknown config file suffix"))
	}
	return c, c.Validate()
}

// Checks the option ranges
func (c *Config) Validate() error {
	o := &c.PIFOptions
	if o.PCAThreshold < 0 || o.RobustThreshold < 0 || o.HistogramThreshold < 0 {
		return fmt.Errorf("pif thresholds must not be negative")
	}
	if o.HistogramBins < 1 {
		return fmt.Errorf("pif histogram needs at least one bin, got %d", o.HistogramBins)
	}
	if o.TopK < 0 || o.MaxSamples < 0 {
		return fmt.Errorf("pif topK and maxSamples must not be negative")
	}
	return nil
}

// Formats the config as YAML, for log output
func (c *Config) String() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%+v", *c)
	}
	return string(b)
}
