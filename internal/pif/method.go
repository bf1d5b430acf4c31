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

package pif

import (
	"strings"

	"github.com/mlnoga/radnorm/internal/errs"
)

// Method of pseudo-invariant feature selection
type Method int

const (
	MethodSkip      Method = iota // use the reference alpha as PIF weights
	MethodNoData                  // valid in candidate and reference
	MethodPCA                     // close to the principal axis of the scatter plot
	MethodRobust                  // close to a robust regression line
	MethodHistogram               // in popular bins of the 2D histogram
)

var methodNames = []string{"skip", "filter_nodata", "filter_pca", "filter_robust", "filter_histogram"}

// Legacy names accepted on input
var methodAliases = map[string]Method{
	"identity":  MethodNoData,
	"nodata":    MethodNoData,
	"pca":       MethodPCA,
	"robust":    MethodRobust,
	"histogram": MethodHistogram,
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return "unknown"
	}
	return methodNames[m]
}

// Parses a method name, case insensitive
func ParseMethod(s string) (Method, error) {
	l := strings.ToLower(strings.TrimSpace(s))
	for i, n := range methodNames {
		if n == l {
			return Method(i), nil
		}
	}
	if m, ok := methodAliases[l]; ok {
		return m, nil
	}
	return MethodSkip, errs.Unsupported("pif", s)
}

func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m *Method) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return m.UnmarshalText([]byte(s))
}

func (m Method) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}
