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

// Package errs holds the error kinds shared by all normalization stages.
// Callers match them with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// Band count or band dimensions differ between compared images
	ErrShapeMismatch = errors.New("shape mismatch")

	// Zero or one PIF sample available for a band
	ErrInsufficientPIFs = errors.New("insufficient PIFs")

	// Lookup table and band use different representations
	ErrTypeMismatch = errors.New("type mismatch")

	// Unknown method value for a pipeline stage
	ErrUnsupportedMethod = errors.New("unsupported method")

	// Reading or writing a raster, table or object failed
	ErrIOFailure = errors.New("io failure")
)

// An IO failure raised by the raster or object store. Passed through
// the normalization stages unchanged.
type IOFailure struct {
	Op   string // read, write, list
	Path string
	Err  error
}

func (e *IOFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error { return e.Err }

func (e *IOFailure) Is(target error) bool { return target == ErrIOFailure }

// Wraps err as an IOFailure, unless it is nil or already one
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var f *IOFailure
	if errors.As(err, &f) {
		return err
	}
	return &IOFailure{Op: op, Path: path, Err: err}
}

// Returns an ErrShapeMismatch with the given detail message
func Shape(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, args...))
}

// Returns an ErrUnsupportedMethod for the given stage and value
func Unsupported(stage, value string) error {
	return fmt.Errorf("%w: %s method '%s'", ErrUnsupportedMethod, stage, value)
}
