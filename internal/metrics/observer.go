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

// Package metrics reports diagnostics of the normalization stages. Algorithms only see
// the Observer interface; sinks decide whether to count, log or export them.
package metrics

import (
	"sync"
	"time"
)

// Receives diagnostics from the normalization stages. Implementations must be safe
// for concurrent use, as bands are processed in parallel
type Observer interface {
	// Number of valid pixels out of total after a stage
	ValidPixels(stage string, band, valid, total int)

	// Correlation of candidate and reference values before and after a stage
	Correlation(stage string, band int, before, after float64)

	// A degenerate input forced a fallback
	DegenerateFit(stage string, band int)

	// The fitted transformation of a band
	Transformation(band int, gain, offset float64)

	// Wall clock time spent in a stage
	Duration(stage string, d time.Duration)
}

// Discards all observations
type Nop struct{}

func (Nop) ValidPixels(string, int, int, int) {}
func (Nop) Correlation(string, int, float64, float64) {}
func (Nop) DegenerateFit(string, int) {}
func (Nop) Transformation(int, float64, float64) {}
func (Nop) Duration(string, time.Duration) {}

// Returns obs, or a Nop observer if obs is nil
func OrNop(obs Observer) Observer {
	if obs == nil {
		return Nop{}
	}
	return obs
}

// Key for per-band observations
type StageBand struct {
	Stage string
	Band  int
}

// Valid pixel count after a stage
type PixelCount struct {
	Valid int
	Total int
}

// Correlation before and after a stage
type CorrelationPair struct {
	Before float64
	After  float64
}

// Gain and offset of a fitted band
type Fit struct {
	Gain   float64
	Offset float64
}

// Records observations in memory, for tests and job summaries
type Recorder struct {
	mutex        sync.Mutex
	Pixels       map[StageBand]PixelCount
	Correlations map[StageBand]CorrelationPair
	Degenerate   map[StageBand]int
	Fits         map[int]Fit
	Durations    map[string]time.Duration
}

func NewRecorder() *Recorder {
	return &Recorder{
		Pixels:       map[StageBand]PixelCount{},
		Correlations: map[StageBand]CorrelationPair{},
		Degenerate:   map[StageBand]int{},
		Fits:         map[int]Fit{},
		Durations:    map[string]time.Duration{},
	}
}

func (r *Recorder) ValidPixels(stage string, band, valid, total int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Pixels[StageBand{stage, band}] = PixelCount{valid, total}
}

func (r *Recorder) Correlation(stage string, band int, before, after float64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Correlations[StageBand{stage, band}] = CorrelationPair{before, after}
}

func (r *Recorder) DegenerateFit(stage string, band int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Degenerate[StageBand{stage, band}]++
}

func (r *Recorder) Transformation(band int, gain, offset float64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Fits[band] = Fit{gain, offset}
}

func (r *Recorder) Duration(stage string, d time.Duration) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Durations[stage] += d
}

// Number of degenerate fallbacks reported for the given stage, over all bands
func (r *Recorder) DegenerateCount(stage string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	n := 0
	for k, v := range r.Degenerate {
		if k.Stage == stage {
			n += v
		}
	}
	return n
}

// Forwards observations to several observers
type Multi []Observer

func (m Multi) ValidPixels(stage string, band, valid, total int) {
	for _, o := range m {
		o.ValidPixels(stage, band, valid, total)
	}
}

func (m Multi) Correlation(stage string, band int, before, after float64) {
	for _, o := range m {
		o.Correlation(stage, band, before, after)
	}
}

func (m Multi) DegenerateFit(stage string, band int) {
	for _, o := range m {
		o.DegenerateFit(stage, band)
	}
}

func (m Multi) Transformation(band int, gain, offset float64) {
	for _, o := range m {
		o.Transformation(band, gain, offset)
	}
}

func (m Multi) Duration(stage string, d time.Duration) {
	for _, o := range m {
		o.Duration(stage, d)
	}
}
