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

package metrics

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Writes observations as structured log events
type LogObserver struct {
	logger zerolog.Logger
}

// Creates an observer writing one JSON event per observation to w
func NewLogObserver(w io.Writer) *LogObserver {
	return &LogObserver{logger: zerolog.New(w).With().Timestamp().Str("component", "radnorm").Logger()}
}

// Creates an observer writing human readable events to w
func NewConsoleLogObserver(w io.Writer) *LogObserver {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: true}
	return &LogObserver{logger: zerolog.New(cw).With().Timestamp().Logger()}
}

func (l *LogObserver) ValidPixels(stage string, band, valid, total int) {
	l.logger.Info().Str("stage", stage).Int("band", band).Int("valid", valid).Int("total", total).Msg("valid pixels")
}

func (l *LogObserver) Correlation(stage string, band int, before, after float64) {
	l.logger.Info().Str("stage", stage).Int("band", band).Float64("before", before).Float64("after", after).Msg("correlation")
}

func (l *LogObserver) DegenerateFit(stage string, band int) {
	l.logger.Warn().Str("stage", stage).Int("band", band).Msg("degenerate input, using fallback")
}

func (l *LogObserver) Transformation(band int, gain, offset float64) {
	l.logger.Info().Int("band", band).Float64("gain", gain).Float64("offset", offset).Msg("transformation")
}

func (l *LogObserver) Duration(stage string, d time.Duration) {
	l.logger.Debug().Str("stage", stage).Dur("elapsed", d).Msg("stage done")
}
