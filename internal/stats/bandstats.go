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

package stats

import (
	"fmt"

	mstats "github.com/montanaflynn/stats"
)

const modeBins = 256

// Summary statistics of the valid pixels of one band
type BandStats struct {
	Valid  int     `json:"valid"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Median float64 `json:"median"`
	P2     float64 `json:"p2"`
	P98    float64 `json:"p98"`
	Mode   float64 `json:"mode"`
}

// Calculates summary statistics of the band pixels where the mask is nonzero
func ComputeBandStats(data, mask []uint16) (*BandStats, error) {
	valid := make(mstats.Float64Data, 0, len(data))
	for i, v := range data {
		if mask == nil || mask[i] > 0 {
			valid = append(valid, float64(v))
		}
	}
	if len(valid) == 0 {
		return &BandStats{}, nil
	}

	s := &BandStats{Valid: len(valid)}
	var err error
	if s.Min, err = valid.Min(); err != nil {
		return nil, err
	}
	if s.Max, err = valid.Max(); err != nil {
		return nil, err
	}
	if s.Mean, err = valid.Mean(); err != nil {
		return nil, err
	}
	if s.StdDev, err = valid.StandardDeviationPopulation(); err != nil {
		return nil, err
	}
	if s.Median, err = valid.Median(); err != nil {
		return nil, err
	}
	if s.P2, err = valid.PercentileNearestRank(2); err != nil {
		return nil, err
	}
	if s.P98, err = valid.PercentileNearestRank(98); err != nil {
		return nil, err
	}

	s.Mode = s.Median
	if s.Max > s.Min {
		bins := make([]int32, modeBins)
		Histogram(valid, s.Min, s.Max, bins)
		if mode, _, err := GetModeStdDevFromHistogram(bins, s.Min, s.Max); err == nil && mode >= s.Min && mode <= s.Max {
			s.Mode = mode
		}
	}
	return s, nil
}

func (s *BandStats) String() string {
	return fmt.Sprintf("valid %d min %.6g max %.6g mean %.6g stdDev %.6g median %.6g p2 %.6g p98 %.6g mode %.6g",
		s.Valid, s.Min, s.Max, s.Mean, s.StdDev, s.Median, s.P2, s.P98, s.Mode)
}
