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
	"sort"

	"github.com/valyala/fastrand"
)

// Seed for deterministic subsampling
const SampleSeed uint32 = 0x5eed1234

// Returns up to max distinct indices from 0..n-1 in ascending order. If n<=max, all
// indices are returned. Otherwise the subset is drawn with a fixed seed, so repeated
// calls yield the same result
func SampleIndices(n, max int) []int {
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	if n <= max {
		return all
	}

	// partial Fisher-Yates shuffle
	rng := fastrand.RNG{}
	rng.Seed(SampleSeed)
	for i := 0; i < max; i++ {
		j := i + int(rng.Uint32n(uint32(n-i)))
		all[i], all[j] = all[j], all[i]
	}
	res := all[:max]
	sort.Ints(res)
	return res
}
