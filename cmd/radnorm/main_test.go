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

package main

import "testing"

func TestParseNoData(t *testing.T) {
	if v, err := parseNoData(-1); v != nil || err != nil {
		t.Errorf("got %v %v; want nil nil", v, err)
	}
	for _, want := range []int{0, 12345, 65535} {
		v, err := parseNoData(want)
		if err != nil || v == nil || int(*v) != want {
			t.Errorf("got %v %v; want %d", v, err, want)
		}
	}
	for _, bad := range []int{-2, 65536, 70000} {
		if v, err := parseNoData(bad); err == nil {
			t.Errorf("%d: got %v; want error", bad, v)
		}
	}
}
