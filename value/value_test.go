// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package value

import "testing"

func TestNullIsMinimum(t *testing.T) {
	vals := []Value{Int64Value(5), NullValue(), Int64Value(-5)}
	for i := range vals {
		for j := range vals {
			got := Compare(vals[i], vals[j])
			want := Compare(vals[i], vals[j])
			if got != want {
				t.Fatalf("compare not deterministic")
			}
		}
	}
	if Compare(NullValue(), Int64Value(-1000000)) >= 0 {
		t.Fatalf("null must sort below every non-null value")
	}
}

func TestShortTextInlining(t *testing.T) {
	short := TextValue("hello")
	if short.Kind() != ShortText {
		t.Fatalf("expected ShortText, got %s", short.Kind())
	}
	long := TextValue("this string is definitely longer than fifteen bytes")
	if long.Kind() != Text {
		t.Fatalf("expected Text, got %s", long.Kind())
	}
}

func TestEqualityAcrossNumericKinds(t *testing.T) {
	a := Int32Value(10)
	b := Float64Value(10)
	if Compare(a, b) != 0 {
		t.Fatalf("expected numeric cross-kind equality, got %v vs %v", a, b)
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	d := DecimalValue(12345, 2)
	if s := d.String(); s != "123.45" {
		t.Fatalf("decimal rendering = %q, want 123.45", s)
	}
}
