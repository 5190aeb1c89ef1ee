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

// Package value implements the scalar value union shared by every
// operator kernel and state store in the dataflow core.
//
// A Value is a small tagged union, modeled on ion.Datum's tagged
// encoding but narrowed to the column types a relational operator
// needs: null, signed/unsigned 32- and 64-bit integers, f32/f64,
// timestamp, date, time-of-day, inline short text, shared text, byte
// strings, and fixed-point decimal.
package value

import (
	"fmt"
	"math"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	Null Kind = iota
	Int32
	Int64
	Uint32
	Uint64
	Float32
	Float64
	Timestamp
	Date
	Time
	ShortText // inline, <=15 bytes
	Text      // shared immutable string, heap-allocated
	Bytes
	Decimal
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Timestamp:
		return "timestamp"
	case Date:
		return "date"
	case Time:
		return "time"
	case ShortText:
		return "shorttext"
	case Text:
		return "text"
	case Bytes:
		return "bytes"
	case Decimal:
		return "decimal"
	default:
		return "unknown"
	}
}

// maxShortText is the inline capacity for ShortText values, matching
// spec.md's "fixed-length short text (inline, up to 15 bytes)".
const maxShortText = 15

// Value is an immutable scalar. The zero Value is Null.
//
// Decimal values store an unscaled integer in i and a base-10 scale
// in aux (value = i * 10^-aux), matching the common fixed-point
// representation used by SQL DECIMAL columns.
type Value struct {
	kind  Kind
	i     int64
	f     float64
	aux   int32
	s     string // Text, ShortText
	bytes []byte // Bytes
	ts    time.Time
}

func NullValue() Value                { return Value{} }
func Int32Value(v int32) Value        { return Value{kind: Int32, i: int64(v)} }
func Int64Value(v int64) Value        { return Value{kind: Int64, i: v} }
func Uint32Value(v uint32) Value      { return Value{kind: Uint32, i: int64(v)} }
func Uint64Value(v uint64) Value      { return Value{kind: Uint64, i: int64(v)} }
func Float32Value(v float32) Value    { return Value{kind: Float32, f: float64(v)} }
func Float64Value(v float64) Value    { return Value{kind: Float64, f: v} }
func TimestampValue(t time.Time) Value { return Value{kind: Timestamp, ts: t} }
func DateValue(t time.Time) Value     { return Value{kind: Date, ts: t} }
func TimeValue(t time.Time) Value     { return Value{kind: Time, ts: t} }
func BytesValue(b []byte) Value       { return Value{kind: Bytes, bytes: b} }

// DecimalValue constructs a fixed-point decimal from an unscaled
// integer and a base-10 scale (e.g. DecimalValue(12345, 2) == 123.45).
func DecimalValue(unscaled int64, scale int32) Value {
	return Value{kind: Decimal, i: unscaled, aux: scale}
}

// TextValue builds a Value holding a string, choosing the ShortText
// inline representation when it fits and Text (shared, heap-backed)
// otherwise.
func TextValue(s string) Value {
	if len(s) <= maxShortText {
		return Value{kind: ShortText, s: s}
	}
	return Value{kind: Text, s: s}
}

func (v Value) Kind() Kind  { return v.kind }
func (v Value) IsNull() bool { return v.kind == Null }

func (v Value) Int() (int64, bool) {
	switch v.kind {
	case Int32, Int64, Uint32:
		return v.i, true
	case Uint64:
		return v.i, true // caller reinterprets via Uint() for the unsigned range
	}
	return 0, false
}

func (v Value) Uint() (uint64, bool) {
	switch v.kind {
	case Int32, Int64, Uint32, Uint64:
		return uint64(v.i), true
	}
	return 0, false
}

func (v Value) Float() (float64, bool) {
	switch v.kind {
	case Float32, Float64:
		return v.f, true
	case Int32, Int64, Uint32, Uint64:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) Str() (string, bool) {
	switch v.kind {
	case ShortText, Text:
		return v.s, true
	}
	return "", false
}

func (v Value) Bytes() ([]byte, bool) {
	if v.kind == Bytes {
		return v.bytes, true
	}
	return nil, false
}

func (v Value) Time() (time.Time, bool) {
	switch v.kind {
	case Timestamp, Date, Time:
		return v.ts, true
	}
	return time.Time{}, false
}

// Decimal returns the unscaled integer and scale of a Decimal value.
func (v Value) Decimal() (unscaled int64, scale int32, ok bool) {
	if v.kind != Decimal {
		return 0, 0, false
	}
	return v.i, v.aux, true
}

func (v Value) decimalFloat() float64 {
	return float64(v.i) / math.Pow10(int(v.aux))
}

// Equal reports whether two values are equal under SQL equality,
// where two nulls are equal (state-store equality, not SQL
// three-valued comparison semantics; see Compare and the filter
// kernel for the latter).
func (v Value) Equal(o Value) bool {
	return Compare(v, o) == 0
}

// Compare defines the engine's total order over Values: Null sorts as
// the minimum, and otherwise values are compared numerically,
// lexicographically, or chronologically depending on kind. Comparing
// across incompatible kinds (e.g. Bytes vs Text) falls back to
// ordering by Kind so the order remains total.
func Compare(a, b Value) int {
	if a.kind == Null && b.kind == Null {
		return 0
	}
	if a.kind == Null {
		return -1
	}
	if b.kind == Null {
		return 1
	}
	if isNumeric(a.kind) && isNumeric(b.kind) {
		af, _ := a.Float()
		bf, _ := b.Float()
		return cmpFloat(af, bf)
	}
	if isText(a.kind) && isText(b.kind) {
		as, _ := a.Str()
		bs, _ := b.Str()
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	if isTemporal(a.kind) && isTemporal(b.kind) {
		at, _ := a.Time()
		bt, _ := b.Time()
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}
	if a.kind == Decimal && b.kind == Decimal {
		return cmpFloat(a.decimalFloat(), b.decimalFloat())
	}
	if a.kind == Bytes && b.kind == Bytes {
		switch {
		case string(a.bytes) < string(b.bytes):
			return -1
		case string(a.bytes) > string(b.bytes):
			return 1
		default:
			return 0
		}
	}
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func isNumeric(k Kind) bool {
	switch k {
	case Int32, Int64, Uint32, Uint64, Float32, Float64:
		return true
	}
	return false
}

func isText(k Kind) bool { return k == ShortText || k == Text }

func isTemporal(k Kind) bool { return k == Timestamp || k == Date || k == Time }

func (v Value) String() string {
	switch v.kind {
	case Null:
		return "NULL"
	case Int32, Int64, Uint32, Uint64:
		return fmt.Sprintf("%d", v.i)
	case Float32, Float64:
		return fmt.Sprintf("%v", v.f)
	case Decimal:
		return fmt.Sprintf("%v", v.decimalFloat())
	case ShortText, Text:
		return v.s
	case Bytes:
		return fmt.Sprintf("%x", v.bytes)
	case Timestamp, Date, Time:
		return v.ts.String()
	default:
		return "?"
	}
}
