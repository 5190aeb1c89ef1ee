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

import (
	"fmt"
	"strconv"
	"time"
)

// CoercionError is returned by Coerce when a value cannot be converted
// to the requested target Kind. Per spec, this is never fatal at the
// operator level: callers either render it as Null or reject the
// owning Input at a base table (spec.md §7 DataCoercion).
type CoercionError struct {
	From, To Kind
	Reason   string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot coerce %s to %s: %s", e.From, e.To, e.Reason)
}

// Coerce converts v to the target Kind following the engine's
// explicit per-source/target table, grounded on the coercion match
// arms in noria-psql's value conversion. Null coerces to Null
// regardless of target. Unrepresentable conversions return a
// *CoercionError; callers that want MySQL/CDC "reject as null"
// semantics should do:
//
//	v2, err := Coerce(v, target)
//	if err != nil { v2 = NullValue() }
func Coerce(v Value, target Kind) (Value, error) {
	if v.IsNull() || target == Null {
		return NullValue(), nil
	}
	if v.kind == target {
		return v, nil
	}
	switch target {
	case Int32:
		if i, ok := coerceInt(v); ok {
			return Int32Value(int32(i)), nil
		}
	case Int64:
		if i, ok := coerceInt(v); ok {
			return Int64Value(i), nil
		}
	case Uint32:
		if i, ok := coerceInt(v); ok && i >= 0 {
			return Uint32Value(uint32(i)), nil
		}
	case Uint64:
		if i, ok := coerceInt(v); ok && i >= 0 {
			return Uint64Value(uint64(i)), nil
		}
	case Float32:
		if f, ok := coerceFloat(v); ok {
			return Float32Value(float32(f)), nil
		}
	case Float64:
		if f, ok := coerceFloat(v); ok {
			return Float64Value(f), nil
		}
	case ShortText, Text:
		return TextValue(coerceString(v)), nil
	case Bytes:
		if b, ok := v.Bytes(); ok {
			return BytesValue(b), nil
		}
		if s, ok := v.Str(); ok {
			return BytesValue([]byte(s)), nil
		}
	case Timestamp, Date, Time:
		if t, ok := v.Time(); ok {
			return Value{kind: target, ts: t}, nil
		}
		if s, ok := v.Str(); ok {
			if t, err := parseTemporal(s, target); err == nil {
				return t, nil
			}
		}
	case Decimal:
		if i, ok := coerceInt(v); ok {
			return DecimalValue(i, 0), nil
		}
		if f, ok := coerceFloat(v); ok {
			return floatToDecimal(f), nil
		}
	}
	return Value{}, &CoercionError{From: v.kind, To: target, Reason: "no defined conversion"}
}

func coerceInt(v Value) (int64, bool) {
	if i, ok := v.Int(); ok {
		return i, true
	}
	if f, ok := v.Float(); ok {
		return int64(f), true
	}
	if u, scale, ok := v.Decimal(); ok {
		d := v
		_ = d
		return scaleDown(u, scale), true
	}
	if s, ok := v.Str(); ok {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func scaleDown(unscaled int64, scale int32) int64 {
	for scale > 0 {
		unscaled /= 10
		scale--
	}
	return unscaled
}

func coerceFloat(v Value) (float64, bool) {
	if f, ok := v.Float(); ok {
		return f, true
	}
	if _, _, ok := v.Decimal(); ok {
		return v.decimalFloat(), true
	}
	if s, ok := v.Str(); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func coerceString(v Value) string {
	if s, ok := v.Str(); ok {
		return s
	}
	if b, ok := v.Bytes(); ok {
		return string(b)
	}
	if t, ok := v.Time(); ok {
		return t.Format(time.RFC3339Nano)
	}
	return v.String()
}

func floatToDecimal(f float64) Value {
	const scale = 6
	mult := 1.0
	for i := 0; i < scale; i++ {
		mult *= 10
	}
	return DecimalValue(int64(f*mult), scale)
}

// parseTemporal implements the MySQL CDC "zero date" convention
// (spec.md §9 open question): a boundary value that the upstream
// source serializes as "0000-00-00" or equivalent is rendered as
// Null rather than a parse error.
func parseTemporal(s string, target Kind) (Value, error) {
	if isZeroDate(s) {
		return NullValue(), nil
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Value{kind: target, ts: t}, nil
		}
	}
	return Value{}, &CoercionError{To: target, Reason: "unparseable temporal literal"}
}

func isZeroDate(s string) bool {
	switch s {
	case "0000-00-00", "0000-00-00 00:00:00":
		return true
	}
	return false
}
