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

package ops

import (
	"time"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/value"
)

// Expr is a scalar expression evaluated per-record by Filter and
// Project, grounded on the ProjectExpression variants in
// noria/server/dataflow/src/ops/project/expression.rs: column
// references, literals, casts, arithmetic, and a closed set of
// builtin functions. Expr never returns a Go error for a bad runtime
// value; every failure mode (coercion failure, unrecognized
// timezone, null operand) is expressed as a null Value, per spec.md
// §4.1: "on coercion failure the result is null (never a fatal
// error)".
type Expr interface {
	Eval(row dataflow.Row) value.Value
}

// Column references an input column by position.
type Column int

func (c Column) Eval(row dataflow.Row) value.Value { return row[int(c)] }

// Literal is a compile-time constant.
type Literal struct{ V value.Value }

func (l Literal) Eval(dataflow.Row) value.Value { return l.V }

// Cast coerces its operand's runtime value to Target, per
// value.Coerce's null-on-failure contract.
type Cast struct {
	Operand Expr
	Target  value.Kind
}

func (c Cast) Eval(row dataflow.Row) value.Value {
	v, err := value.Coerce(c.Operand.Eval(row), c.Target)
	if err != nil {
		return value.NullValue()
	}
	return v
}

// ArithOp is a binary arithmetic or comparison operator.
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
)

// Binary applies a binary ArithOp with SQL null propagation: if
// either operand is null the result is null, except And/Or which
// follow three-valued logic (spec.md §4.1 Filter kernel).
type Binary struct {
	Op          ArithOp
	Left, Right Expr
}

func (b Binary) Eval(row dataflow.Row) value.Value {
	l := b.Left.Eval(row)
	r := b.Right.Eval(row)
	switch b.Op {
	case OpAnd:
		return boolOp3VL(l, r, false)
	case OpOr:
		return boolOp3VL(l, r, true)
	}
	if l.IsNull() || r.IsNull() {
		return value.NullValue()
	}
	switch b.Op {
	case OpEq:
		return boolValue(value.Compare(l, r) == 0)
	case OpNeq:
		return boolValue(value.Compare(l, r) != 0)
	case OpLt:
		return boolValue(value.Compare(l, r) < 0)
	case OpLte:
		return boolValue(value.Compare(l, r) <= 0)
	case OpGt:
		return boolValue(value.Compare(l, r) > 0)
	case OpGte:
		return boolValue(value.Compare(l, r) >= 0)
	case OpAdd, OpSub, OpMul, OpDiv:
		lf, lok := l.Float()
		rf, rok := r.Float()
		if !lok || !rok {
			return value.NullValue()
		}
		switch b.Op {
		case OpAdd:
			return value.Float64Value(lf + rf)
		case OpSub:
			return value.Float64Value(lf - rf)
		case OpMul:
			return value.Float64Value(lf * rf)
		case OpDiv:
			if rf == 0 {
				return value.NullValue()
			}
			return value.Float64Value(lf / rf)
		}
	}
	return value.NullValue()
}

// boolOp3VL implements SQL's three-valued AND/OR (isOr=false means
// this is AND): a known false (for AND) or known true (for OR) value
// on one side can decide the result even if the other side is null.
func boolOp3VL(l, r value.Value, isOr bool) value.Value {
	lb, lok := boolOf(l)
	rb, rok := boolOf(r)
	if isOr {
		if lok && lb {
			return boolValue(true)
		}
		if rok && rb {
			return boolValue(true)
		}
		if lok && rok {
			return boolValue(lb || rb)
		}
		return value.NullValue()
	}
	if lok && !lb {
		return boolValue(false)
	}
	if rok && !rb {
		return boolValue(false)
	}
	if lok && rok {
		return boolValue(lb && rb)
	}
	return value.NullValue()
}

// boolValue encodes a SQL boolean as an Int32, matching spec.md §3's
// value union (there is no dedicated boolean Kind) and the original
// noria-psql value conversion, which likewise carries booleans as an
// Int/UnsignedInt of 0 or 1.
func boolValue(b bool) value.Value {
	if b {
		return value.Int32Value(1)
	}
	return value.Int32Value(0)
}

func boolOf(v value.Value) (bool, bool) {
	if v.IsNull() {
		return false, false
	}
	if f, ok := v.Float(); ok {
		return f != 0, true
	}
	return false, false
}

// Call invokes one of the closed set of builtin scalar functions
// named in spec.md §4.1: convert_tz, day_of_week, month, ifnull,
// timediff, addtime.
type Call struct {
	Name string
	Args []Expr
}

func (c Call) Eval(row dataflow.Row) value.Value {
	args := make([]value.Value, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.Eval(row)
	}
	switch c.Name {
	case "ifnull":
		if len(args) != 2 {
			return value.NullValue()
		}
		if !args[0].IsNull() {
			return args[0]
		}
		return args[1]
	case "convert_tz":
		return builtinConvertTZ(args)
	case "day_of_week":
		return builtinDayOfWeek(args)
	case "month":
		return builtinMonth(args)
	case "timediff":
		return builtinTimeDiff(args)
	case "addtime":
		return builtinAddTime(args)
	default:
		return value.NullValue()
	}
}

// anyNull reports whether args (other than ifnull, handled above
// separately) contains a null, implementing the strict
// null-propagation rule of spec.md §4.1.
func anyNull(args []value.Value) bool {
	for _, a := range args {
		if a.IsNull() {
			return true
		}
	}
	return false
}

func builtinConvertTZ(args []value.Value) value.Value {
	if len(args) != 3 || anyNull(args) {
		return value.NullValue()
	}
	t, ok := args[0].Time()
	if !ok {
		return value.NullValue()
	}
	src, ok1 := args[1].Str()
	tgt, ok2 := args[2].Str()
	if !ok1 || !ok2 {
		return value.NullValue()
	}
	srcLoc, err := time.LoadLocation(src)
	if err != nil {
		return value.NullValue()
	}
	tgtLoc, err := time.LoadLocation(tgt)
	if err != nil {
		return value.NullValue()
	}
	local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), srcLoc)
	return value.TimestampValue(local.In(tgtLoc))
}

func builtinDayOfWeek(args []value.Value) value.Value {
	if len(args) != 1 || anyNull(args) {
		return value.NullValue()
	}
	t, ok := args[0].Time()
	if !ok {
		return value.NullValue()
	}
	// MySQL DAYOFWEEK(): Sunday=1 .. Saturday=7.
	return value.Int32Value(int32(t.Weekday()) + 1)
}

func builtinMonth(args []value.Value) value.Value {
	if len(args) != 1 || anyNull(args) {
		return value.NullValue()
	}
	t, ok := args[0].Time()
	if !ok {
		return value.NullValue()
	}
	return value.Int32Value(int32(t.Month()))
}

func builtinTimeDiff(args []value.Value) value.Value {
	if len(args) != 2 || anyNull(args) {
		return value.NullValue()
	}
	a, ok1 := args[0].Time()
	b, ok2 := args[1].Time()
	if !ok1 || !ok2 {
		return value.NullValue()
	}
	return value.TimeValue(time.Time{}.Add(a.Sub(b)))
}

func builtinAddTime(args []value.Value) value.Value {
	if len(args) != 2 || anyNull(args) {
		return value.NullValue()
	}
	a, ok1 := args[0].Time()
	b, ok2 := args[1].Time()
	if !ok1 || !ok2 {
		return value.NullValue()
	}
	d := b.Sub(time.Time{})
	return value.TimestampValue(a.Add(d))
}
