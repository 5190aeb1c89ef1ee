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

package dataflow

// Sign tags a Record as an assertion (Positive) or a revocation
// (Negative) of a previously emitted row of identical content.
type Sign int8

const (
	Positive Sign = 1
	Negative Sign = -1
)

func (s Sign) String() string {
	if s == Positive {
		return "+"
	}
	return "-"
}

// Flip returns the opposite sign.
func (s Sign) Flip() Sign {
	if s == Positive {
		return Negative
	}
	return Positive
}

// Record is a single row tagged with its sign. Stateful operators
// MUST emit a matched Negative/Positive pair whenever an
// already-materialized output row changes (spec.md §3).
type Record struct {
	Sign Sign
	Row  Row
}

func Pos(r Row) Record { return Record{Sign: Positive, Row: r} }
func Neg(r Row) Record { return Record{Sign: Negative, Row: r} }

// Records is an ordered batch of records, the unit emitted by
// Operator.OnInput.
type Records []Record

// AppendPair is a convenience helper for the "append
// negative/positive pair" pattern: it appends Neg(prior) when
// hadPrior is set, then Pos(next).
func (rs Records) AppendPair(prior, next Row, hadPrior bool) Records {
	if hadPrior {
		rs = append(rs, Neg(prior))
	}
	return append(rs, Pos(next))
}
