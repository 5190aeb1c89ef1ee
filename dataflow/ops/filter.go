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

import "github.com/doytsujin/readyset/dataflow"

// Filter evaluates a boolean expression per record and drops records
// for which the predicate is false or null, implementing SQL
// three-valued logic (spec.md §4.1).
type Filter struct {
	Predicate Expr
	arity     int
}

func NewFilter(predicate Expr, arity int) *Filter {
	return &Filter{Predicate: predicate, arity: arity}
}

func (f *Filter) Arity() int { return f.arity }

func (f *Filter) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	var res Result
	for _, rec := range u.Records {
		v := f.Predicate.Eval(rec.Row)
		b, ok := boolOf(v)
		if ok && b {
			res.Emit = append(res.Emit, rec)
		}
	}
	return res, nil
}

// NewFilterAggregation constructs a Filter and an Aggregation meant
// to sit directly upstream/downstream of each other; it does not
// connect them itself. Per SPEC_FULL.md, this
// is always a plain composition of two nodes, never a fused
// "FilterAggregation" operator (spec.md §9 open question, resolved);
// it returns the two kernels so a caller can wire them with
// dataflow.Graph.AddEdge.
func NewFilterAggregation(predicate Expr, agg AggParams, inputArity int) (*Filter, *Aggregation) {
	return NewFilter(predicate, inputArity), NewAggregation(agg)
}
