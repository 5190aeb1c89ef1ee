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

// Project computes a fixed list of output columns from input columns,
// literal constants, arithmetic, casts, and the closed builtin
// function set (spec.md §4.1). Each output column's sign is inherited
// from the input record; Project never changes Positive/Negative.
type Project struct {
	Columns []Expr
}

func NewProject(columns []Expr) *Project { return &Project{Columns: columns} }

func (p *Project) Arity() int { return len(p.Columns) }

func (p *Project) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	var res Result
	for _, rec := range u.Records {
		out := make(dataflow.Row, len(p.Columns))
		for i, e := range p.Columns {
			out[i] = e.Eval(rec.Row)
		}
		res.Emit = append(res.Emit, dataflow.Record{Sign: rec.Sign, Row: out})
	}
	return res, nil
}
