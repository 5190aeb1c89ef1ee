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

// Distinct groups by all projected columns and maintains a reference
// count per row, emitting Positive on 0->1 and Negative on 1->0
// (spec.md §4.1).
type Distinct struct {
	arity int
	refs  map[string]int64
}

func NewDistinct(arity int) *Distinct {
	return &Distinct{arity: arity, refs: make(map[string]int64)}
}

func (d *Distinct) Arity() int { return d.arity }

func (d *Distinct) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	var res Result
	for _, rec := range u.Records {
		k := string(keyOf(rec.Row))
		n := d.refs[k]
		switch rec.Sign {
		case dataflow.Positive:
			n++
			if n == 1 {
				res.Emit = append(res.Emit, dataflow.Pos(rec.Row))
			}
		case dataflow.Negative:
			n--
			if n == 0 {
				res.Emit = append(res.Emit, dataflow.Neg(rec.Row))
			}
		}
		if n <= 0 {
			delete(d.refs, k)
		} else {
			d.refs[k] = n
		}
	}
	return res, nil
}

func keyOf(row dataflow.Row) []byte {
	out := make([]byte, 0, 16*len(row))
	for _, v := range row {
		out = append(out, []byte(v.String())...)
		out = append(out, 0)
	}
	return out
}
