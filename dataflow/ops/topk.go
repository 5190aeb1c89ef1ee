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
	"sort"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/value"
)

// TopKParams configures a TopK node (spec.md §4.1).
type TopKParams struct {
	GroupCols  []int
	OrderCols  []int
	Descending []bool // one per OrderCols entry
	K          int
	Offset     int
}

// TopK maintains, per group, the full backing set of contributing
// rows (needed to recompute the window whenever a row enters or
// leaves the group) and emits the difference between the prior and
// new top-k as Negative/Positive pairs (spec.md §4.1, §8 scenario 5).
type TopK struct {
	Params  TopKParams
	arity   int
	backing map[string][]dataflow.Row
}

func NewTopK(p TopKParams, arity int) *TopK {
	return &TopK{Params: p, arity: arity, backing: make(map[string][]dataflow.Row)}
}

func (t *TopK) Arity() int { return t.arity }

func (t *TopK) less(a, b dataflow.Row) bool {
	for i, col := range t.Params.OrderCols {
		c := value.Compare(a[col], b[col])
		if c == 0 {
			continue
		}
		if t.Params.Descending != nil && i < len(t.Params.Descending) && t.Params.Descending[i] {
			return c > 0
		}
		return c < 0
	}
	return false
}

func (t *TopK) window(rows []dataflow.Row) []dataflow.Row {
	sorted := make([]dataflow.Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return t.less(sorted[i], sorted[j]) })
	lo := t.Params.Offset
	if lo > len(sorted) {
		lo = len(sorted)
	}
	hi := lo + t.Params.K
	if hi > len(sorted) {
		hi = len(sorted)
	}
	return sorted[lo:hi]
}

func rowsContain(rows []dataflow.Row, r dataflow.Row) bool {
	for _, x := range rows {
		if x.Equal(r) {
			return true
		}
	}
	return false
}

func (t *TopK) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	groups := map[string]dataflow.Row{}
	for _, rec := range u.Records {
		k := groupKey(rec.Row, t.Params.GroupCols)
		groups[k] = rec.Row.Project(t.Params.GroupCols)
	}

	var res Result
	for k := range groups {
		backing, known := t.backing[k]
		if !known && ctx.Replay == nil {
			// The group's backing set is not resident; request a
			// replay rather than computing a window from a partial
			// view (spec.md §4.1: "If the affected group's backing
			// set is not fully known (partial), requests replay").
			res.Replays = append(res.Replays, ReplayRequest{Key: groups[k]})
			continue
		}
		before := t.window(backing)
		for _, rec := range u.Records {
			if groupKey(rec.Row, t.Params.GroupCols) != k {
				continue
			}
			switch rec.Sign {
			case dataflow.Positive:
				backing = append(backing, rec.Row)
			case dataflow.Negative:
				for i, r := range backing {
					if r.Equal(rec.Row) {
						backing = append(backing[:i], backing[i+1:]...)
						break
					}
				}
			}
		}
		t.backing[k] = backing
		after := t.window(backing)
		for _, r := range before {
			if !rowsContain(after, r) {
				res.Emit = append(res.Emit, dataflow.Neg(r))
			}
		}
		for _, r := range after {
			if !rowsContain(before, r) {
				res.Emit = append(res.Emit, dataflow.Pos(r))
			}
		}
	}
	return res, nil
}
