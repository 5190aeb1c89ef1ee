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
	"strings"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/state"
	"github.com/doytsujin/readyset/value"
)

// AggKind names the supported aggregation/extremum functions
// (spec.md §4.1). Grounded on original_source/src/ops/aggregate.rs's
// COUNT/SUM and extended per SPEC_FULL.md's supplemented feature set.
type AggKind int

const (
	AggCount AggKind = iota
	AggSum
	AggAvg
	AggMin
	AggMax
	AggGroupConcat
)

// AggParams configures an Aggregation node.
type AggParams struct {
	GroupCols []int
	OverCol   int
	Kind      AggKind
	Separator string // only used by AggGroupConcat
	OutIndex  state.IndexID
}

// groupAcc is the private multiset/accumulator an Aggregation kernel
// maintains per group, independent of the (single-row) materialized
// output in Own state. Sum/Count/Avg only need running totals;
// Min/Max/GroupConcat need the full multiset of contributing values
// because retracting the current extremum or a concatenated value
// requires recomputing from what remains (spec.md §4.1: "Aggregation
// requires its own state to be materialized for the group-by key").
type groupAcc struct {
	count  int64
	sum    float64
	values []value.Value // backing multiset for Min/Max/GroupConcat
}

// Aggregation implements the Aggregation/Extremum kernel (spec.md
// §4.1). One instance owns its group-by state long enough to
// maintain groupAcc across packets; instances are not safe for
// concurrent use, matching the single-threaded domain model (spec.md
// §4.3).
type Aggregation struct {
	Params AggParams
	acc    map[string]*groupAcc
}

func NewAggregation(p AggParams) *Aggregation {
	return &Aggregation{Params: p, acc: make(map[string]*groupAcc)}
}

func (a *Aggregation) Arity() int { return len(a.Params.GroupCols) + 1 }

func groupKey(row dataflow.Row, cols []int) string {
	s := make([]byte, 0, 16*len(cols))
	for _, c := range cols {
		s = append(s, []byte(row[c].String())...)
		s = append(s, 0)
	}
	return string(s)
}

func (a *Aggregation) acceptMiss(ctx *Context) bool {
	// Rule (b) of spec.md §4.4: an operator must not raise a new
	// miss against its OWN state while it is itself being filled by
	// replay; the replay batch is, by construction, the group's
	// complete history, so a prior-Miss there just means "start from
	// zero" rather than "go ask upstream again".
	return ctx.Replay == nil
}

func (a *Aggregation) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	groups := map[string]dataflow.Row{}
	for _, rec := range u.Records {
		k := groupKey(rec.Row, a.Params.GroupCols)
		groups[k] = rec.Row.Project(a.Params.GroupCols)
	}

	var res Result
	for k, groupRow := range groups {
		prior, hadPrior, missed, err := a.lookupPrior(ctx, groupRow, k)
		if err != nil {
			return Result{}, err
		}
		if missed && a.acceptMiss(ctx) {
			if _, ok := a.acc[k]; !ok {
				res.Replays = append(res.Replays, ReplayRequest{Key: groupRow})
				continue
			}
		}
		ga, ok := a.acc[k]
		if !ok {
			ga = &groupAcc{}
			a.acc[k] = ga
		}
		for _, rec := range u.Records {
			if groupKey(rec.Row, a.Params.GroupCols) != k {
				continue
			}
			a.applyDelta(ga, rec)
		}
		if ga.count == 0 {
			if hadPrior {
				res.Emit = append(res.Emit, dataflow.Neg(prior))
				res.Mutations = append(res.Mutations, state.Mutation{Row: prior, Remove: true})
			}
			delete(a.acc, k)
			continue
		}
		next := a.buildRow(groupRow, ga)
		if hadPrior {
			res.Emit = append(res.Emit, dataflow.Neg(prior))
			res.Mutations = append(res.Mutations, state.Mutation{Row: prior, Remove: true})
		}
		res.Emit = append(res.Emit, dataflow.Pos(next))
		res.Mutations = append(res.Mutations, state.Mutation{Row: next})
	}
	return res, nil
}

// lookupPrior reads the group's currently-materialized output row, if
// any. It distinguishes a real state-store Miss (missed=true: the key
// is on a partial index and not yet filled, so replay may be required)
// from a Hit that simply has no row yet (a known-empty group, e.g.
// right after its last contributing record was retracted) — conflating
// the two would make every already-resolved empty group look like an
// unfilled one and request replay forever.
func (a *Aggregation) lookupPrior(ctx *Context, groupRow dataflow.Row, k string) (prior dataflow.Row, hadPrior, missed bool, err error) {
	if ctx.Own == nil {
		return nil, false, false, nil
	}
	lr, err := ctx.Own.Lookup(a.Params.OutIndex, groupRow)
	if err != nil {
		return nil, false, false, err
	}
	if !lr.Hit {
		return nil, false, true, nil
	}
	if len(lr.Rows) == 0 {
		return nil, false, false, nil
	}
	return lr.Rows[0], true, false, nil
}

func (a *Aggregation) applyDelta(ga *groupAcc, rec dataflow.Record) {
	over := rec.Row[a.Params.OverCol]
	sign := 1.0
	if rec.Sign == dataflow.Negative {
		sign = -1.0
	}
	switch a.Params.Kind {
	case AggCount:
		ga.count += int64(sign)
	case AggSum, AggAvg:
		f, _ := over.Float()
		ga.sum += sign * f
		ga.count += int64(sign)
	case AggMin, AggMax, AggGroupConcat:
		if rec.Sign == dataflow.Positive {
			ga.values = append(ga.values, over)
		} else {
			for i, v := range ga.values {
				if v.Equal(over) {
					ga.values = append(ga.values[:i], ga.values[i+1:]...)
					break
				}
			}
		}
		ga.count = int64(len(ga.values))
	}
}

func (a *Aggregation) buildRow(groupRow dataflow.Row, ga *groupAcc) dataflow.Row {
	out := make(dataflow.Row, 0, len(groupRow)+1)
	out = append(out, groupRow...)
	switch a.Params.Kind {
	case AggCount:
		out = append(out, value.Int64Value(ga.count))
	case AggSum:
		out = append(out, value.Float64Value(ga.sum))
	case AggAvg:
		out = append(out, value.Float64Value(ga.sum/float64(ga.count)))
	case AggMin:
		out = append(out, extremum(ga.values, true))
	case AggMax:
		out = append(out, extremum(ga.values, false))
	case AggGroupConcat:
		parts := make([]string, len(ga.values))
		for i, v := range ga.values {
			parts[i] = v.String()
		}
		out = append(out, value.TextValue(strings.Join(parts, a.Params.Separator)))
	}
	return out
}

func extremum(values []value.Value, min bool) value.Value {
	if len(values) == 0 {
		return value.NullValue()
	}
	best := values[0]
	for _, v := range values[1:] {
		c := value.Compare(v, best)
		if (min && c < 0) || (!min && c > 0) {
			best = v
		}
	}
	return best
}
