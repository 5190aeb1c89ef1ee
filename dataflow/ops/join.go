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
	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/state"
	"github.com/doytsujin/readyset/value"
)

// JoinKind selects inner vs left-outer semantics.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftOuterJoin
)

// JoinParams configures a binary Join/LeftJoin node (spec.md §4.1).
// Both parents must carry a materialized index on their respective
// join-key columns: "Join requires the *other* side's state to be
// materialized with an index on the join key" applies symmetrically,
// since either side may be the one that changes.
type JoinParams struct {
	Kind                   JoinKind
	LeftParent, RightParent dataflow.NodeId
	LeftCols, RightCols     []int
	LeftArity, RightArity   int
	LeftIndex, RightIndex   state.IndexID
}

// Join implements both Join (Kind==InnerJoin) and LeftJoin
// (Kind==LeftOuterJoin).
type Join struct {
	Params JoinParams
}

func NewJoin(p JoinParams) *Join { return &Join{Params: p} }

func (j *Join) Arity() int { return j.Params.LeftArity + j.Params.RightArity }

func combine(left, right dataflow.Row) dataflow.Row {
	out := make(dataflow.Row, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out
}

func nullRow(n int) dataflow.Row {
	out := make(dataflow.Row, n)
	for i := range out {
		out[i] = value.NullValue()
	}
	return out
}

func (j *Join) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	var res Result
	p := j.Params
	fromLeft := from == p.LeftParent
	for _, rec := range u.Records {
		var err error
		var sub Result
		if fromLeft {
			sub, err = j.onLeftDelta(ctx, rec)
		} else {
			sub, err = j.onRightDelta(ctx, rec)
		}
		if err != nil {
			return Result{}, err
		}
		res.Emit = append(res.Emit, sub.Emit...)
		res.Replays = append(res.Replays, sub.Replays...)
	}
	return res, nil
}

func (j *Join) onLeftDelta(ctx *Context, rec dataflow.Record) (Result, error) {
	p := j.Params
	key := rec.Row.Project(p.LeftCols)
	lr, err := ctx.Lookup(p.RightParent, p.RightIndex, key)
	if err != nil {
		return Result{}, err
	}
	if !lr.Hit {
		return Result{Replays: []ReplayRequest{{Key: key, Node: p.RightParent, Index: p.RightIndex}}}, nil
	}
	var res Result
	if len(lr.Rows) == 0 {
		if p.Kind == LeftOuterJoin {
			res.Emit = append(res.Emit, dataflow.Record{Sign: rec.Sign, Row: combine(rec.Row, nullRow(p.RightArity))})
		}
		return res, nil
	}
	for _, right := range lr.Rows {
		res.Emit = append(res.Emit, dataflow.Record{Sign: rec.Sign, Row: combine(rec.Row, right)})
	}
	return res, nil
}

func (j *Join) onRightDelta(ctx *Context, rec dataflow.Record) (Result, error) {
	p := j.Params
	key := rec.Row.Project(p.RightCols)
	lr, err := ctx.Lookup(p.LeftParent, p.LeftIndex, key)
	if err != nil {
		return Result{}, err
	}
	if !lr.Hit {
		return Result{Replays: []ReplayRequest{{Key: key, Node: p.LeftParent, Index: p.LeftIndex}}}, nil
	}
	var res Result
	if len(lr.Rows) == 0 {
		// No left rows for this key: nothing to emit for inner join,
		// and nothing was ever padded for a left-join since there is
		// no left row to pad.
		return res, nil
	}
	if p.Kind != LeftOuterJoin {
		for _, left := range lr.Rows {
			res.Emit = append(res.Emit, dataflow.Record{Sign: rec.Sign, Row: combine(left, rec.Row)})
		}
		return res, nil
	}
	// Left-join: determine whether this delta crosses the
	// zero-matches boundary for the right side, which is when the
	// previously-emitted null-padded row must be retracted (or
	// re-instated) alongside the newly joined row (spec.md §4.1,
	// §8 scenario 4).
	rightNow, err := ctx.Lookup(p.RightParent, p.RightIndex, key)
	if err != nil {
		return Result{}, err
	}
	rightCountAfter := 0
	if rightNow.Hit {
		rightCountAfter = len(rightNow.Rows)
	}
	crossedToOne := rec.Sign == dataflow.Positive && rightCountAfter == 1
	crossedToZero := rec.Sign == dataflow.Negative && rightCountAfter == 0
	for _, left := range lr.Rows {
		switch {
		case crossedToOne:
			res.Emit = append(res.Emit,
				dataflow.Neg(combine(left, nullRow(p.RightArity))),
				dataflow.Pos(combine(left, rec.Row)))
		case crossedToZero:
			res.Emit = append(res.Emit,
				dataflow.Neg(combine(left, rec.Row)),
				dataflow.Pos(combine(left, nullRow(p.RightArity))))
		default:
			res.Emit = append(res.Emit, dataflow.Record{Sign: rec.Sign, Row: combine(left, rec.Row)})
		}
	}
	return res, nil
}
