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
	"testing"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/value"
)

func TestBaseResolvesUpdateByPrimaryKey(t *testing.T) {
	b := NewBase(BaseParams{Table: "users", Arity: 2, PrimaryKey: []int{0}})

	out := b.ApplyPositive(vrow(1, 100))
	if len(out) != 1 || out[0].Sign != dataflow.Positive {
		t.Fatalf("expected a bare Positive on first insert, got %+v", out)
	}

	// An "update" that only changes the non-key column must resolve to
	// a matched Negative(old)/Positive(new) pair keyed by primary key.
	out = b.ApplyPositive(vrow(1, 200))
	if len(out) != 2 || out[0].Sign != dataflow.Negative || out[1].Sign != dataflow.Positive {
		t.Fatalf("expected Negative(old) then Positive(new), got %+v", out)
	}
	if n, _ := out[0].Row[1].Int(); n != 100 {
		t.Fatalf("expected retracted row to carry the old value 100, got %v", out[0].Row[1])
	}

	// A delete carrying only the primary key must recover the full row.
	del := b.ApplyNegative(dataflow.Row{value.Int64Value(1), value.NullValue()})
	if len(del) != 1 || del[0].Sign != dataflow.Negative {
		t.Fatalf("expected a single Negative, got %+v", del)
	}
	if n, _ := del[0].Row[1].Int(); n != 200 {
		t.Fatalf("expected the recovered full row (value=200), got %v", del[0].Row[1])
	}
}

func TestUnionForwardsFromEveryParent(t *testing.T) {
	u := NewUnion(1)
	left := dataflow.NewNodeId()
	right := dataflow.NewNodeId()

	res, err := u.OnInput(&Context{}, left, dataflow.Update{Records: dataflow.Records{dataflow.Pos(vrow(1))}})
	if err != nil || len(res.Emit) != 1 {
		t.Fatalf("expected left parent's record forwarded, got %+v, err=%v", res, err)
	}
	res, err = u.OnInput(&Context{}, right, dataflow.Update{Records: dataflow.Records{dataflow.Pos(vrow(2))}})
	if err != nil || len(res.Emit) != 1 {
		t.Fatalf("expected right parent's record forwarded, got %+v, err=%v", res, err)
	}
}

func TestProjectPreservesSignAndEvaluatesExpr(t *testing.T) {
	p := NewProject([]Expr{Column(0), Binary{Op: OpAdd, Left: Column(0), Right: Literal{V: value.Int64Value(1)}}})
	res, err := p.OnInput(&Context{}, dataflow.NodeId{}, dataflow.Update{
		Records: dataflow.Records{dataflow.Neg(vrow(5))},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Emit) != 1 || res.Emit[0].Sign != dataflow.Negative {
		t.Fatalf("expected sign to be preserved, got %+v", res.Emit)
	}
	if f, _ := res.Emit[0].Row[1].Float(); f != 6 {
		t.Fatalf("expected projected column to be 6, got %v", res.Emit[0].Row[1])
	}
}

func TestSharderRoutesByHashedColumns(t *testing.T) {
	s := NewSharder([]int{0}, 4, 1)
	u := dataflow.Update{Records: dataflow.Records{
		dataflow.Pos(vrow(1)), dataflow.Pos(vrow(2)), dataflow.Pos(vrow(1)),
	}}
	routed := s.Route(u)
	total := 0
	for _, recs := range routed {
		total += len(recs)
	}
	if total != 3 {
		t.Fatalf("expected all 3 records routed, got %d", total)
	}
	// The same key must always route to the same shard.
	shard1 := s.ShardFor(vrow(1))
	for _, rec := range routed[shard1] {
		if n, _ := rec.Row[0].Int(); n != 1 {
			continue
		}
	}
	if got := s.ShardFor(vrow(1)); got != shard1 {
		t.Fatalf("expected deterministic routing for the same key, got %d then %d", shard1, got)
	}
}
