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

package assignment

import (
	"testing"

	"github.com/doytsujin/readyset/dataflow"
)

// TestReadersAndShardMergersGetFreshDomains exercises spec.md §4.5's
// rule that readers and shard mergers are always assigned their own
// domain, never sharing with a parent.
func TestReadersAndShardMergersGetFreshDomains(t *testing.T) {
	g := dataflow.NewGraph()
	base := g.AddNode(dataflow.NodeSpec{Name: "t", Kind: dataflow.KindBase, Arity: 1})
	reader := g.AddNode(dataflow.NodeSpec{Name: "r", Kind: dataflow.KindReader, Arity: 1})
	merger := g.AddNode(dataflow.NodeSpec{Name: "m", Kind: dataflow.KindShardMerger, Arity: 1})
	g.AddEdge(base, reader)
	g.AddEdge(base, merger)

	a := NewAssigner()
	a.Assign(g, g.TopoSort())

	baseDom := g.Get(base).Domain
	if g.Get(reader).Domain == baseDom {
		t.Fatalf("expected reader to get its own domain, shared %d with base", baseDom)
	}
	if g.Get(merger).Domain == baseDom {
		t.Fatalf("expected shard merger to get its own domain, shared %d with base", baseDom)
	}
	if g.Get(reader).Domain == g.Get(merger).Domain {
		t.Fatalf("expected reader and shard merger to land in distinct domains")
	}
}

// TestDerivedNodeJoinsParentDomain exercises the common case: a plain
// derived operator with a single domain-having parent and no sharding
// boundary should be folded into that parent's domain rather than
// minting a new one.
func TestDerivedNodeJoinsParentDomain(t *testing.T) {
	g := dataflow.NewGraph()
	base := g.AddNode(dataflow.NodeSpec{Name: "t", Kind: dataflow.KindBase, Arity: 2})
	filt := g.AddNode(dataflow.NodeSpec{Name: "f", Kind: dataflow.KindFilter, Arity: 2})
	g.AddEdge(base, filt)

	a := NewAssigner()
	a.Assign(g, g.TopoSort())

	if g.Get(filt).Domain != g.Get(base).Domain {
		t.Fatalf("expected filter to join base's domain %d, got %d", g.Get(base).Domain, g.Get(filt).Domain)
	}
}

// TestTwoUnrelatedBasesGetDistinctDomains exercises the case where no
// friendly base exists: each base table with no shared downstream
// lineage gets its own domain.
func TestTwoUnrelatedBasesGetDistinctDomains(t *testing.T) {
	g := dataflow.NewGraph()
	a1 := g.AddNode(dataflow.NodeSpec{Name: "a", Kind: dataflow.KindBase, Arity: 1})
	b1 := g.AddNode(dataflow.NodeSpec{Name: "b", Kind: dataflow.KindBase, Arity: 1})

	a := NewAssigner()
	a.Assign(g, g.TopoSort())

	if g.Get(a1).Domain == g.Get(b1).Domain {
		t.Fatalf("expected unrelated bases to get distinct domains")
	}
}

// TestIncompatiblePlacementForcesNewDomain exercises spec.md §4.5's
// placement-restriction compatibility check: a friendly base
// relationship still must not merge two bases whose shards demand
// different worker volumes.
func TestIncompatiblePlacementForcesNewDomain(t *testing.T) {
	g := dataflow.NewGraph()
	a1 := g.AddNode(dataflow.NodeSpec{Name: "a", Kind: dataflow.KindBase, Arity: 1})
	j := g.AddNode(dataflow.NodeSpec{Name: "j", Kind: dataflow.KindJoin, Arity: 2})
	b1 := g.AddNode(dataflow.NodeSpec{Name: "b", Kind: dataflow.KindBase, Arity: 1})
	g.AddEdge(a1, j)
	g.AddEdge(b1, j)

	as := NewAssigner()
	as.Restrictions[RestrictionKey{NodeName: "a", Shard: 0}] = PlacementRestriction{WorkerVolume: "vol-1"}
	as.Restrictions[RestrictionKey{NodeName: "b", Shard: 0}] = PlacementRestriction{WorkerVolume: "vol-2"}
	as.Assign(g, g.TopoSort())

	if g.Get(a1).Domain == g.Get(b1).Domain {
		t.Fatalf("expected incompatible placement restrictions to force separate domains")
	}
}
