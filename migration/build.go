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

package migration

import (
	"fmt"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/dataflow/ops"
	"github.com/doytsujin/readyset/domain"
	"github.com/doytsujin/readyset/state"
)

// materialize turns every not-yet-built node in order (parents before
// children, as TopoSort returns) into a real ops.Operator plus
// state.Store wired into the domain.Domain its NodeSpec.Domain names,
// creating that Domain the first time one of its nodes is visited.
//
// This is the step spec.md §6's "commit(migration) -> assignment_plan
// ... applied atomically" contract was missing: Assigner.Assign alone
// only stamps a DomainIndex onto each Node, it never turns a
// NodeSpec{Kind, Params} into anything runnable. Without this,
// cmd/readysetd/main.go had to hand-build the same operator+store+wire
// sequence for its one demo graph instead of deriving it from the
// graph Commit had just assigned.
func (c *Controller) materialize(order []dataflow.NodeId) error {
	for _, id := range order {
		if c.built[id] {
			continue
		}
		n := c.Graph.Get(id)
		if n == nil {
			continue
		}

		d := c.domainFor(n.Domain)
		n.Local = c.nextLocal(n.Domain)

		if n.Kind == dataflow.KindReader {
			if err := c.materializeReader(d, n); err != nil {
				return fmt.Errorf("node %q: %w", n.Name, err)
			}
		} else {
			op, own, ownIndex, err := buildOperator(n)
			if err != nil {
				return fmt.Errorf("node %q: %w", n.Name, err)
			}
			d.AddNode(n.Local, n.ID, n.Kind, op, own, ownIndex)
			if own != nil {
				c.ownIndex[n.ID] = ownIndex
				c.OwnStates[n.ID] = own
			}
		}
		c.built[id] = true

		for _, pid := range n.Parents {
			p := c.Graph.Get(pid)
			if p == nil || !c.built[pid] {
				continue
			}
			if err := c.wireEdge(p, n); err != nil {
				return fmt.Errorf("wiring %q -> %q: %w", p.Name, n.Name, err)
			}
		}
	}
	return nil
}

// domainFor returns the domain.Domain standing in for idx, creating it
// (and registering its inbox with Router) the first time idx is seen.
func (c *Controller) domainFor(idx dataflow.DomainIndex) *domain.Domain {
	if d, ok := c.Domains[idx]; ok {
		return d
	}
	d := domain.New(idx, 0, c.Router)
	c.Domains[idx] = d
	c.Router.Register(idx, d.Inbox())
	return d
}

// nextLocal mints the next dense LocalNodeIndex for domain idx, the
// slice-index role domain.Domain.AddNode requires (spec.md §9).
func (c *Controller) nextLocal(idx dataflow.DomainIndex) dataflow.LocalNodeIndex {
	next := c.domainLocalNext[idx]
	c.domainLocalNext[idx] = next + 1
	return next
}

// wireEdge connects an already-materialized parent to an
// already-materialized child: Connect for a same-domain edge,
// ConnectRemote for a cross-domain one, or one ConnectSharded edge per
// destination shard when the parent is a Sharder (spec.md §4.3 "a
// sharder operator deterministically routes records to shards").
//
// assignment.Assigner assigns exactly one DomainIndex per graph node,
// with no per-shard node replication modeled in the Graph at all; every
// shard of a Sharder parent is therefore wired to the same single
// child domain/node assignment already gave the sharder's child. That
// is correct for the common case of a sharder feeding one subsequent
// stage per shard count of 1, or a worker-local fan-in; true N-way
// shard replication at the graph level is a larger modeling change
// this migration layer does not attempt, not a regression it
// introduces (see DESIGN.md).
func (c *Controller) wireEdge(p, n *dataflow.Node) error {
	pd := c.domainFor(p.Domain)
	switch {
	case p.Domain == n.Domain:
		pd.Connect(p.Local, n.Local)
	case p.Kind == dataflow.KindSharder:
		shards := p.Sharding.Shards
		if shards < 1 {
			shards = 1
		}
		for shard := 0; shard < shards; shard++ {
			pd.ConnectSharded(p.Local, shard, n.Domain, n.Local)
		}
	default:
		pd.ConnectRemote(p.Local, n.Domain, n.Local)
	}
	return nil
}

// materializeReader builds a state.ReaderStore for a KindReader node,
// wires it into its domain via domain.Domain.SetReader (so a later
// RequestReaderReplay resolves against the declared parent/index), and
// records it in Controller.Readers so callers can Lookup/WaitForFill
// without reaching back into domain internals.
func (c *Controller) materializeReader(d *domain.Domain, n *dataflow.Node) error {
	if len(n.Parents) == 0 {
		return fmt.Errorf("reader has no parent")
	}
	parent := c.Graph.Get(n.Parents[0])
	if parent == nil {
		return fmt.Errorf("reader parent %s not found", n.Parents[0])
	}
	rs := state.NewReaderStore(n.IsPartial, n.ReaderKeyCols)
	d.AddNode(n.Local, n.ID, n.Kind, ops.NewReader(rs, n.ReaderKeyCols, n.Arity), nil, 0)
	d.SetReader(n.Local, rs, parent.ID, c.ownIndex[parent.ID])
	c.Readers[n.ID] = rs
	return nil
}

// buildOperator dispatches on n.Kind to construct the matching ops.Operator
// kernel, type-asserting n.Params against the per-kind parameter struct
// the kernel's constructor expects, and returns the state.Store (and
// its IndexID) the node's own state should materialize under, if any.
//
// Join/LeftJoin never carry their own state (they read the *other*
// parent's via ops.LookupFn, spec.md §4.1); TopK keeps a private
// in-memory backing set rather than a state.Store. Every other kind
// materializes its own index only when the NodeSpec declared one via
// HasOwnIndex, except Aggregation/Extremum, which always need one
// (lookupPrior requires ctx.Own to diff against) and default to
// AggParams.OutIndex/GroupCols when the node didn't declare its own.
func buildOperator(n *dataflow.Node) (ops.Operator, state.Store, state.IndexID, error) {
	switch n.Kind {
	case dataflow.KindBase:
		// A node authored without Params (e.g. straight through
		// Migration.AddNode with only Name/Kind/Arity set) still gets a
		// usable Base: Table/Arity fall back to the NodeSpec's own
		// fields, and an empty PrimaryKey just means every write is
		// treated as a fresh row rather than an update/delete match.
		p, ok := n.Params.(ops.BaseParams)
		if !ok {
			p = ops.BaseParams{Table: n.Name, Arity: n.Arity}
		}
		own, idx := ownStateFor(n)
		return ops.NewBase(p), own, idx, nil
	case dataflow.KindIdentity:
		own, idx := ownStateFor(n)
		return ops.NewIdentity(n.Arity), own, idx, nil
	case dataflow.KindFilter:
		p, ok := n.Params.(ops.Expr)
		if !ok {
			return nil, nil, 0, fmt.Errorf("filter requires an ops.Expr predicate as Params")
		}
		own, idx := ownStateFor(n)
		return ops.NewFilter(p, n.Arity), own, idx, nil
	case dataflow.KindProject:
		p, ok := n.Params.([]ops.Expr)
		if !ok {
			return nil, nil, 0, fmt.Errorf("project requires []ops.Expr columns as Params")
		}
		own, idx := ownStateFor(n)
		return ops.NewProject(p), own, idx, nil
	case dataflow.KindJoin, dataflow.KindLeftJoin:
		p, ok := n.Params.(ops.JoinParams)
		if !ok {
			return nil, nil, 0, fmt.Errorf("join requires ops.JoinParams as Params")
		}
		return ops.NewJoin(p), nil, 0, nil
	case dataflow.KindAggregation, dataflow.KindExtremum:
		// As with Base, a node declared without Params still gets a
		// runnable (if trivial: AggCount over an empty group key)
		// Aggregation rather than failing materialization outright.
		p, ok := n.Params.(ops.AggParams)
		if !ok {
			p = ops.AggParams{}
		}
		own, idx := ownStateFor(n)
		if own == nil {
			idx = p.OutIndex
			own = state.NewMemoryStore(n.IsPartial, state.IndexSpec{ID: idx, Columns: p.GroupCols})
		}
		return ops.NewAggregation(p), own, idx, nil
	case dataflow.KindTopK:
		p, ok := n.Params.(ops.TopKParams)
		if !ok {
			return nil, nil, 0, fmt.Errorf("top_k requires ops.TopKParams as Params")
		}
		return ops.NewTopK(p, n.Arity), nil, 0, nil
	case dataflow.KindDistinct:
		own, idx := ownStateFor(n)
		return ops.NewDistinct(n.Arity), own, idx, nil
	case dataflow.KindUnion:
		own, idx := ownStateFor(n)
		return ops.NewUnion(n.Arity), own, idx, nil
	case dataflow.KindSharder:
		return ops.NewSharder(n.Sharding.Columns, n.Sharding.Shards, n.Arity), nil, 0, nil
	case dataflow.KindShardMerger:
		return ops.NewShardMerger(n.Arity), nil, 0, nil
	default:
		return nil, nil, 0, fmt.Errorf("unsupported kind %s", n.Kind)
	}
}

// ownStateFor builds a node's own materialized state.Store from its
// NodeSpec-declared index, if any. This is the generic mechanism a
// non-Aggregation node (most commonly a Base or Distinct feeding a
// downstream Join/Aggregation's ops.LookupFn) uses to expose a
// queryable index, independent of whatever its own kernel's Params
// happen to be.
func ownStateFor(n *dataflow.Node) (state.Store, state.IndexID) {
	if !n.HasOwnIndex {
		return nil, 0
	}
	idx := state.IndexID(n.OwnIndexID)
	return state.NewMemoryStore(n.IsPartial, state.IndexSpec{ID: idx, Columns: n.OwnIndexCols}), idx
}
