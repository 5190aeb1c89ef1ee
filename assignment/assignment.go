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

// Package assignment implements the domain-assignment pass of
// spec.md §4.5: a parents-before-children walk over a migration's new
// nodes that partitions them into as few domains as possible while
// respecting the sharding and placement-restriction invariants ported
// directly from the original controller's migrate::assignment module.
package assignment

import (
	"github.com/doytsujin/readyset/dataflow"
)

// PlacementRestriction pins a node+shard to workers sharing a
// worker-volume label, mirroring the original's
// DomainPlacementRestriction/NodeRestrictionKey pair (spec.md §4.5
// "compatible" check).
type PlacementRestriction struct {
	WorkerVolume string
}

// RestrictionKey names one (node, shard) pair a PlacementRestriction
// applies to.
type RestrictionKey struct {
	NodeName string
	Shard    int
}

// Assigner runs the domain-assignment pass over a Graph, minting new
// DomainIndex values as needed. It is stateful across calls (NDomains
// grows monotonically) so repeated migrations keep extending the same
// domain numbering, matching the original's *ndomains counter threaded
// through the whole controller lifetime.
type Assigner struct {
	NDomains     int
	Restrictions map[RestrictionKey]PlacementRestriction
}

func NewAssigner() *Assigner {
	return &Assigner{Restrictions: make(map[RestrictionKey]PlacementRestriction)}
}

func (a *Assigner) nextDomain() dataflow.DomainIndex {
	d := dataflow.DomainIndex(a.NDomains)
	a.NDomains++
	return d
}

// Assign walks topoList (parents before children, as returned by
// Graph.TopoSort) and assigns every node without a domain yet a
// DomainIndex, mutating g in place.
func (a *Assigner) Assign(g *dataflow.Graph, topoList []dataflow.NodeId) {
	for _, id := range topoList {
		n := g.Get(id)
		if n == nil || n.HasDomain {
			continue
		}
		n.Domain = a.assignOne(g, n)
		n.HasDomain = true
	}
}

func (a *Assigner) assignOne(g *dataflow.Graph, n *dataflow.Node) dataflow.DomainIndex {
	switch {
	case n.Kind == dataflow.KindShardMerger:
		// Shard mergers are always in their own domain (spec.md §4.5:
		// "shard merge nodes are never in the same domain as their
		// sharded ancestors").
		return a.nextDomain()
	case n.Kind == dataflow.KindReader:
		// Readers always re-materialize, so sharing a domain buys
		// little, and isolating them keeps reader-replay traffic from
		// interfering with other domains' internal traffic.
		return a.nextDomain()
	case n.Kind == dataflow.KindBase:
		return a.assignBase(g, n)
	}
	return a.assignDerived(g, n)
}

// assignBase implements the "friendly base" search: walk down from
// the base to the first sharder/shard-merger boundary, collect every
// node visited, then walk up from those nodes (skipping the sharding
// boundary) to find another base that already has a domain and whose
// shard-count/placement restrictions are compatible (spec.md §4.5).
func (a *Assigner) assignBase(g *dataflow.Graph, n *dataflow.Node) dataflow.DomainIndex {
	childrenSameShard := a.walkDownToSharderBoundary(g, n.ID)

	var friendly *dataflow.Node
	frontier := append([]dataflow.NodeId(nil), childrenSameShard...)
	seen := map[dataflow.NodeId]bool{}
search:
	for len(frontier) > 0 {
		next := frontier
		frontier = nil
		for _, pid := range next {
			if pid == n.ID || seen[pid] {
				continue
			}
			seen[pid] = true
			p := g.Get(pid)
			if p == nil {
				continue
			}
			switch {
			case p.Kind == dataflow.KindSharder || p.Kind == dataflow.KindShardMerger:
				// boundary: do not walk past it.
			case p.Kind == dataflow.KindBase:
				if p.HasDomain {
					friendly = p
					break search
				}
			default:
				frontier = append(frontier, p.Parents...)
			}
		}
	}

	if friendly == nil {
		// No compatible existing base to share with: a fresh domain.
		return a.nextDomain()
	}
	numShards := minShards(n.Sharding, friendly.Sharding)
	if a.basesCompatible(n, friendly, numShards) {
		return friendly.Domain
	}
	return a.nextDomain()
}

func minShards(a, b dataflow.ShardingDescriptor) int {
	as, bs := 1, 1
	if a.Sharded && a.Shards > 0 {
		as = a.Shards
	}
	if b.Sharded && b.Shards > 0 {
		bs = b.Shards
	}
	if as < bs {
		return as
	}
	return bs
}

// basesCompatible ports the original's `compatible` closure: two bases
// may only share a domain if every shard's placement restriction
// agrees on worker volume (spec.md §4.5).
func (a *Assigner) basesCompatible(newNode, existing *dataflow.Node, numShards int) bool {
	for i := 0; i < numShards; i++ {
		nr, nOK := a.Restrictions[RestrictionKey{NodeName: newNode.Name, Shard: i}]
		er, eOK := a.Restrictions[RestrictionKey{NodeName: existing.Name, Shard: i}]
		switch {
		case nOK && eOK:
			if nr.WorkerVolume != er.WorkerVolume {
				return false
			}
		case nOK && !eOK:
			return false
		default:
			// (!nOK, eOK) and (!nOK, !eOK) are both fine: a node with no
			// restriction of its own can join a domain that does (or
			// does not) have one.
		}
	}
	return true
}

// walkDownToSharderBoundary collects every descendant of id reachable
// without crossing a sharder/shard-merger, per spec.md §4.5's base
// walk-down step (two bases sharded differently must not be merged
// into one domain just because a downstream join happens to combine
// them after re-sharding).
func (a *Assigner) walkDownToSharderBoundary(g *dataflow.Graph, id dataflow.NodeId) []dataflow.NodeId {
	var out []dataflow.NodeId
	n := g.Get(id)
	if n == nil {
		return nil
	}
	frontier := append([]dataflow.NodeId(nil), n.Children...)
	for len(frontier) > 0 {
		next := frontier
		frontier = nil
		for _, cid := range next {
			c := g.Get(cid)
			if c == nil {
				continue
			}
			if c.Kind == dataflow.KindSharder || c.Kind == dataflow.KindShardMerger {
				continue
			}
			out = append(out, cid)
			frontier = append(frontier, c.Children...)
		}
	}
	return out
}

// assignDerived handles every non-base, non-reader, non-shard-merger
// node: prefer the first domain-having, non-sharder parent's domain
// (rejecting it if doing so would create an A-B-A cross-domain cycle),
// then fall back to a domain-having sibling, and only then mint a new
// domain (spec.md §4.5).
func (a *Assigner) assignDerived(g *dataflow.Graph, n *dataflow.Node) dataflow.DomainIndex {
	var candidate dataflow.DomainIndex
	haveCandidate := false

	for _, pid := range n.Parents {
		p := g.Get(pid)
		if p == nil {
			continue
		}
		switch {
		case p.Kind == dataflow.KindSharder:
			// A child of a sharder always starts a new sharding and can
			// never share the sharder's domain.
			continue
		case !haveCandidate && p.HasDomain:
			candidate = p.Domain
			haveCandidate = true
		}
		if haveCandidate {
			if a.createsABA(g, n, candidate) {
				haveCandidate = false
				continue
			}
			break
		}
	}

	if !haveCandidate {
		for _, pid := range n.Parents {
			p := g.Get(pid)
			if p == nil {
				continue
			}
			for _, sid := range p.Children {
				s := g.Get(sid)
				if s == nil || !s.HasDomain {
					continue
				}
				if s.Sharding.Sharded != n.Sharding.Sharded {
					continue
				}
				if a.createsABA(g, n, s.Domain) {
					continue
				}
				candidate = s.Domain
				haveCandidate = true
				break
			}
			if haveCandidate {
				break
			}
		}
	}

	if haveCandidate {
		return candidate
	}
	return a.nextDomain()
}

// createsABA checks whether joining domain `candidate` would produce
// an A-B-A cross-domain path: some ancestor of n is already in a
// *different* domain B, and an ancestor of that ancestor is back in
// `candidate`. Packets crossing domain boundaries are strictly
// serialized, so such a loop would reintroduce reorderings that break
// spec.md §4.3's ordering guarantees.
func (a *Assigner) createsABA(g *dataflow.Graph, n *dataflow.Node, candidate dataflow.DomainIndex) bool {
	visited := map[dataflow.NodeId]bool{}
	var stack []dataflow.NodeId
	for _, pid := range n.Parents {
		p := g.Get(pid)
		if p != nil && p.HasDomain && p.Domain != candidate {
			stack = append(stack, pid)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		p := g.Get(id)
		if p == nil {
			continue
		}
		if p.HasDomain && p.Domain == candidate {
			return true
		}
		stack = append(stack, p.Parents...)
	}
	return false
}
