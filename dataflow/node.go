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

package dataflow

// Kind tags the operator variant a Node carries. Per spec.md §9,
// operators are represented as a tagged variant dispatched on this
// tag rather than through an interface vtable at the graph level;
// package ops supplies the per-kind kernel that actually implements
// OnInput.
type Kind uint8

const (
	KindBase Kind = iota
	KindIdentity
	KindFilter
	KindProject
	KindJoin
	KindLeftJoin
	KindAggregation
	KindExtremum
	KindTopK
	KindDistinct
	KindUnion
	KindSharder
	KindShardMerger
	KindReader
)

func (k Kind) String() string {
	names := [...]string{
		"base", "identity", "filter", "project", "join", "left_join",
		"aggregation", "extremum", "top_k", "distinct", "union",
		"sharder", "shard_merger", "reader",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// ShardingDescriptor records how a node's rows are partitioned across
// shards, if at all.
type ShardingDescriptor struct {
	Sharded bool
	Columns []int // column positions the sharder hashes on
	Shards  int
}

// WorkerPlacementRestriction pins a node (typically a Base) to
// workers advertising a matching label. Domain assignment does not
// read NodeSpec.Placement: its "friendly base" compatibility check
// uses assignment.Assigner.Restrictions instead.
type WorkerPlacementRestriction struct {
	Restricted bool
	Label      string
}

// NodeSpec is the immutable description of an operator node as
// authored by a migration, before it has been assigned a domain.
type NodeSpec struct {
	ID       NodeId
	Name     string
	Kind     Kind
	Arity    int // number of output columns
	Parents  []NodeId
	Children []NodeId

	Sharding      ShardingDescriptor
	Placement     WorkerPlacementRestriction
	Params        any // per-kind parameter struct (ops.FilterParams, ops.JoinParams, ...)
	IsPartial     bool
	ReaderKeyCols []int // only meaningful for KindReader

	// HasOwnIndex/OwnIndexID/OwnIndexCols declare that this node's own
	// state should be materialized under the given index, independent
	// of its Kind's own Params: any node a downstream Join/Aggregation
	// reaches via ops.LookupFn (most commonly a Base or Distinct feeding
	// a join's "other side" requirement, spec.md §4.1) needs this, not
	// only kinds whose own kernel reads ctx.Own directly. A plain uint32
	// id and []int columns are used rather than state.IndexSpec so this
	// package does not need to import package state (mirroring
	// Evict.IndexID's existing convention).
	HasOwnIndex  bool
	OwnIndexID   uint32
	OwnIndexCols []int
}

// Node is a NodeSpec plus the graph-assignment metadata computed
// during migration commit (domain and local index).
type Node struct {
	NodeSpec

	Domain    DomainIndex
	Local     LocalNodeIndex
	HasDomain bool
}

// Graph is an arena of nodes addressed by slice index, with
// parent/child links stored as NodeId and resolved through the
// arena's index map. This removes the reference-counted-cell cycles
// the original MIR representation used for in-flight planning
// (spec.md §9 "Cyclic ownership"): a Graph here is always a DAG of
// plain indices, never cyclic smart pointers.
type Graph struct {
	nodes []*Node
	index map[NodeId]int
}

func NewGraph() *Graph {
	return &Graph{index: make(map[NodeId]int)}
}

// AddNode inserts spec into the arena and returns its assigned
// NodeId (minted if spec.ID is the zero value).
func (g *Graph) AddNode(spec NodeSpec) NodeId {
	if spec.ID == (NodeId{}) {
		spec.ID = NewNodeId()
	}
	n := &Node{NodeSpec: spec}
	g.index[spec.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return spec.ID
}

// AddEdge records a parent->child edge between two already-added
// nodes.
func (g *Graph) AddEdge(parent, child NodeId) {
	p := g.Get(parent)
	c := g.Get(child)
	if p == nil || c == nil {
		return
	}
	p.Children = append(p.Children, child)
	c.Parents = append(c.Parents, parent)
}

// Get returns the node for id, or nil if it is not present.
func (g *Graph) Get(id NodeId) *Node {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.nodes[i]
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// TopoSort returns node ids in forward topological order (parents
// before children), the order in which domain assignment (package
// assignment) and migration materialization walk the graph.
func (g *Graph) TopoSort() []NodeId {
	visited := make(map[NodeId]bool, len(g.nodes))
	var order []NodeId
	var visit func(id NodeId)
	visit = func(id NodeId) {
		if visited[id] {
			return
		}
		visited[id] = true
		n := g.Get(id)
		if n == nil {
			return
		}
		for _, p := range n.Parents {
			visit(p)
		}
		order = append(order, id)
	}
	for _, n := range g.nodes {
		visit(n.ID)
	}
	return order
}
