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

// Package migration implements the controller-side surface of
// spec.md §6's migration/commit paragraph: a Migration is held open,
// mutated via AddNode/AddEdge/DeclareReader, and finalized by
// Controller.Commit, which is the only point domain assignment and
// replay-path registration run over the new nodes.
//
// SQL parsing and lowering remain out of scope (spec.md §1 Non-goals):
// callers hand Migration an already-lowered operator graph (NodeSpec
// values), never SQL text.
package migration

import (
	"fmt"
	"sync"

	"github.com/doytsujin/readyset/assignment"
	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/domain"
	"github.com/doytsujin/readyset/replay"
	"github.com/doytsujin/readyset/state"
	"github.com/doytsujin/readyset/transport"
)

// Migration accumulates graph mutations for one commit. It is not
// safe for concurrent use; a deployment runs at most one migration at
// a time, matching the original controller's `Migration` in
// `original_source/noria/server/src/lib.rs`.
type Migration struct {
	graph   *dataflow.Graph
	added   []dataflow.NodeId
	readers []dataflow.NodeId
}

// AddNode lowers spec into the graph and records it as part of this
// migration's batch of new nodes.
func (m *Migration) AddNode(spec dataflow.NodeSpec) dataflow.NodeId {
	id := m.graph.AddNode(spec)
	m.added = append(m.added, id)
	return id
}

// AddEdge wires a parent->child dependency between two nodes, new or
// pre-existing.
func (m *Migration) AddEdge(parent, child dataflow.NodeId) {
	m.graph.AddEdge(parent, child)
}

// DeclareReader marks a node (freshly added or not) as a maintained
// read path: domain assignment always gives it a fresh domain
// (spec.md §4.5), and it becomes a registration root for replay-path
// computation at Commit.
func (m *Migration) DeclareReader(id dataflow.NodeId) {
	m.readers = append(m.readers, id)
}

// Controller owns the running Graph, the domain-assignment counter
// (threaded across migrations so domain numbering keeps extending
// rather than restarting), the replay-path registry, and the running
// domain.Domain set a committed graph actually materializes into.
type Controller struct {
	mu sync.Mutex

	Graph    *dataflow.Graph
	Assigner *assignment.Assigner
	Paths    *replay.Registry

	// Router carries inter-domain traffic for every domain.Domain this
	// controller has materialized (spec.md §9).
	Router *transport.Router
	// Domains holds the one domain.Domain built per DomainIndex
	// Assigner ever hands out, lazily created on first use by a node
	// during materialize.
	Domains map[dataflow.DomainIndex]*domain.Domain
	// Readers holds the state.ReaderStore backing every materialized
	// KindReader node, keyed by its NodeId, so callers can Lookup
	// against a committed view without reaching into domain internals.
	Readers map[dataflow.NodeId]*state.ReaderStore
	// OwnStates holds the state.Store backing every materialized
	// node's own index, keyed by NodeId, for callers (metrics,
	// diagnostics) that need the raw store rather than a domain-local
	// lookup.
	OwnStates map[dataflow.NodeId]state.Store

	built           map[dataflow.NodeId]bool
	ownIndex        map[dataflow.NodeId]state.IndexID
	domainLocalNext map[dataflow.DomainIndex]dataflow.LocalNodeIndex
}

// NewController starts a controller over an empty graph.
func NewController() *Controller {
	return &Controller{
		Graph:    dataflow.NewGraph(),
		Assigner: assignment.NewAssigner(),
		Paths:    replay.NewRegistry(),

		Router:    transport.NewRouter(),
		Domains:   make(map[dataflow.DomainIndex]*domain.Domain),
		Readers:   make(map[dataflow.NodeId]*state.ReaderStore),
		OwnStates: make(map[dataflow.NodeId]state.Store),

		built:           make(map[dataflow.NodeId]bool),
		ownIndex:        make(map[dataflow.NodeId]state.IndexID),
		domainLocalNext: make(map[dataflow.DomainIndex]dataflow.LocalNodeIndex),
	}
}

// Begin opens a new Migration against the controller's current graph.
func (c *Controller) Begin() *Migration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Migration{graph: c.Graph}
}

// Commit runs domain assignment over the whole graph's topological
// order (idempotent for already-assigned nodes, per
// assignment.Assigner.Assign), materializes every not-yet-built node
// into a real ops.Operator+state.Store wired into its assigned
// domain.Domain (materialize), and registers one replay path per
// declared reader, walking the reader's first-parent ancestry back to
// the first Base (or parentless) node it reaches. It is the only point in a migration's
// lifecycle where those passes run (spec.md §6): after Commit returns,
// c.Domains holds a runnable dataflow for the whole committed graph,
// not just an assignment plan on paper.
func (c *Controller) Commit(m *Migration) (CommitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.graph != c.Graph {
		return CommitResult{}, fmt.Errorf("migration: migration was not opened against this controller")
	}

	order := c.Graph.TopoSort()
	c.Assigner.Assign(c.Graph, order)

	if err := c.materialize(order); err != nil {
		return CommitResult{}, fmt.Errorf("migration: %w", err)
	}

	var tags []dataflow.Tag
	for _, rid := range m.readers {
		tag, err := c.registerPath(rid)
		if err != nil {
			return CommitResult{}, err
		}
		tags = append(tags, tag)
	}

	return CommitResult{
		AddedNodes: m.added,
		ReplayTags: tags,
		Domains:    c.Domains,
		Readers:    c.Readers,
		OwnStates:  c.OwnStates,
	}, nil
}

// registerPath walks from a reader back to its defining ancestors,
// recording one Hop per node on the path, and registers it with the
// replay-path registry so a later RequestPartialReplay for this
// reader resolves to a concrete upstream route (spec.md §4.4).
func (c *Controller) registerPath(reader dataflow.NodeId) (dataflow.Tag, error) {
	n := c.Graph.Get(reader)
	if n == nil {
		return dataflow.Tag{}, fmt.Errorf("migration: unknown reader node")
	}
	var hops []replay.Hop
	cur := n
	for {
		hops = append([]replay.Hop{{Domain: cur.Domain, Node: cur.ID, Local: cur.Local, Index: 0}}, hops...)
		if cur.Kind == dataflow.KindBase || len(cur.Parents) == 0 {
			break
		}
		parent := c.Graph.Get(cur.Parents[0])
		if parent == nil {
			break
		}
		cur = parent
	}
	tag := c.Paths.Register(replay.Path{Hops: hops})
	return tag, nil
}

// CommitResult reports what a Commit call did.
type CommitResult struct {
	AddedNodes []dataflow.NodeId
	ReplayTags []dataflow.Tag

	// Domains and Readers are the controller's running materialized
	// state at the time of this Commit, handed back for convenience
	// (they are also reachable via Controller.Domains/Readers).
	Domains   map[dataflow.DomainIndex]*domain.Domain
	Readers   map[dataflow.NodeId]*state.ReaderStore
	OwnStates map[dataflow.NodeId]state.Store
}
