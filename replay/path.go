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

// Package replay holds the compile-time representation of a replay
// path (spec.md §4.4): the ordered (domain, node) hops a tag's
// RequestPartialReplay/ReplayPiece traffic travels between the fully
// materialized source and the partial index being filled. The runtime
// mechanics of buffering, coalescing, and draining misses live in
// package domain, which owns the actual miss buffer "inside its
// domain" per spec.md; this package is the migration-time registry
// that computes and records which path a tag belongs to so the
// controller can wire Sender routing and so operators can be told
// which ancestor to scan when seeding.
package replay

import (
	"fmt"
	"sync"

	"github.com/doytsujin/readyset/dataflow"
)

// Hop is one (domain, node) link of a replay path.
type Hop struct {
	Domain dataflow.DomainIndex
	Node   dataflow.NodeId
	Local  dataflow.LocalNodeIndex
	Index  uint32 // state.IndexID on the owning node, widened to avoid an import cycle
}

// Path is the full source-to-destination route a tag's traffic
// follows. Source is always a fully materialized state (spec.md §4.4
// "Path execution": "the source domain D0 seeds the replay by
// scanning its (full) source state for K").
type Path struct {
	Tag       dataflow.Tag
	Hops      []Hop
	// SourceShards lists every shard of the path's source when it is
	// sharded; a destination considers a tag's fill for a key complete
	// only once it has received `last` from every entry here (spec.md
	// §4.4 "Multi-shard seeds").
	SourceShards []dataflow.DomainIndex
}

// Source returns the path's first hop, where replay scans originate.
func (p Path) Source() Hop { return p.Hops[0] }

// Dest returns the path's last hop, where the fill is ultimately
// applied and mark_filled is called.
func (p Path) Dest() Hop { return p.Hops[len(p.Hops)-1] }

// Registry maps tags to their computed Path, built once at migration
// commit time and consulted by the controller's packet router (the
// Sender a domain.Domain is constructed with) to know which domain to
// forward a RequestPartialReplay/ReplayPiece to.
type Registry struct {
	mu    sync.RWMutex
	paths map[dataflow.Tag]Path
}

func NewRegistry() *Registry {
	return &Registry{paths: make(map[dataflow.Tag]Path)}
}

// Register records path, minting a fresh Tag if path.Tag is the zero
// value, and returns the tag it was stored under.
func (r *Registry) Register(path Path) dataflow.Tag {
	if path.Tag == (dataflow.Tag{}) {
		path.Tag = dataflow.NewTag()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[path.Tag] = path
	return path.Tag
}

// Lookup returns the path registered for tag.
func (r *Registry) Lookup(tag dataflow.Tag) (Path, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.paths[tag]
	if !ok {
		return Path{}, fmt.Errorf("replay: %w: tag %s", ErrUnknownTag, tag)
	}
	return p, nil
}

// PathsThrough returns every registered path whose hop sequence visits
// node, used by the eviction coordinator (package metrics) to walk a
// fill path in reverse when issuing Evict packets (spec.md §5).
func (r *Registry) PathsThrough(node dataflow.NodeId) []Path {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Path
	for _, p := range r.paths {
		for _, h := range p.Hops {
			if h.Node == node {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
