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

package metrics

import (
	"fmt"
	"sort"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/replay"
	"github.com/doytsujin/readyset/state"
)

// Sender forwards an Evict packet to a domain; domain.Domain's
// *Sender* type satisfies this, but the coordinator only depends on
// the narrow shape it actually needs, avoiding an import of package
// domain purely for a type name.
type Sender interface {
	Send(dst dataflow.DomainIndex, pkt dataflow.Packet) error
}

// tracked is one partial state the coordinator knows how to evict
// from and report on.
type tracked struct {
	node  dataflow.NodeId
	store state.Store
}

// Coordinator implements spec.md §5's "Resource policy": a
// process-wide memory gauge drives eviction of the largest partial
// indexes when a soft limit is exceeded, sending Evict packets along
// each victim's fill path in reverse so every domain the path crosses
// drops the same keys.
//
// Metrics and eviction thresholds are the only process-wide state the
// core carries (spec.md §9); every other component takes its
// dependencies as explicit constructor arguments, which Coordinator
// follows too (Registry, Registry's path lookups, and Sender are all
// passed in rather than reached for globally).
type Coordinator struct {
	reg    *Registry
	paths  *replay.Registry
	sender Sender

	tracked []tracked
}

// NewCoordinator builds a coordinator reporting into reg, resolving
// fill paths via paths, and delivering Evict packets via sender.
func NewCoordinator(reg *Registry, paths *replay.Registry, sender Sender) *Coordinator {
	return &Coordinator{reg: reg, paths: paths, sender: sender}
}

// Track registers a partial state store for eviction consideration,
// keyed by the node that owns it (used to resolve its fill path).
func (c *Coordinator) Track(node dataflow.NodeId, s state.Store) {
	if !s.IsPartial() {
		return
	}
	c.tracked = append(c.tracked, tracked{node: node, store: s})
}

// TotalBytes sums BytesSize across every tracked store, also
// recording each as a "state.bytes" gauge.
func (c *Coordinator) TotalBytes() int64 {
	var total int64
	for _, t := range c.tracked {
		n := t.store.BytesSize()
		total += n
		c.reg.SetGauge("state.bytes", n, Label{Key: "node", Value: t.node.String()})
	}
	c.reg.SetGauge("state.bytes.total", total)
	return total
}

// CheckAndEvict compares TotalBytes against softLimit; if exceeded, it
// repeatedly evicts from the single largest tracked store (by current
// BytesSize) until the total is back at or below softLimit or no
// store has anything left to evict. It returns the number of keys
// evicted across all victims, for tests and logging.
func (c *Coordinator) CheckAndEvict(softLimit int64) (int, error) {
	evictedKeys := 0
	for c.TotalBytes() > softLimit {
		victim := c.largest()
		if victim == nil {
			break
		}
		// Evict down to this store's even share of the budget; repeated
		// calls converge rather than emptying one store in one sweep.
		share := softLimit / int64(len(c.tracked))
		dropped := victim.store.Evict(share)
		if len(dropped) == 0 {
			break
		}
		evictedKeys += len(dropped)
		c.reg.Observe("domain.eviction", 0, Label{Key: "node", Value: victim.node.String()})
		if err := c.propagate(victim.node, dropped); err != nil {
			return evictedKeys, err
		}
	}
	return evictedKeys, nil
}

func (c *Coordinator) largest() *tracked {
	if len(c.tracked) == 0 {
		return nil
	}
	sorted := append([]tracked(nil), c.tracked...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].store.BytesSize() > sorted[j].store.BytesSize()
	})
	for i := range sorted {
		if sorted[i].store.BytesSize() > 0 {
			return &sorted[i]
		}
	}
	return nil
}

// propagate walks every registered path through node in reverse
// (destination back toward source) and sends an Evict packet to each
// hop, so every domain along the fill path drops the same keys from
// its matching index (spec.md §5).
func (c *Coordinator) propagate(node dataflow.NodeId, keys []dataflow.Row) error {
	for _, path := range c.paths.PathsThrough(node) {
		for i := len(path.Hops) - 1; i >= 0; i-- {
			h := path.Hops[i]
			pkt := &dataflow.Evict{To: h.Local, IndexID: h.Index, Keys: keys}
			if err := c.sender.Send(h.Domain, pkt); err != nil {
				return fmt.Errorf("metrics: propagating evict along tag %s: %w", path.Tag, err)
			}
		}
	}
	return nil
}
