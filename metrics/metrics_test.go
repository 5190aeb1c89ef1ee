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
	"testing"
	"time"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/replay"
	"github.com/doytsujin/readyset/state"
	"github.com/doytsujin/readyset/value"
)

func vrow(vals ...int64) dataflow.Row {
	r := make(dataflow.Row, len(vals))
	for i, v := range vals {
		r[i] = value.Int64Value(v)
	}
	return r
}

func TestRegistrySnapshotReportsCountersAndGauges(t *testing.T) {
	r := NewRegistry()
	lbl := Label{Key: "domain", Value: "0"}
	r.Observe("domain.packet_forward", 5*time.Millisecond, lbl)
	r.Observe("domain.packet_forward", 3*time.Millisecond, lbl)
	r.ObservePhase(PhaseSeed, time.Millisecond, lbl)
	r.SetGauge("state.bytes", 1024, lbl)

	snap := r.Snapshot()
	var forwardCount int64
	var sawSeedPhase, sawGauge bool
	for _, s := range snap {
		if s.Name == "domain.packet_forward" {
			forwardCount = s.Count
		}
		if s.Name == "domain.replay.seed" {
			sawSeedPhase = true
		}
		if s.Name == "state.bytes" && s.Value == 1024 {
			sawGauge = true
		}
	}
	if forwardCount != 2 {
		t.Fatalf("expected 2 packet_forward observations, got %d", forwardCount)
	}
	if !sawSeedPhase {
		t.Fatal("expected a domain.replay.seed sample")
	}
	if !sawGauge {
		t.Fatal("expected a state.bytes gauge of 1024")
	}
}

type fakeSender struct {
	sent []*dataflow.Evict
}

func (f *fakeSender) Send(dst dataflow.DomainIndex, pkt dataflow.Packet) error {
	if e, ok := pkt.(*dataflow.Evict); ok {
		f.sent = append(f.sent, e)
	}
	return nil
}

func TestCoordinatorEvictsLargestStoreAndPropagatesAlongPath(t *testing.T) {
	spec := state.IndexSpec{ID: 0, Columns: []int{0}}
	store := state.NewMemoryStore(true, spec)
	key := vrow(1)
	store.MarkFilled(0, key)
	for i := 0; i < 20; i++ {
		store.Insert(vrow(1, int64(i)))
	}
	if store.BytesSize() == 0 {
		t.Fatal("expected a nonzero starting size for the test to mean anything")
	}

	nodeID := dataflow.NewNodeId()
	paths := replay.NewRegistry()
	paths.Register(replay.Path{Hops: []replay.Hop{
		{Domain: 0, Node: dataflow.NewNodeId(), Local: 0, Index: 0},
		{Domain: 1, Node: nodeID, Local: 1, Index: 0},
	}})

	reg := NewRegistry()
	sender := &fakeSender{}
	coord := NewCoordinator(reg, paths, sender)
	coord.Track(nodeID, store)

	before := store.BytesSize()
	n, err := coord.CheckAndEvict(1)
	if err != nil {
		t.Fatalf("CheckAndEvict: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one key to be evicted under a soft limit of 1 byte")
	}
	if store.BytesSize() >= before {
		t.Fatalf("expected BytesSize to shrink, got %d (was %d)", store.BytesSize(), before)
	}
	if len(sender.sent) == 0 {
		t.Fatal("expected at least one Evict packet sent along the registered path")
	}
}

func TestCoordinatorIgnoresFullStores(t *testing.T) {
	full := state.NewMemoryStore(false, state.IndexSpec{ID: 0, Columns: []int{0}})
	full.Insert(vrow(1))

	coord := NewCoordinator(NewRegistry(), replay.NewRegistry(), &fakeSender{})
	coord.Track(dataflow.NewNodeId(), full)

	if len(coord.tracked) != 0 {
		t.Fatal("expected a full (non-partial) store to be ignored by Track")
	}
}
