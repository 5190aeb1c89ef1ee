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
	"context"
	"testing"
	"time"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/dataflow/ops"
	"github.com/doytsujin/readyset/value"
)

func TestCommitAssignsDomainsAndRegistersReaderPath(t *testing.T) {
	c := NewController()
	m := c.Begin()

	base := m.AddNode(dataflow.NodeSpec{Name: "votes", Kind: dataflow.KindBase, Arity: 2})
	agg := m.AddNode(dataflow.NodeSpec{Name: "vote_count", Kind: dataflow.KindAggregation, Arity: 2})
	m.AddEdge(base, agg)
	reader := m.AddNode(dataflow.NodeSpec{Name: "vote_count_reader", Kind: dataflow.KindReader, Arity: 2})
	m.AddEdge(agg, reader)
	m.DeclareReader(reader)

	res, err := c.Commit(m)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(res.AddedNodes) != 3 {
		t.Fatalf("expected 3 added nodes, got %d", len(res.AddedNodes))
	}
	if len(res.ReplayTags) != 1 {
		t.Fatalf("expected 1 replay tag for the declared reader, got %d", len(res.ReplayTags))
	}

	if !c.Graph.Get(base).HasDomain || !c.Graph.Get(agg).HasDomain || !c.Graph.Get(reader).HasDomain {
		t.Fatal("expected every node to have a domain assigned after commit")
	}
	if c.Graph.Get(reader).Domain == c.Graph.Get(agg).Domain {
		t.Fatal("expected the reader to land in its own domain, not the aggregation's")
	}

	path, err := c.Paths.Lookup(res.ReplayTags[0])
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if path.Dest().Node != reader {
		t.Fatalf("expected the registered path's destination to be the reader node")
	}
	if path.Source().Node != base {
		t.Fatalf("expected the registered path's source to be the base node")
	}
}

func TestApplyDocumentParsesYAMLAndWiresPlacementRestrictions(t *testing.T) {
	doc, err := ParseDocument([]byte(`
nodes:
  - name: votes
    kind: base
  - name: vote_count
    kind: aggregation
    parents: [votes]
  - name: vote_count_reader
    kind: reader
    parents: [vote_count]
    reader: true
placements:
  - node: votes
    shard: 0
    workerVolume: vol-1
`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	c := NewController()
	res, err := c.ApplyDocument(doc)
	if err != nil {
		t.Fatalf("ApplyDocument: %v", err)
	}
	if len(res.AddedNodes) != 3 {
		t.Fatalf("expected 3 added nodes, got %d", len(res.AddedNodes))
	}
	if len(res.ReplayTags) != 1 {
		t.Fatalf("expected 1 replay tag, got %d", len(res.ReplayTags))
	}
}

// TestCommitMaterializesRunnableDataflow drives a committed votes ->
// vote_count -> reader graph end to end, exercising the gap this
// review flagged: Commit used to only assign domains and register the
// reader's replay path, leaving nothing an operator or Input packet
// could actually run against.
func TestCommitMaterializesRunnableDataflow(t *testing.T) {
	c := NewController()
	m := c.Begin()

	base := m.AddNode(dataflow.NodeSpec{
		Name:   "votes",
		Kind:   dataflow.KindBase,
		Arity:  2,
		Params: ops.BaseParams{Table: "votes", Arity: 2, PrimaryKey: []int{0, 1}},
	})
	agg := m.AddNode(dataflow.NodeSpec{
		Name:   "vote_count",
		Kind:   dataflow.KindAggregation,
		Arity:  2,
		Params: ops.AggParams{GroupCols: []int{0}, OverCol: 1, Kind: ops.AggCount, OutIndex: 0},
	})
	m.AddEdge(base, agg)
	reader := m.AddNode(dataflow.NodeSpec{
		Name:          "vote_count_reader",
		Kind:          dataflow.KindReader,
		Arity:         2,
		ReaderKeyCols: []int{0},
	})
	m.AddEdge(agg, reader)
	m.DeclareReader(reader)

	res, err := c.Commit(m)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	d, ok := res.Domains[c.Graph.Get(base).Domain]
	if !ok || d == nil {
		t.Fatal("expected Commit to materialize a domain.Domain for the base node")
	}
	rs, ok := res.Readers[reader]
	if !ok || rs == nil {
		t.Fatal("expected Commit to materialize a state.ReaderStore for the declared reader")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The reader lands in a domain of its own, so every committed
	// domain must run for its updates to be applied.
	runErr := make(chan error, len(res.Domains))
	for _, rd := range res.Domains {
		rd := rd
		go func() { runErr <- rd.Run(ctx) }()
	}

	baseLocal := c.Graph.Get(base).Local
	for i := 0; i < 3; i++ {
		d.Inbox() <- &dataflow.Input{
			To:           baseLocal,
			Table:        "votes",
			RowsPositive: []dataflow.Row{{value.Int64Value(1), value.Int64Value(int64(i))}},
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		lr := rs.Lookup(dataflow.Row{value.Int64Value(1)})
		if lr.Hit && len(lr.Rows) == 1 {
			if n, ok := lr.Rows[0][1].Int(); ok && n == 3 {
				break
			}
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the materialized dataflow to converge")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	for range res.Domains {
		<-runErr
	}
}

func TestApplyDocumentRejectsUnknownParent(t *testing.T) {
	doc, err := ParseDocument([]byte(`
nodes:
  - name: vote_count
    kind: aggregation
    parents: [votes]
`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	c := NewController()
	if _, err := c.ApplyDocument(doc); err == nil {
		t.Fatal("expected an error referencing an unknown parent")
	}
}
