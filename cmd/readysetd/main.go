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

// Command readysetd wires and runs a small dataflow graph in-process,
// demonstrating migration, domain assignment, domain execution, and
// metrics in the shape a real deployment would use them. Controller
// RPC and cluster membership remain out of scope (spec.md §1
// Non-goals), so this intentionally stops at a single-process demo:
// everything past "how do I stand up a graph and feed it rows" is a
// collaborator this module defines interfaces for but does not supply.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/dataflow/ops"
	"github.com/doytsujin/readyset/metrics"
	"github.com/doytsujin/readyset/migration"
	"github.com/doytsujin/readyset/value"
)

func main() {
	demoCmd := flag.NewFlagSet("demo", flag.ExitOnError)
	votes := demoCmd.Int("votes", 5, "number of simulated votes to apply")

	args := os.Args[1:]
	if len(args) == 0 || args[0] != "demo" {
		fmt.Fprintln(os.Stderr, "usage: readysetd demo [-votes N]")
		os.Exit(1)
	}
	if err := demoCmd.Parse(args[1:]); err != nil {
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "", log.Lshortfile)
	if err := runDemo(logger, *votes); err != nil {
		logger.Fatal(err)
	}
}

// runDemo lowers a three-node graph (votes base -> vote_count
// aggregation -> reader) through a Controller migration. Commit itself
// materializes the operators, state stores, and domain.Domain wiring
// from the committed NodeSpecs (migration.Controller.materialize), so
// this demo only needs to feed the resulting domains, the same wiring
// spec.md §8 scenario 1 exercises in tests.
func runDemo(logger *log.Logger, numVotes int) error {
	ctrl := migration.NewController()
	m := ctrl.Begin()

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

	res, err := ctrl.Commit(m)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logger.Printf("migration committed: %d nodes added, %d replay paths registered", len(res.AddedNodes), len(res.ReplayTags))

	d := res.Domains[ctrl.Graph.Get(base).Domain]
	countStore := res.OwnStates[agg]
	readerStore := res.Readers[reader]

	reg := metrics.NewRegistry()
	coord := metrics.NewCoordinator(reg, ctrl.Paths, ctrl.Router)
	coord.Track(agg, countStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, len(res.Domains))
	for _, rd := range res.Domains {
		rd := rd
		go func() { runErr <- rd.Run(ctx) }()
	}

	baseLocal := ctrl.Graph.Get(base).Local
	for i := 0; i < numVotes; i++ {
		d.Inbox() <- &dataflow.Input{
			To:           baseLocal,
			Table:        "votes",
			RowsPositive: []dataflow.Row{{value.Int64Value(1), value.Int64Value(int64(i))}},
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		lr := readerStore.Lookup(dataflow.Row{value.Int64Value(1)})
		if lr.Hit && len(lr.Rows) == 1 {
			if n, ok := lr.Rows[0][1].Int(); ok && n == int64(numVotes) {
				logger.Printf("vote_count[1] = %d", n)
				break
			}
		}
		select {
		case <-deadline:
			return fmt.Errorf("timed out waiting for %d votes to be counted", numVotes)
		case <-time.After(time.Millisecond):
		}
	}

	coord.TotalBytes()
	for _, s := range reg.Snapshot() {
		logger.Printf("metric %s%s count=%d value=%d total=%s", s.Name, s.Labels, s.Count, s.Value, s.Total)
	}

	cancel()
	err = <-runErr
	for i := 1; i < len(res.Domains); i++ {
		<-runErr
	}
	return err
}
