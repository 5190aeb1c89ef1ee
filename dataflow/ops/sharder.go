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

package ops

import "github.com/doytsujin/readyset/dataflow"

// Sharder deterministically routes records to one of Shards
// destinations by hashing Columns with dataflow.HashColumns' fixed-key
// siphash fingerprint (spec.md §4.3).
type Sharder struct {
	Columns []int
	Shards  int
	arity   int
}

func NewSharder(columns []int, shards, arity int) *Sharder {
	return &Sharder{Columns: columns, Shards: shards, arity: arity}
}

func (s *Sharder) Arity() int { return s.arity }

// ShardFor returns the destination shard for row.
func (s *Sharder) ShardFor(row dataflow.Row) int {
	if s.Shards <= 1 {
		return 0
	}
	h := dataflow.HashColumns(row, s.Columns)
	return int(h % uint64(s.Shards))
}

// Route partitions u's records by destination shard. Domains forward
// each partition to the corresponding shard's inbox rather than
// calling OnInput directly; Sharder has no interesting on_input
// behavior of its own beyond this partitioning.
func (s *Sharder) Route(u dataflow.Update) map[int]dataflow.Records {
	out := make(map[int]dataflow.Records)
	for _, rec := range u.Records {
		shard := s.ShardFor(rec.Row)
		out[shard] = append(out[shard], rec)
	}
	return out
}

func (s *Sharder) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	return Result{Emit: u.Records}, nil
}

// ShardMerger is the inverse of Sharder: it forwards every record it
// receives from any shard unchanged, merging the shards' streams back
// into one (spec.md §4.3). Ordering across shards is not guaranteed,
// matching spec.md §4.3's "Cross-domain, multiple paths... no
// ordering" rule.
type ShardMerger struct{ arity int }

func NewShardMerger(arity int) *ShardMerger { return &ShardMerger{arity: arity} }

func (m *ShardMerger) Arity() int { return m.arity }

func (m *ShardMerger) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	return Result{Emit: u.Records}, nil
}
