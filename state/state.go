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

// Package state implements the keyed, partial, multi-index
// materializations operators use to read their own past output and
// answer upqueries (spec.md §4.2), plus the leaf reader store
// (package state, ReaderStore).
package state

import (
	"github.com/doytsujin/readyset/dataflow"
)

// IndexID identifies one index within a Store. A Store may carry
// several indexes over the same rows, each keyed by a distinct column
// tuple (spec.md §3 "State store").
type IndexID uint32

// IndexSpec describes one index's key columns.
type IndexSpec struct {
	ID      IndexID
	Columns []int
}

// LookupResult is the outcome of Store.Lookup: either a hit (possibly
// empty, meaning "zero rows for this key, but that is a known fact")
// or a miss (the key's row set is unknown and must be replayed).
type LookupResult struct {
	Rows []dataflow.Row
	Hit  bool
}

func Hit(rows []dataflow.Row) LookupResult  { return LookupResult{Rows: rows, Hit: true} }
func Miss() LookupResult                     { return LookupResult{Hit: false} }

// Store is the interface every operator-owned materialization
// implements.
type Store interface {
	// Insert applies a single row's presence as a unit across every
	// index the store maintains.
	Insert(row dataflow.Row) error
	// Remove applies a single row's revocation as a unit across every
	// index the store maintains.
	Remove(row dataflow.Row) error
	// Lookup returns the row set for key under the given index, or a
	// Miss if the index is partial and the key is not currently
	// filled.
	Lookup(index IndexID, key dataflow.Row) (LookupResult, error)
	// MarkFilled declares that a partial key has been fully populated
	// by replay; subsequent Lookups for it report Hit.
	MarkFilled(index IndexID, key dataflow.Row)
	// MarkHole reverts a previously filled key back to Miss, used
	// when Evict drops it.
	MarkHole(index IndexID, key dataflow.Row)
	// Evict drops keys from partial indexes to satisfy bytes, using
	// an approximate-LRU policy, and returns what was dropped so the
	// caller can propagate Evict packets downstream (spec.md §4.2).
	Evict(bytesTarget int64) []dataflow.Row
	// BytesSize reports the resident size of this store, fed to the
	// process-wide eviction coordinator (spec.md §4.2, §5).
	BytesSize() int64
	// IsPartial reports whether any index in this store may legally
	// have holes.
	IsPartial() bool
	// Indexes returns the index specs this store maintains.
	Indexes() []IndexSpec
}

// Mutation describes one Insert/Remove to be applied atomically with
// a record's emission (spec.md §4.1: "State mutations are applied
// atomically with emission").
type Mutation struct {
	Row    dataflow.Row
	Remove bool
}

// Apply applies a batch of mutations to s, stopping at the first
// error. Per spec.md §5, a domain never partially applies a packet's
// effects across a suspension point; callers invoke Apply once per
// packet with every mutation it produced.
func Apply(s Store, muts []Mutation) error {
	for _, m := range muts {
		var err error
		if m.Remove {
			err = s.Remove(m.Row)
		} else {
			err = s.Insert(m.Row)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
