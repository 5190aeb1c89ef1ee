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

package state

import (
	"fmt"

	"github.com/dchest/siphash"

	"github.com/doytsujin/readyset/dataflow"
)

type bucket struct {
	rows    []dataflow.Row
	filled  bool // only meaningful when the owning index is partial
	touched uint64
}

type index struct {
	spec    IndexSpec
	buckets map[string]*bucket
}

func keyString(key dataflow.Row) string {
	s := make([]byte, 0, 16*len(key))
	for _, v := range key {
		s = append(s, []byte(v.String())...)
		s = append(s, 0)
	}
	return string(s)
}

// MemoryStore is the in-memory, multi-index Store implementation
// used by every stateful operator kernel. It supports any number of
// secondary indexes over the same logical row set; Insert/Remove
// apply to all of them atomically, maintaining the invariant that all
// indexes agree on row membership (spec.md §3).
type MemoryStore struct {
	indexes  []*index
	byID     map[IndexID]*index
	partial  bool
	rowCount int
	clock    uint64
}

// NewMemoryStore creates a store over the given indexes. partial
// selects whether writes to unfilled keys are accepted (full) or
// dropped (partial), per spec.md §4.2: "The engine MUST statically
// determine, per operator, whether its state is full or partial."
func NewMemoryStore(partial bool, specs ...IndexSpec) *MemoryStore {
	s := &MemoryStore{
		byID:    make(map[IndexID]*index, len(specs)),
		partial: partial,
	}
	for _, sp := range specs {
		ix := &index{spec: sp, buckets: make(map[string]*bucket)}
		s.indexes = append(s.indexes, ix)
		s.byID[sp.ID] = ix
	}
	return s
}

func (s *MemoryStore) IsPartial() bool { return s.partial }

func (s *MemoryStore) Indexes() []IndexSpec {
	out := make([]IndexSpec, len(s.indexes))
	for i, ix := range s.indexes {
		out[i] = ix.spec
	}
	return out
}

func (s *MemoryStore) Insert(row dataflow.Row) error {
	for _, ix := range s.indexes {
		key := row.Project(ix.spec.Columns)
		ks := keyString(key)
		b, ok := ix.buckets[ks]
		if !ok {
			if s.partial {
				// Writes for unfilled keys are silently dropped; the
				// key is rebuilt by replay when next requested
				// (spec.md §4.2).
				continue
			}
			b = &bucket{filled: true}
			ix.buckets[ks] = b
		}
		if s.partial && !b.filled {
			continue
		}
		s.clock++
		b.touched = s.clock
		b.rows = append(b.rows, row)
	}
	s.rowCount++
	return nil
}

func (s *MemoryStore) Remove(row dataflow.Row) error {
	for _, ix := range s.indexes {
		key := row.Project(ix.spec.Columns)
		ks := keyString(key)
		b, ok := ix.buckets[ks]
		if !ok {
			continue
		}
		for i, r := range b.rows {
			if r.Equal(row) {
				b.rows = append(b.rows[:i], b.rows[i+1:]...)
				break
			}
		}
		s.clock++
		b.touched = s.clock
	}
	s.rowCount--
	return nil
}

func (s *MemoryStore) Lookup(id IndexID, key dataflow.Row) (LookupResult, error) {
	ix, ok := s.byID[id]
	if !ok {
		return Miss(), fmt.Errorf("state: %w: index %d not provisioned", ErrMissingIndex, id)
	}
	ks := keyString(key)
	b, ok := ix.buckets[ks]
	if !ok {
		if s.partial {
			return Miss(), nil
		}
		return Hit(nil), nil
	}
	if s.partial && !b.filled {
		return Miss(), nil
	}
	s.clock++
	b.touched = s.clock
	return Hit(b.rows), nil
}

func (s *MemoryStore) MarkFilled(id IndexID, key dataflow.Row) {
	ix, ok := s.byID[id]
	if !ok {
		return
	}
	ks := keyString(key)
	b, ok := ix.buckets[ks]
	if !ok {
		b = &bucket{}
		ix.buckets[ks] = b
	}
	b.filled = true
	s.clock++
	b.touched = s.clock
}

func (s *MemoryStore) MarkHole(id IndexID, key dataflow.Row) {
	ix, ok := s.byID[id]
	if !ok {
		return
	}
	delete(ix.buckets, keyString(key))
}

func (s *MemoryStore) BytesSize() int64 {
	var total int64
	for _, ix := range s.indexes {
		for _, b := range ix.buckets {
			for _, r := range b.rows {
				for _, v := range r {
					total += int64(len(v.String())) + 16
				}
			}
		}
	}
	return total
}

// sampleSize bounds how many keys each approximate-LRU sweep compares
// before picking a victim, matching the "approximate" qualifier in
// spec.md §4.2.
const sampleSize = 5

// Evict drops keys from the store's first (primary) partial index
// until BytesSize is at or below bytesTarget, using approximate LRU:
// each sweep samples a handful of keys (selected via a siphash-driven
// pseudo-random walk, grounded on the teacher's use of siphash for
// deterministic partition selection) and evicts whichever sampled key
// was least recently touched. It returns the keys evicted so the
// caller can propagate Evict packets along the fill path; a key whose
// bucket held no rows is evicted without being reported.
func (s *MemoryStore) Evict(bytesTarget int64) []dataflow.Row {
	if !s.partial || len(s.indexes) == 0 {
		return nil
	}
	primary := s.indexes[0]
	var evicted []dataflow.Row
	var nonce uint64
	for s.BytesSize() > bytesTarget && len(primary.buckets) > 0 {
		var victimKey string
		var victim *bucket
		oldest := ^uint64(0)
		sampled := 0
		for k, b := range primary.buckets {
			nonce++
			// Admit this key into the sample with probability ~1/2,
			// using siphash as the pseudo-random source so the sweep
			// is deterministic given the same store history; stop
			// once sampleSize keys have been admitted.
			h := siphash.Hash(key0, key1, []byte(fmt.Sprintf("%s:%d", k, nonce)))
			if h%2 != 0 {
				continue
			}
			if b.touched < oldest {
				oldest = b.touched
				victimKey = k
				victim = b
			}
			sampled++
			if sampled >= sampleSize {
				break
			}
		}
		if victim == nil {
			// sample came up empty; fall back to any key so the
			// sweep still makes progress.
			for k, b := range primary.buckets {
				victimKey, victim = k, b
				break
			}
		}
		if victim == nil {
			break
		}
		if len(victim.rows) > 0 {
			evicted = append(evicted, victim.rows[0].Project(primary.spec.Columns))
		}
		delete(primary.buckets, victimKey)
		for _, ix := range s.indexes[1:] {
			for k, b := range ix.buckets {
				kept := b.rows[:0]
				for _, r := range b.rows {
					stillPresent := false
					for _, v := range victim.rows {
						if r.Equal(v) {
							stillPresent = true
							break
						}
					}
					if !stillPresent {
						kept = append(kept, r)
					}
				}
				b.rows = kept
				if len(b.rows) == 0 {
					delete(ix.buckets, k)
				}
			}
		}
	}
	return evicted
}

const key0, key1 uint64 = 0x5be0cd19137e2179, 0x1f83d9abfb41bd6b
