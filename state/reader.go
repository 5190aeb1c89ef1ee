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
	"sync"
	"sync/atomic"

	"github.com/doytsujin/readyset/dataflow"
)

// readerSnapshot is an immutable view published after each applied
// batch. Readers hold a pointer to one snapshot at a time and never
// see a partially-applied batch (spec.md §4.1 Reader kernel,
// §5 "single-writer / many-reader concurrency via a published-snapshot
// discipline").
type readerSnapshot struct {
	rows   map[string][]dataflow.Row
	filled map[string]bool
	keyCol []int
}

func newSnapshot(keyCol []int) *readerSnapshot {
	return &readerSnapshot{
		rows:   make(map[string][]dataflow.Row),
		filled: make(map[string]bool),
		keyCol: keyCol,
	}
}

func (s *readerSnapshot) clone() *readerSnapshot {
	n := &readerSnapshot{
		rows:   make(map[string][]dataflow.Row, len(s.rows)),
		filled: make(map[string]bool, len(s.filled)),
		keyCol: s.keyCol,
	}
	for k, v := range s.rows {
		cp := make([]dataflow.Row, len(v))
		copy(cp, v)
		n.rows[k] = cp
	}
	for k, v := range s.filled {
		n.filled[k] = v
	}
	return n
}

// ReaderStore is the leaf materialization clients poll. A single
// writer (the owning domain) applies batches with Apply; any number
// of concurrent readers call Lookup without blocking the writer,
// because Lookup only ever observes one complete snapshot at a time
// (spec.md §3 "Reader store").
type ReaderStore struct {
	partial bool
	keyCols []int
	current atomic.Pointer[readerSnapshot]

	mu      sync.Mutex // guards waiters and the read-modify-publish of current
	waiters map[string][]chan struct{}
}

// NewReaderStore creates a reader store keyed by keyCols, partial
// selecting whether unfilled keys report Miss (as opposed to an empty
// Hit) until replay fills them.
func NewReaderStore(partial bool, keyCols []int) *ReaderStore {
	r := &ReaderStore{
		partial: partial,
		keyCols: keyCols,
		waiters: make(map[string][]chan struct{}),
	}
	r.current.Store(newSnapshot(keyCols))
	return r
}

// Apply applies a batch of records to the reader store and publishes
// a new snapshot visible to subsequent Lookups (spec.md §4.1:
// "Publishes a new consistent snapshot visible to readers").
func (r *ReaderStore) Apply(records dataflow.Records) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.current.Load().clone()
	for _, rec := range records {
		key := rec.Row.Project(r.keyCols)
		ks := keyString(key)
		next.filled[ks] = true
		switch rec.Sign {
		case dataflow.Positive:
			next.rows[ks] = append(next.rows[ks], rec.Row)
		case dataflow.Negative:
			rows := next.rows[ks]
			for i, row := range rows {
				if row.Equal(rec.Row) {
					next.rows[ks] = append(rows[:i], rows[i+1:]...)
					break
				}
			}
		}
	}
	r.current.Store(next)
	r.wakeAll(records)
}

func (r *ReaderStore) wakeAll(records dataflow.Records) {
	seen := make(map[string]bool)
	for _, rec := range records {
		ks := keyString(rec.Row.Project(r.keyCols))
		if seen[ks] {
			continue
		}
		seen[ks] = true
		for _, ch := range r.waiters[ks] {
			close(ch)
		}
		delete(r.waiters, ks)
	}
}

// MarkFilled declares a key filled without inserting rows (the empty
// group case, spec.md §8 "Empty-group aggregations emit no output
// row").
func (r *ReaderStore) MarkFilled(key dataflow.Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.current.Load().clone()
	ks := keyString(key)
	next.filled[ks] = true
	r.current.Store(next)
	for _, ch := range r.waiters[ks] {
		close(ch)
	}
	delete(r.waiters, ks)
}

// Lookup returns the current rows for key. If the key is unfilled on
// a partial store, it reports a Miss. This never blocks; see
// WaitForFill for waiting on a missed key, as
// view_lookup(block_if_missing=true) does (spec.md §6, §8 scenario 6).
func (r *ReaderStore) Lookup(key dataflow.Row) LookupResult {
	snap := r.current.Load()
	ks := keyString(key)
	if r.partial && !snap.filled[ks] {
		return Miss()
	}
	return Hit(snap.rows[ks])
}

// WaitForFill registers a waiter for key and returns a channel closed
// once that key is next marked filled (by Apply or MarkFilled). The
// caller MUST have already observed a Miss for this key; it does not
// itself trigger replay (that is the domain's responsibility via the
// "reader" replay tag, spec.md §4.1).
func (r *ReaderStore) WaitForFill(key dataflow.Row) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ks := keyString(key)
	snap := r.current.Load()
	ch := make(chan struct{})
	if !r.partial || snap.filled[ks] {
		close(ch)
		return ch
	}
	r.waiters[ks] = append(r.waiters[ks], ch)
	return ch
}

func (r *ReaderStore) IsPartial() bool { return r.partial }
