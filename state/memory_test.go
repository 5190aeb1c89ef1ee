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
	"testing"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/value"
)

func row(a, b int64) dataflow.Row {
	return dataflow.Row{value.Int64Value(a), value.Int64Value(b)}
}

func TestFullStoreNeverMisses(t *testing.T) {
	s := NewMemoryStore(false, IndexSpec{ID: 0, Columns: []int{0}})
	res, err := s.Lookup(0, dataflow.Row{value.Int64Value(1)})
	if err != nil || !res.Hit {
		t.Fatalf("full store must never report a miss, got hit=%v err=%v", res.Hit, err)
	}
	if len(res.Rows) != 0 {
		t.Fatalf("expected no rows before insert")
	}
	if err := s.Insert(row(1, 10)); err != nil {
		t.Fatal(err)
	}
	res, _ = s.Lookup(0, dataflow.Row{value.Int64Value(1)})
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
}

func TestPartialStoreDropsUnfilledWrites(t *testing.T) {
	s := NewMemoryStore(true, IndexSpec{ID: 0, Columns: []int{0}})
	if err := s.Insert(row(1, 10)); err != nil {
		t.Fatal(err)
	}
	res, _ := s.Lookup(0, dataflow.Row{value.Int64Value(1)})
	if res.Hit {
		t.Fatalf("write to an unfilled partial key must be dropped, not materialize a hit")
	}
	s.MarkFilled(0, dataflow.Row{value.Int64Value(1)})
	if err := s.Insert(row(1, 10)); err != nil {
		t.Fatal(err)
	}
	res, _ = s.Lookup(0, dataflow.Row{value.Int64Value(1)})
	if !res.Hit || len(res.Rows) != 1 {
		t.Fatalf("expected a filled hit with 1 row, got %+v", res)
	}
}

func TestInsertRemoveRoundTrip(t *testing.T) {
	s := NewMemoryStore(false, IndexSpec{ID: 0, Columns: []int{0}})
	r := row(1, 10)
	if err := s.Insert(r); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(r); err != nil {
		t.Fatal(err)
	}
	res, _ := s.Lookup(0, dataflow.Row{value.Int64Value(1)})
	if len(res.Rows) != 0 {
		t.Fatalf("expected empty row set after insert+remove, got %v", res.Rows)
	}
}

func TestReaderStoreBlockingLookup(t *testing.T) {
	rs := NewReaderStore(true, []int{0})
	res := rs.Lookup(dataflow.Row{value.Int64Value(1)})
	if res.Hit {
		t.Fatalf("expected miss before fill")
	}
	wait := rs.WaitForFill(dataflow.Row{value.Int64Value(1)})
	rs.Apply(dataflow.Records{dataflow.Pos(row(1, 99))})
	select {
	case <-wait:
	default:
		t.Fatalf("expected fill waiter to be resolved by Apply")
	}
	res = rs.Lookup(dataflow.Row{value.Int64Value(1)})
	if !res.Hit || len(res.Rows) != 1 {
		t.Fatalf("expected filled hit with 1 row, got %+v", res)
	}
}
