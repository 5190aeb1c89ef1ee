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

import (
	"testing"

	"github.com/doytsujin/readyset/dataflow"
)

// TestTopKRequestsReplayForUnknownGroup exercises spec.md §4.1's rule
// that TopK must not guess a window from a partial backing set: the
// very first delta for a never-seen group must raise a replay request
// rather than emit anything.
func TestTopKRequestsReplayForUnknownGroup(t *testing.T) {
	tk := NewTopK(TopKParams{GroupCols: []int{0}, OrderCols: []int{1}, Descending: []bool{true}, K: 2}, 2)
	res, err := tk.OnInput(&Context{}, dataflow.NodeId{}, dataflow.Update{
		Records: dataflow.Records{dataflow.Pos(vrow(1, 10))},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Emit) != 0 {
		t.Fatalf("expected no emission before the group's backing set is known, got %+v", res.Emit)
	}
	if len(res.Replays) != 1 {
		t.Fatalf("expected one replay request, got %+v", res.Replays)
	}
}

// TestTopKRetraction exercises spec.md §8 scenario 5: once a group's
// backing set is seeded (via a replay piece), a newly-arriving row
// that outranks the current bottom of the window must retract the
// bottom row and insert itself.
func TestTopKRetraction(t *testing.T) {
	tk := NewTopK(TopKParams{GroupCols: []int{0}, OrderCols: []int{1}, Descending: []bool{true}, K: 2}, 2)
	replayCtx := &Context{Replay: &dataflow.ReplayContext{}}

	// Seed the group's backing set via a replay piece carrying the
	// group's current full history: {10, 9, 8}; window (k=2) is {10, 9}.
	_, err := tk.OnInput(replayCtx, dataflow.NodeId{}, dataflow.Update{
		Replay:  replayCtx.Replay,
		Records: dataflow.Records{dataflow.Pos(vrow(1, 10)), dataflow.Pos(vrow(1, 9)), dataflow.Pos(vrow(1, 8))},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Now a normal delta arrives with a new top value: 20 > 9, so it
	// should enter the window and evict the current bottom, 9.
	res, err := tk.OnInput(&Context{}, dataflow.NodeId{}, dataflow.Update{
		Records: dataflow.Records{dataflow.Pos(vrow(1, 20))},
	})
	if err != nil {
		t.Fatal(err)
	}
	var sawRetract, sawInsert bool
	for _, rec := range res.Emit {
		if n, _ := rec.Row[1].Int(); n == 9 && rec.Sign == dataflow.Negative {
			sawRetract = true
		}
		if n, _ := rec.Row[1].Int(); n == 20 && rec.Sign == dataflow.Positive {
			sawInsert = true
		}
	}
	if !sawRetract || !sawInsert {
		t.Fatalf("expected retraction of 9 and insertion of 20, got %+v", res.Emit)
	}
}
