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

package transport

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/value"
)

func vrow(vals ...int64) dataflow.Row {
	r := make(dataflow.Row, len(vals))
	for i, v := range vals {
		r[i] = value.Int64Value(v)
	}
	return r
}

// TestEncodeDecodeRoundTripsEveryPacketKind exercises Encode/Decode
// for one instance of every dataflow.Packet variant, since WireConn
// has no compiler to catch a forgotten case in the kind-byte switch.
func TestEncodeDecodeRoundTripsEveryPacketKind(t *testing.T) {
	tag := dataflow.NewTag()
	origin := dataflow.NewNodeId()
	ts := time.Now().UnixNano()

	cases := []dataflow.Packet{
		&dataflow.Message{To: 1, From: origin, U: dataflow.Update{
			Records:   dataflow.Records{dataflow.Pos(vrow(1, 2)), dataflow.Neg(vrow(3, 4))},
			Origin:    origin,
			Timestamp: ts,
		}},
		&dataflow.Input{To: 2, Table: "votes", RowsPositive: []dataflow.Row{vrow(1)}, RowsNegative: []dataflow.Row{vrow(2)}, SequenceNumber: 42},
		&dataflow.ReplayPiece{To: 3, Tag: tag, Key: vrow(5), U: dataflow.Update{Records: dataflow.Records{dataflow.Pos(vrow(5, 6))}}, Last: true},
		&dataflow.RequestPartialReplay{To: 4, Tag: tag, Key: vrow(7), IndexID: 2, Requester: 9},
		&dataflow.RequestReaderReplay{To: 5, Tag: tag, Key: vrow(8)},
		&dataflow.StartReplay{To: 6, Tag: tag},
		&dataflow.Finish{To: 7, Tag: tag},
		&dataflow.SeedState{To: 8, Rows: []dataflow.Row{vrow(9, 10)}},
		&dataflow.Evict{To: 9, IndexID: 3, Keys: []dataflow.Row{vrow(11)}},
	}

	for _, want := range cases {
		raw, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%T): %v", want, err)
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%T): %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip mismatch for %T:\n got: %#v\nwant: %#v", want, got, want)
		}
	}
}

// TestWireConnRoundTripsOverLoopback drives a real WireConn pair over
// an in-memory net.Pipe to exercise framing and zstd compression end
// to end, matching how two workers would actually exchange traffic.
func TestWireConnRoundTripsOverLoopback(t *testing.T) {
	a, b := net.Pipe()
	left, err := NewWireConn(a, 7)
	if err != nil {
		t.Fatalf("NewWireConn: %v", err)
	}
	right, err := NewWireConn(b, 7)
	if err != nil {
		t.Fatalf("NewWireConn: %v", err)
	}
	defer left.Close()
	defer right.Close()

	want := &dataflow.Input{To: 1, Table: "t", RowsPositive: []dataflow.Row{vrow(1, 2, 3)}, SequenceNumber: 1}

	done := make(chan error, 1)
	go func() { done <- left.Send(7, want) }()

	got, err := right.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got: %#v\nwant: %#v", got, want)
	}
}

// TestWireConnSendWrongDestinationErrors exercises the guard that a
// WireConn is bound to exactly one peer domain.
func TestWireConnSendWrongDestinationErrors(t *testing.T) {
	a, b := net.Pipe()
	left, _ := NewWireConn(a, 7)
	defer left.Close()
	defer b.Close()

	if err := left.Send(8, &dataflow.StartReplay{To: 1, Tag: dataflow.NewTag()}); err == nil {
		t.Fatal("expected an error sending to a domain other than the bound peer")
	}
}

func TestRouterBackpressure(t *testing.T) {
	inbox := make(chan dataflow.Packet, 1)
	r := NewRouter()
	r.Depth = 1
	r.Register(1, inbox)

	if err := r.Send(1, &dataflow.StartReplay{To: 1, Tag: dataflow.NewTag()}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := r.Send(1, &dataflow.StartReplay{To: 1, Tag: dataflow.NewTag()}); err == nil {
		t.Fatal("expected backpressure error once the inbox is at its depth limit")
	}
}

func TestRouterUnknownDestination(t *testing.T) {
	r := NewRouter()
	if err := r.Send(99, &dataflow.StartReplay{To: 1, Tag: dataflow.NewTag()}); err == nil {
		t.Fatal("expected an error routing to an unregistered domain")
	}
}
