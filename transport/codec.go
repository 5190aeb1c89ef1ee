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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/value"
)

// codec implements a fixed, hand-rolled binary layout for the packet
// sum type, in the vein of ion/writer.go's Buffer: append-only byte
// slices with one case per tag byte, rather than reflection-driven
// encoding. Unlike the ion writer this format is not self-describing
// across a symbol table — it exists purely to move a *dataflow.Packet
// between two processes over WireConn, one packet at a time, so a
// plain switch on a kind byte is simpler than standing up a Symtab for
// values that are never shared across frames.
type kindByte = byte

const (
	kMessage kindByte = iota
	kInput
	kReplayPiece
	kRequestPartialReplay
	kRequestReaderReplay
	kStartReplay
	kFinish
	kAddNode
	kSeedState
	kEvict
)

type encoder struct{ buf []byte }

func (e *encoder) u8(v byte)     { e.buf = append(e.buf, v) }
func (e *encoder) u32(v uint32)  { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64)  { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)   { e.u64(uint64(v)) }
func (e *encoder) f64(v float64) { e.u64(mathFloatBits(v)) }
func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}
func (e *encoder) str(s string) { e.bytes([]byte(s)) }
func (e *encoder) uuidVal(u [16]byte) {
	e.buf = append(e.buf, u[:]...)
}

func (e *encoder) value(v value.Value) {
	e.u8(byte(v.Kind()))
	switch v.Kind() {
	case value.Null:
	case value.Int32, value.Int64, value.Uint32, value.Uint64:
		n, _ := v.Uint()
		e.u64(n)
	case value.Float32, value.Float64:
		f, _ := v.Float()
		e.f64(f)
	case value.ShortText, value.Text:
		s, _ := v.Str()
		e.str(s)
	case value.Bytes:
		b, _ := v.Bytes()
		e.bytes(b)
	case value.Timestamp, value.Date, value.Time:
		t, _ := v.Time()
		e.i64(t.UnixNano())
	case value.Decimal:
		unscaled, scale, _ := v.Decimal()
		e.i64(unscaled)
		e.u32(uint32(scale))
	}
}

func (e *encoder) row(r dataflow.Row) {
	e.u32(uint32(len(r)))
	for _, v := range r {
		e.value(v)
	}
}

func (e *encoder) records(rs dataflow.Records) {
	e.u32(uint32(len(rs)))
	for _, rec := range rs {
		e.u8(byte((rec.Sign + 1) / 2)) // Positive=1 -> 1, Negative=-1 -> 0
		e.row(rec.Row)
	}
}

func (e *encoder) update(u dataflow.Update) {
	e.records(u.Records)
	e.uuidVal(uuid.UUID(u.Origin))
	e.i64(u.Timestamp)
	if u.Replay == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.uuidVal(uuid.UUID(u.Replay.Tag))
	e.row(u.Replay.Key)
	if u.Replay.Last {
		e.u8(1)
	} else {
		e.u8(0)
	}
	e.u32(uint32(u.Replay.For))
}

// Encode serializes pkt into a flat byte slice. The caller is
// responsible for framing (see WireConn.writeFrame).
func Encode(pkt dataflow.Packet) ([]byte, error) {
	e := &encoder{}
	switch p := pkt.(type) {
	case *dataflow.Message:
		e.u8(kMessage)
		e.u32(uint32(p.To))
		e.uuidVal(uuid.UUID(p.From))
		e.update(p.U)
	case *dataflow.Input:
		e.u8(kInput)
		e.u32(uint32(p.To))
		e.str(p.Table)
		e.u32(uint32(len(p.RowsPositive)))
		for _, r := range p.RowsPositive {
			e.row(r)
		}
		e.u32(uint32(len(p.RowsNegative)))
		for _, r := range p.RowsNegative {
			e.row(r)
		}
		e.u64(p.SequenceNumber)
	case *dataflow.ReplayPiece:
		e.u8(kReplayPiece)
		e.u32(uint32(p.To))
		e.uuidVal(uuid.UUID(p.Tag))
		e.row(p.Key)
		e.update(p.U)
		e.boolu8(p.Last)
	case *dataflow.RequestPartialReplay:
		e.u8(kRequestPartialReplay)
		e.u32(uint32(p.To))
		e.uuidVal(uuid.UUID(p.Tag))
		e.row(p.Key)
		e.u32(p.IndexID)
		e.u32(uint32(p.Requester))
	case *dataflow.RequestReaderReplay:
		e.u8(kRequestReaderReplay)
		e.u32(uint32(p.To))
		e.uuidVal(uuid.UUID(p.Tag))
		e.row(p.Key)
	case *dataflow.StartReplay:
		e.u8(kStartReplay)
		e.u32(uint32(p.To))
		e.uuidVal(uuid.UUID(p.Tag))
	case *dataflow.Finish:
		e.u8(kFinish)
		e.u32(uint32(p.To))
		e.uuidVal(uuid.UUID(p.Tag))
	case *dataflow.SeedState:
		e.u8(kSeedState)
		e.u32(uint32(p.To))
		e.u32(uint32(len(p.Rows)))
		for _, r := range p.Rows {
			e.row(r)
		}
	case *dataflow.Evict:
		e.u8(kEvict)
		e.u32(uint32(p.To))
		e.u32(p.IndexID)
		e.u32(uint32(len(p.Keys)))
		for _, r := range p.Keys {
			e.row(r)
		}
	default:
		return nil, fmt.Errorf("transport: unknown packet type %T", pkt)
	}
	return e.buf, nil
}

func (e *encoder) boolu8(b bool) {
	if b {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) u8() byte {
	v := d.buf[d.off]
	d.off++
	return v
}
func (d *decoder) u32() uint32 {
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}
func (d *decoder) u64() uint64 {
	v := binary.BigEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}
func (d *decoder) i64() int64   { return int64(d.u64()) }
func (d *decoder) f64() float64 { return mathFloatFromBits(d.u64()) }
func (d *decoder) bytes() []byte {
	n := d.u32()
	b := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return append([]byte(nil), b...)
}
func (d *decoder) str() string { return string(d.bytes()) }
func (d *decoder) uuidVal() [16]byte {
	var u [16]byte
	copy(u[:], d.buf[d.off:d.off+16])
	d.off += 16
	return u
}
func (d *decoder) boolu8() bool { return d.u8() == 1 }

func (d *decoder) value() value.Value {
	k := value.Kind(d.u8())
	switch k {
	case value.Null:
		return value.NullValue()
	case value.Int32:
		return value.Int32Value(int32(d.u64()))
	case value.Int64:
		return value.Int64Value(int64(d.u64()))
	case value.Uint32:
		return value.Uint32Value(uint32(d.u64()))
	case value.Uint64:
		return value.Uint64Value(d.u64())
	case value.Float32:
		return value.Float32Value(float32(d.f64()))
	case value.Float64:
		return value.Float64Value(d.f64())
	case value.ShortText, value.Text:
		return value.TextValue(d.str())
	case value.Bytes:
		return value.BytesValue(d.bytes())
	case value.Timestamp:
		return value.TimestampValue(time.Unix(0, d.i64()).UTC())
	case value.Date:
		return value.DateValue(time.Unix(0, d.i64()).UTC())
	case value.Time:
		return value.TimeValue(time.Unix(0, d.i64()).UTC())
	case value.Decimal:
		unscaled := d.i64()
		scale := int32(d.u32())
		return value.DecimalValue(unscaled, scale)
	default:
		return value.NullValue()
	}
}

func (d *decoder) row() dataflow.Row {
	n := d.u32()
	r := make(dataflow.Row, n)
	for i := range r {
		r[i] = d.value()
	}
	return r
}

func (d *decoder) records() dataflow.Records {
	n := d.u32()
	rs := make(dataflow.Records, n)
	for i := range rs {
		sign := dataflow.Negative
		if d.u8() == 1 {
			sign = dataflow.Positive
		}
		rs[i] = dataflow.Record{Sign: sign, Row: d.row()}
	}
	return rs
}

func (d *decoder) update() dataflow.Update {
	u := dataflow.Update{
		Records:   d.records(),
		Origin:    dataflow.NodeId(d.uuidVal()),
		Timestamp: d.i64(),
	}
	if d.u8() == 1 {
		u.Replay = &dataflow.ReplayContext{
			Tag:  dataflow.Tag(d.uuidVal()),
			Key:  d.row(),
			Last: d.boolu8(),
			For:  dataflow.LocalNodeIndex(d.u32()),
		}
	}
	return u
}

// Decode parses a byte slice produced by Encode back into a
// dataflow.Packet.
func Decode(buf []byte) (dataflow.Packet, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("transport: empty frame")
	}
	d := &decoder{buf: buf}
	switch d.u8() {
	case kMessage:
		to := dataflow.LocalNodeIndex(d.u32())
		from := dataflow.NodeId(d.uuidVal())
		return &dataflow.Message{To: to, From: from, U: d.update()}, nil
	case kInput:
		to := dataflow.LocalNodeIndex(d.u32())
		table := d.str()
		// A zero count decodes as a nil slice.
		var pos, neg []dataflow.Row
		if n := d.u32(); n > 0 {
			pos = make([]dataflow.Row, n)
			for i := range pos {
				pos[i] = d.row()
			}
		}
		if n := d.u32(); n > 0 {
			neg = make([]dataflow.Row, n)
			for i := range neg {
				neg[i] = d.row()
			}
		}
		seq := d.u64()
		return &dataflow.Input{To: to, Table: table, RowsPositive: pos, RowsNegative: neg, SequenceNumber: seq}, nil
	case kReplayPiece:
		to := dataflow.LocalNodeIndex(d.u32())
		tag := dataflow.Tag(d.uuidVal())
		key := d.row()
		u := d.update()
		last := d.boolu8()
		return &dataflow.ReplayPiece{To: to, Tag: tag, Key: key, U: u, Last: last}, nil
	case kRequestPartialReplay:
		to := dataflow.LocalNodeIndex(d.u32())
		tag := dataflow.Tag(d.uuidVal())
		key := d.row()
		indexID := d.u32()
		req := dataflow.DomainIndex(d.u32())
		return &dataflow.RequestPartialReplay{To: to, Tag: tag, Key: key, IndexID: indexID, Requester: req}, nil
	case kRequestReaderReplay:
		to := dataflow.LocalNodeIndex(d.u32())
		tag := dataflow.Tag(d.uuidVal())
		key := d.row()
		return &dataflow.RequestReaderReplay{To: to, Tag: tag, Key: key}, nil
	case kStartReplay:
		to := dataflow.LocalNodeIndex(d.u32())
		tag := dataflow.Tag(d.uuidVal())
		return &dataflow.StartReplay{To: to, Tag: tag}, nil
	case kFinish:
		to := dataflow.LocalNodeIndex(d.u32())
		tag := dataflow.Tag(d.uuidVal())
		return &dataflow.Finish{To: to, Tag: tag}, nil
	case kSeedState:
		to := dataflow.LocalNodeIndex(d.u32())
		rows := make([]dataflow.Row, d.u32())
		for i := range rows {
			rows[i] = d.row()
		}
		return &dataflow.SeedState{To: to, Rows: rows}, nil
	case kEvict:
		to := dataflow.LocalNodeIndex(d.u32())
		idx := d.u32()
		keys := make([]dataflow.Row, d.u32())
		for i := range keys {
			keys[i] = d.row()
		}
		return &dataflow.Evict{To: to, IndexID: idx, Keys: keys}, nil
	default:
		return nil, fmt.Errorf("transport: unknown packet kind byte")
	}
}
