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
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/doytsujin/readyset/dataflow"
)

// frameHeaderSize is the length prefix written ahead of every
// zstd-compressed frame: a single big-endian uint32 byte count.
const frameHeaderSize = 4

// maxFrameSize bounds a single incoming frame so a corrupt or
// malicious peer cannot force an unbounded allocation.
const maxFrameSize = 64 << 20

// WireConn carries domain.Sender traffic between two workers: one
// underlying net.Conn per (source domain, destination domain) pair
// (spec.md §7's "one connection per path" transport shape), framed as
// length-prefixed zstd blocks in the style of compr's zstdCompressor
// wrapper (compr/compression.go), so a slow link degrades in
// throughput rather than in correctness.
//
// A single WireConn is safe for concurrent Send calls (writes are
// serialized by mu) but Recv is meant to be driven by exactly one
// reader goroutine per connection, matching the single-consumer shape
// domain.Domain.Run already assumes for its inbox.
type WireConn struct {
	conn net.Conn
	dst  dataflow.DomainIndex

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder

	healthy atomic.Bool
}

// NewWireConn wraps an already-established connection to the worker
// hosting dst. The caller is responsible for handshaking/authenticating
// conn beforehand; WireConn only frames and compresses packet traffic.
func NewWireConn(conn net.Conn, dst dataflow.DomainIndex) (*WireConn, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("transport: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("transport: zstd decoder: %w", err)
	}
	w := &WireConn{conn: conn, dst: dst, enc: enc, dec: dec}
	w.healthy.Store(true)
	return w, nil
}

// Healthy reports whether the connection is still believed usable.
// Once Send or Recv observes a hard I/O error it is latched false and
// MarkUnhealthy's caller (the worker's connection manager) is expected
// to tear the connection down and reconnect (spec.md §7 Transport
// error kind).
func (w *WireConn) Healthy() bool { return w.healthy.Load() }

// MarkUnhealthy force-latches the connection unusable, e.g. after a
// caller-observed backlog-drain timeout even though no I/O error has
// occurred yet.
func (w *WireConn) MarkUnhealthy() { w.healthy.Store(false) }

// Send implements domain.Sender for a single remote destination
// domain; dst is checked against the connection's configured peer so
// a WireConn is never accidentally used to address the wrong worker.
func (w *WireConn) Send(dst dataflow.DomainIndex, pkt dataflow.Packet) error {
	if dst != w.dst {
		return fmt.Errorf("transport: wire connection is bound to domain %d, not %d", w.dst, dst)
	}
	if !w.Healthy() {
		return fmt.Errorf("%w: domain %d", ErrUnhealthy, dst)
	}
	raw, err := Encode(pkt)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	compressed := w.enc.EncodeAll(raw, nil)
	if err := w.writeFrame(compressed); err != nil {
		w.healthy.Store(false)
		return fmt.Errorf("%w: %s", ErrUnhealthy, err)
	}
	return nil
}

func (w *WireConn) writeFrame(compressed []byte) error {
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(compressed)))
	if _, err := w.conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.conn.Write(compressed)
	return err
}

// Recv blocks for the next packet addressed to this connection's
// domain pair. It is meant to be called in a loop from one dedicated
// goroutine per WireConn, handing the decoded packet to the owning
// Domain's inbox.
func (w *WireConn) Recv() (dataflow.Packet, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(w.conn, hdr[:]); err != nil {
		w.healthy.Store(false)
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		w.healthy.Store(false)
		return nil, fmt.Errorf("transport: frame size %d exceeds limit", n)
	}
	compressed := make([]byte, n)
	if _, err := io.ReadFull(w.conn, compressed); err != nil {
		w.healthy.Store(false)
		return nil, err
	}

	w.mu.Lock()
	raw, err := w.dec.DecodeAll(compressed, nil)
	w.mu.Unlock()
	if err != nil {
		w.healthy.Store(false)
		return nil, fmt.Errorf("transport: decompress frame: %w", err)
	}
	return Decode(raw)
}

// Close releases the zstd codecs and underlying connection.
func (w *WireConn) Close() error {
	w.enc.Close()
	w.dec.Close()
	return w.conn.Close()
}

// Pump drains Recv in a loop, handing each decoded packet to sink,
// until Recv returns an error (connection closed or corrupted). It
// is the loop a worker's connection manager runs per inbound
// WireConn; sink is ordinarily a Domain's Inbox() channel.
func (w *WireConn) Pump(sink chan<- dataflow.Packet) error {
	for {
		pkt, err := w.Recv()
		if err != nil {
			return err
		}
		sink <- pkt
	}
}
