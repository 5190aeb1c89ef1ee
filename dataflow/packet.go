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

package dataflow

// Packet is the sum type a domain dequeues from its inbox (spec.md
// §3). It is modeled as a tagged interface with one concrete struct
// per variant, per the "dynamic dispatch over operator kinds" design
// note in spec.md §9: a domain type-switches on the concrete type
// rather than holding the packet behind a vtable.
type Packet interface {
	// Dest is the destination node this packet is routed to within
	// the receiving domain.
	Dest() LocalNodeIndex
}

// Message is a normal delta flowing from a parent to a child node.
type Message struct {
	To   LocalNodeIndex
	From NodeId
	U    Update
}

func (m *Message) Dest() LocalNodeIndex { return m.To }

// Input is an external write to a base table, tagged with the
// upstream sequence number used for dedup on CDC reconnect (spec.md
// §6).
type Input struct {
	To            LocalNodeIndex
	Table         string
	RowsPositive  []Row
	RowsNegative  []Row
	SequenceNumber uint64
}

func (i *Input) Dest() LocalNodeIndex { return i.To }

// ReplayPiece carries a portion of replay data flowing downstream
// along a tag's path.
type ReplayPiece struct {
	To   LocalNodeIndex
	Tag  Tag
	Key  Row
	U    Update
	Last bool
}

func (r *ReplayPiece) Dest() LocalNodeIndex { return r.To }

// RequestPartialReplay asks the tag's source domain to fill key K. To
// names the node the request is addressed to (resolved by the raising
// domain from the triggering ops.ReplayRequest's ancestor identity,
// not assumed to be the erroring node itself), and IndexID the index
// on that node to scan; IndexID is a plain uint32 rather than
// state.IndexID so package dataflow does not need to import package
// state, mirroring Evict.IndexID.
type RequestPartialReplay struct {
	To      LocalNodeIndex // the source-side node the request targets
	Tag     Tag
	Key     Row
	IndexID uint32
	// Requester identifies the domain that should receive the
	// resulting ReplayPiece stream, for transports that cannot infer
	// it from the path alone (sharded fan-out, §4.4).
	Requester DomainIndex
}

func (r *RequestPartialReplay) Dest() LocalNodeIndex { return r.To }

// RequestReaderReplay is RequestPartialReplay specialized for a
// reader-store destination.
type RequestReaderReplay struct {
	To  LocalNodeIndex
	Tag Tag
	Key Row
}

func (r *RequestReaderReplay) Dest() LocalNodeIndex { return r.To }

// StartReplay initiates a bulk, chunked replay of an ancestor's full
// state into a newly-added node (spec.md §4.4 "Chunked initial
// population").
type StartReplay struct {
	To  LocalNodeIndex
	Tag Tag
}

func (s *StartReplay) Dest() LocalNodeIndex { return s.To }

// Finish marks the end of a chunked StartReplay stream.
type Finish struct {
	To  LocalNodeIndex
	Tag Tag
}

func (f *Finish) Dest() LocalNodeIndex { return f.To }

// AddNode is a domain-management packet instructing the domain to
// instantiate a new operator during a migration.
type AddNode struct {
	To   LocalNodeIndex
	Spec NodeSpec
}

func (a *AddNode) Dest() LocalNodeIndex { return a.To }

// SeedState preloads a node's state with rows computed elsewhere
// (e.g. migration-time bootstrap from a snapshot).
type SeedState struct {
	To   LocalNodeIndex
	Rows []Row
}

func (s *SeedState) Dest() LocalNodeIndex { return s.To }

// Evict instructs the domain to drop the given keys from a partial
// index, issued by the eviction coordinator walking a fill path in
// reverse (spec.md §5).
type Evict struct {
	To      LocalNodeIndex
	IndexID uint32
	Keys    []Row
}

func (e *Evict) Dest() LocalNodeIndex { return e.To }
