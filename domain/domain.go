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

// Package domain implements the single-threaded scheduling unit of
// spec.md §4.3: a Domain owns a contiguous clique of operators and
// their state, drains one inbox in FIFO order, and for each packet
// walks the owned subgraph invoking on_input at each node, applying
// state mutations synchronously before any follow-up packet is
// forwarded.
//
// The run loop and its Sender/queue seam follow the shape of the
// teacher's notification queue worker in db/queue.go: a single
// consumer goroutine drains a channel, dispatches per item kind, and
// reports fatal errors rather than panicking.
package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/dataflow/ops"
	"github.com/doytsujin/readyset/state"
)

// Sender forwards a packet across a domain boundary. Package transport
// implements this; domain never imports transport, mirroring the
// teacher's db.Queue seam (db/queue.go) between the merge logic and
// its backing notification transport.
type Sender interface {
	Send(dst dataflow.DomainIndex, pkt dataflow.Packet) error
}

// remoteEdge is a child living in another domain.
type remoteEdge struct {
	domain dataflow.DomainIndex
	to     dataflow.LocalNodeIndex
}

// nodeEntry is one operator instance plus the domain-local wiring
// needed to route its output.
type nodeEntry struct {
	id       dataflow.NodeId
	local    dataflow.LocalNodeIndex
	kind     dataflow.Kind
	op       ops.Operator
	own      state.Store
	ownIndex state.IndexID
	children []dataflow.LocalNodeIndex
	remote   []remoteEdge
	reader   *state.ReaderStore

	// shardRemote maps a Sharder node's destination shard index to the
	// remote edge that shard lives behind, populated by ConnectSharded.
	// Only meaningful for a *ops.Sharder kernel; forward consults it
	// instead of broadcasting to children/remote when non-empty.
	shardRemote map[int]remoteEdge

	// parent/parentIndex name the upstream node+index a Reader replays
	// from on RequestReaderReplay; unused by non-reader kernels.
	parent      dataflow.NodeId
	parentIndex state.IndexID
}

// missEntry is a per-(tag,key) buffer of packets blocked on a replay
// fill (spec.md §4.4 "Triggering" and "Coalescing").
type missEntry struct {
	requested bool
	pending   []bufferedUpdate
}

type bufferedUpdate struct {
	to   dataflow.LocalNodeIndex
	from dataflow.NodeId
	u    dataflow.Update
}

type baseBatch struct {
	pos       []dataflow.Row
	neg       []dataflow.Row
	firstSeen time.Time
}

// Domain is the runtime scheduling unit. One goroutine calls Run;
// AddNode/Inbox may be called from other goroutines before Run starts
// (during migration commit) but node maps are not safe to mutate
// concurrently with Run once started, matching spec.md §4.3's "runs on
// a single logical thread at a time".
type Domain struct {
	ID    dataflow.DomainIndex
	Shard dataflow.ShardIndex

	Log *slog.Logger

	sender Sender
	inbox  chan dataflow.Packet

	nodes []*nodeEntry
	byID  map[dataflow.NodeId]dataflow.LocalNodeIndex

	missMu sync.Mutex
	misses map[string]*missEntry

	// BatchWindow and BatchMax bound group-commit coalescing of Input
	// packets to base tables (spec.md §4.3 "Batching"). BatchWindow<=0
	// disables coalescing (every Input flushes immediately).
	BatchWindow time.Duration
	BatchMax    int
	batches     map[dataflow.LocalNodeIndex]*baseBatch

	closed bool
}

// New creates an empty Domain bound to sender for cross-domain
// forwarding. Call AddNode for every operator this domain owns before
// starting Run.
func New(id dataflow.DomainIndex, shard dataflow.ShardIndex, sender Sender) *Domain {
	return &Domain{
		ID:      id,
		Shard:   shard,
		Log:     slog.Default(),
		sender:  sender,
		inbox:   make(chan dataflow.Packet, 256),
		byID:    make(map[dataflow.NodeId]dataflow.LocalNodeIndex),
		misses:  make(map[string]*missEntry),
		batches: make(map[dataflow.LocalNodeIndex]*baseBatch),
		BatchMax: 1024,
	}
}

// Inbox returns the channel external callers (the controller, other
// domains' Senders, or the reader-replay client) enqueue packets onto.
func (d *Domain) Inbox() chan<- dataflow.Packet { return d.inbox }

// AddNode instantiates op as local index idx (must be assigned
// densely starting at 0 by the caller, matching LocalNodeIndex's role
// as a direct slice index per spec.md §9's arena-based graph design).
func (d *Domain) AddNode(idx dataflow.LocalNodeIndex, id dataflow.NodeId, kind dataflow.Kind, op ops.Operator, own state.Store, ownIndex state.IndexID) {
	for len(d.nodes) <= int(idx) {
		d.nodes = append(d.nodes, nil)
	}
	d.nodes[idx] = &nodeEntry{id: id, local: idx, kind: kind, op: op, own: own, ownIndex: ownIndex}
	d.byID[id] = idx
}

// SetReader attaches a reader store to an already-added KindReader
// node so Lookup/WaitForFill is reachable from outside the domain, and
// records the upstream node+index RequestReaderReplay seeds from.
func (d *Domain) SetReader(idx dataflow.LocalNodeIndex, rs *state.ReaderStore, parent dataflow.NodeId, parentIndex state.IndexID) {
	if int(idx) < len(d.nodes) && d.nodes[idx] != nil {
		e := d.nodes[idx]
		e.reader = rs
		e.parent = parent
		e.parentIndex = parentIndex
	}
}

// Connect records an in-domain parent->child edge.
func (d *Domain) Connect(parent, child dataflow.LocalNodeIndex) {
	e := d.nodes[parent]
	e.children = append(e.children, child)
}

// ConnectRemote records that parent has a child owned by another
// domain, reached through Sender.
func (d *Domain) ConnectRemote(parent dataflow.LocalNodeIndex, dstDomain dataflow.DomainIndex, dstLocal dataflow.LocalNodeIndex) {
	e := d.nodes[parent]
	e.remote = append(e.remote, remoteEdge{domain: dstDomain, to: dstLocal})
}

// ConnectSharded records that parent (a *ops.Sharder node) owns a
// dedicated remote edge for one destination shard, reached through
// Sender. forward consults this instead of broadcasting once any
// shard has been registered, so "a sharder operator deterministically
// routes records to shards by hash(column tuple)" (spec.md §4.3) and
// "Multi-shard seeds" fan-out (spec.md §4.4) actually happen at
// runtime instead of Sharder.Route/ShardFor going uncalled.
func (d *Domain) ConnectSharded(parent dataflow.LocalNodeIndex, shard int, dstDomain dataflow.DomainIndex, dstLocal dataflow.LocalNodeIndex) {
	e := d.nodes[parent]
	if e.shardRemote == nil {
		e.shardRemote = make(map[int]remoteEdge)
	}
	e.shardRemote[shard] = remoteEdge{domain: dstDomain, to: dstLocal}
}

// Run drains the inbox until ctx is cancelled or Close is called.
// Per spec.md §4.3, packets are processed one at a time to completion:
// there is no concurrent on_input invocation within a Domain.
func (d *Domain) Run(ctx context.Context) error {
	var ticker *time.Ticker
	var tickC <-chan time.Time
	if d.BatchWindow > 0 {
		ticker = time.NewTicker(d.BatchWindow)
		defer ticker.Stop()
		tickC = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tickC:
			d.flushTimedOutBatches()
		case pkt, ok := <-d.inbox:
			if !ok {
				return nil
			}
			if err := d.handle(pkt); err != nil {
				// Domain-level fatal errors abort the owning worker task
				// (spec.md §4.1 error policy); operator-level errors are
				// already coerced to a dropped record before reaching
				// here.
				return fmt.Errorf("domain %d: %w", d.ID, err)
			}
		}
	}
}

// Close stops Run's next receive from the inbox; safe to call once.
func (d *Domain) Close() {
	if !d.closed {
		d.closed = true
		close(d.inbox)
	}
}

func (d *Domain) handle(pkt dataflow.Packet) error {
	switch p := pkt.(type) {
	case *dataflow.Message:
		return d.handleMessage(p.To, p.From, p.U)
	case *dataflow.Input:
		return d.handleInput(p)
	case *dataflow.ReplayPiece:
		return d.handleReplayPiece(p)
	case *dataflow.RequestPartialReplay:
		return d.handleRequestPartialReplay(p)
	case *dataflow.RequestReaderReplay:
		return d.handleRequestReaderReplay(p)
	case *dataflow.StartReplay:
		return d.handleStartReplay(p)
	case *dataflow.Finish:
		return d.handleFinish(p)
	case *dataflow.SeedState:
		return d.handleSeedState(p)
	case *dataflow.Evict:
		return d.handleEvict(p)
	case *dataflow.AddNode:
		// Migration-time node instantiation is performed by the
		// controller calling AddNode directly (it has the operator
		// constructor, which an arbitrary NodeSpec.Params blob cannot
		// reconstruct on its own); receiving this packet here just
		// confirms the slot exists.
		if _, ok := d.byID[p.Spec.ID]; !ok {
			return fmt.Errorf("domain %d: AddNode packet for unprovisioned node %s", d.ID, p.Spec.ID)
		}
		return nil
	default:
		return fmt.Errorf("domain %d: unhandled packet type %T", d.ID, pkt)
	}
}

func (d *Domain) entry(idx dataflow.LocalNodeIndex) (*nodeEntry, error) {
	if int(idx) >= len(d.nodes) || d.nodes[idx] == nil {
		return nil, fmt.Errorf("%w: local index %d", ErrUnknownNode, idx)
	}
	return d.nodes[idx], nil
}

// handleMessage is the core on_input walk: invoke the destination
// node's kernel, apply its state mutations, raise any replay requests,
// and forward its emission to in-domain children and remote edges.
func (d *Domain) handleMessage(to dataflow.LocalNodeIndex, from dataflow.NodeId, u dataflow.Update) error {
	e, err := d.entry(to)
	if err != nil {
		return err
	}
	ctx := &ops.Context{Own: e.own, Lookup: d.lookup, Replay: u.Replay}
	res, err := e.op.OnInput(ctx, from, u)
	if err != nil {
		// Operator-level errors never propagate as exceptions (spec.md
		// §4.1 error policy): the record(s) in this packet are dropped
		// and processing continues with the next packet.
		d.Log.Error("operator error, dropping packet", "domain", d.ID, "node", e.id, "error", err)
		return nil
	}
	if e.own != nil {
		if err := state.Apply(e.own, res.Mutations); err != nil {
			return fmt.Errorf("applying mutations at node %s: %w", e.id, err)
		}
	}
	if e.reader != nil {
		e.reader.Apply(res.Emit)
	}
	for _, rr := range res.Replays {
		d.raiseReplay(e, rr, bufferedUpdate{to: to, from: from, u: u})
	}
	if len(res.Emit) == 0 {
		return nil
	}
	return d.forward(e, res.Emit, u.Replay)
}

// forward routes an emitted batch to e's in-domain children (by direct
// recursive dispatch, preserving the FIFO-within-domain ordering
// guarantee of spec.md §4.3) and to its remote children via Sender. A
// Sharder with registered shard routes is handled separately by
// forwardSharded instead of being broadcast like every other kind.
func (d *Domain) forward(e *nodeEntry, emit dataflow.Records, replay *dataflow.ReplayContext) error {
	if sh, ok := e.op.(*ops.Sharder); ok && len(e.shardRemote) > 0 {
		return d.forwardSharded(e, sh, emit, replay)
	}
	out := dataflow.Update{Records: emit, Origin: e.id, Replay: replay}
	for _, child := range e.children {
		if err := d.handleMessage(child, e.id, out); err != nil {
			return err
		}
	}
	for _, re := range e.remote {
		msg := &dataflow.Message{To: re.to, From: e.id, U: out}
		if err := d.sender.Send(re.domain, msg); err != nil {
			return fmt.Errorf("%w: domain %d -> %d: %v", ErrTransport, d.ID, re.domain, err)
		}
	}
	return nil
}

// forwardSharded partitions emit by destination shard (ops.Sharder's
// siphash-based Route/ShardFor) and sends each partition only to the
// remote edge ConnectSharded registered for that shard, instead of
// broadcasting every record to every child the way a non-Sharder node
// is forwarded.
func (d *Domain) forwardSharded(e *nodeEntry, sh *ops.Sharder, emit dataflow.Records, replay *dataflow.ReplayContext) error {
	byShard := sh.Route(dataflow.Update{Records: emit})
	for shard, recs := range byShard {
		re, ok := e.shardRemote[shard]
		if !ok {
			return fmt.Errorf("domain %d: no route registered for shard %d of node %s", d.ID, shard, e.id)
		}
		out := dataflow.Update{Records: recs, Origin: e.id, Replay: replay}
		msg := &dataflow.Message{To: re.to, From: e.id, U: out}
		if err := d.sender.Send(re.domain, msg); err != nil {
			return fmt.Errorf("%w: domain %d -> %d: %v", ErrTransport, d.ID, re.domain, err)
		}
	}
	return nil
}

// handleInput resolves an external write against the destination
// Base's recent-row snapshot, optionally coalescing it into a pending
// group-commit batch, and forwards the resolved Records exactly like
// any other node's emission.
func (d *Domain) handleInput(p *dataflow.Input) error {
	if d.BatchWindow <= 0 {
		return d.flushInput(p.To, p.RowsPositive, p.RowsNegative)
	}
	b, ok := d.batches[p.To]
	if !ok {
		b = &baseBatch{firstSeen: time.Now()}
		d.batches[p.To] = b
	}
	b.pos = append(b.pos, p.RowsPositive...)
	b.neg = append(b.neg, p.RowsNegative...)
	if len(b.pos)+len(b.neg) >= d.BatchMax {
		delete(d.batches, p.To)
		return d.flushInput(p.To, b.pos, b.neg)
	}
	return nil
}

func (d *Domain) flushInput(to dataflow.LocalNodeIndex, pos, neg []dataflow.Row) error {
	e, err := d.entry(to)
	if err != nil {
		return err
	}
	base, ok := e.op.(*ops.Base)
	if !ok {
		return fmt.Errorf("domain %d: Input packet routed to non-base node %s", d.ID, e.id)
	}
	var recs dataflow.Records
	for _, r := range pos {
		recs = append(recs, base.ApplyPositive(r)...)
	}
	for _, r := range neg {
		recs = append(recs, base.ApplyNegative(r)...)
	}
	if e.own != nil {
		for _, rec := range recs {
			if rec.Sign == dataflow.Positive {
				e.own.Insert(rec.Row)
			} else {
				e.own.Remove(rec.Row)
			}
		}
	}
	if len(recs) == 0 {
		return nil
	}
	return d.forward(e, recs, nil)
}

// flushTimedOutBatches is invoked by Run's ticker to enforce the
// timeout half of the "bounded by a timeout and a size cap" batching
// rule (spec.md §4.3); flushInput is also called directly by
// handleInput once BatchMax is reached.
func (d *Domain) flushTimedOutBatches() {
	now := time.Now()
	for to, b := range d.batches {
		if now.Sub(b.firstSeen) < d.BatchWindow {
			continue
		}
		delete(d.batches, to)
		d.flushInput(to, b.pos, b.neg)
	}
}

// lookup resolves a key against a node's state, used by Join/LeftJoin
// kernels to read state other than their own. This MVP only resolves
// parents co-located in the same domain; domain assignment (package
// assignment) is expected to keep a stateful operator's lookup targets
// in the same domain wherever its "friendly base" search succeeds,
// per spec.md §4.5, so the cross-domain case is intentionally left
// unimplemented here and documented as a limitation.
func (d *Domain) lookup(parent dataflow.NodeId, index state.IndexID, key dataflow.Row) (state.LookupResult, error) {
	idx, ok := d.byID[parent]
	if !ok {
		return state.Miss(), fmt.Errorf("%w: parent %s not resident in domain %d", ErrUnknownNode, parent, d.ID)
	}
	e := d.nodes[idx]
	if e.own == nil {
		return state.Miss(), fmt.Errorf("%w: node %s carries no state", ErrUnknownNode, parent)
	}
	return e.own.Lookup(index, key)
}

// missKey identifies a miss buffer by (tag, key-as-string). The zero
// tag is treated like any other tag, so every zero-tag miss on the
// same key shares one buffer regardless of the requesting node.
func missKey(tag dataflow.Tag, key dataflow.Row) string {
	s := make([]byte, 0, 16+16*len(key))
	s = append(s, tag[:]...)
	for _, v := range key {
		s = append(s, []byte(v.String())...)
		s = append(s, 0)
	}
	return string(s)
}

// raiseReplay buffers the triggering packet and, unless an identical
// (tag,key) request is already outstanding, forwards a
// RequestPartialReplay toward the tag's source (spec.md §4.4
// "Triggering", "Coalescing").
func (d *Domain) raiseReplay(e *nodeEntry, rr ops.ReplayRequest, trigger bufferedUpdate) {
	d.missMu.Lock()
	defer d.missMu.Unlock()
	k := missKey(rr.Tag, rr.Key)
	m, ok := d.misses[k]
	if !ok {
		m = &missEntry{}
		d.misses[k] = m
	}
	m.pending = append(m.pending, trigger)
	if m.requested {
		return // coalesced: an identical request is already in flight
	}
	m.requested = true

	// Resolve which node actually carries the missing state. The zero
	// NodeId means the raising kernel missed against its own index
	// (Aggregation/TopK); anything else names an ancestor (Join's
	// other-parent miss) that must be routed to and scanned instead of
	// silently re-scanning e's own (often nil, always wrong) state.
	target := e.local
	targetIndex := e.ownIndex
	if rr.Node != (dataflow.NodeId{}) {
		idx, ok := d.byID[rr.Node]
		if !ok {
			// The source isn't resident in this domain. Cross-domain
			// replay routing is the same unimplemented case lookup()
			// documents: the request can't be addressed without the
			// replay registry resolving the owning domain, so surface it
			// rather than silently looping on the same unfilled key.
			d.Log.Error("replay miss against non-resident ancestor", "domain", d.ID, "node", rr.Node)
			return
		}
		target = idx
		targetIndex = rr.Index
	}

	req := &dataflow.RequestPartialReplay{To: target, Tag: rr.Tag, Key: rr.Key, IndexID: uint32(targetIndex), Requester: d.ID}
	if d.sender != nil {
		// The request is addressed to this domain's own ID via Send;
		// target was resolved above against nodes resident here. The
		// tag-path registry (package replay) is not consulted, so a
		// source owned by another domain is not reached from here.
		d.sender.Send(d.ID, req)
	}
}

// handleReplayPiece runs the normal on_input logic against the
// piece's rows with ctx.Replay set so the kernel suppresses new misses
// for this tag (spec.md §4.4 "Piece handling at intermediate nodes"),
// then on the last piece marks the target index filled and drains the
// miss buffer.
func (d *Domain) handleReplayPiece(p *dataflow.ReplayPiece) error {
	u := p.U
	u.Replay = &dataflow.ReplayContext{Tag: p.Tag, Key: p.Key, Last: p.Last, For: p.To}
	if err := d.handleMessage(p.To, dataflow.NodeId{}, u); err != nil {
		return err
	}
	if !p.Last {
		return nil
	}
	e, err := d.entry(p.To)
	if err != nil {
		return err
	}
	if e.own != nil {
		e.own.MarkFilled(e.ownIndex, p.Key)
	}
	if e.reader != nil {
		e.reader.MarkFilled(p.Key)
	}
	return d.drainMisses(p.Tag, p.Key)
}

// drainMisses re-processes every packet that was buffered behind
// (tag,key) as if it had just arrived (spec.md §4.4 "Arrival and
// fill").
func (d *Domain) drainMisses(tag dataflow.Tag, key dataflow.Row) error {
	d.missMu.Lock()
	k := missKey(tag, key)
	m, ok := d.misses[k]
	if ok {
		delete(d.misses, k)
	}
	d.missMu.Unlock()
	if !ok {
		return nil
	}
	for _, bu := range m.pending {
		if err := d.handleMessage(bu.to, bu.from, bu.u); err != nil {
			return err
		}
	}
	return nil
}

// handleRequestPartialReplay resolves a single-hop on-demand upquery:
// p.To/p.IndexID name the node and index raiseReplay resolved as the
// actual source of the miss (the erroring node's own index for an
// Aggregation/TopK self-miss, or the other parent's index for a
// Join/LeftJoin ancestor miss), so this scans that node's own state
// directly rather than always re-scanning the node that raised the
// request. Once scanned, the key is marked filled there and every
// packet buffered behind it is redelivered (drainMisses): for Join
// that means its original delta is reprocessed, and ctx.Lookup against
// the now-filled ancestor hits this time instead of missing again.
//
// This deliberately never re-invokes the target's own kernel the way
// handleReplayPiece does for downstream fill propagation: the target
// is the source being upqueried, and already holds whatever rows
// Lookup would return, so running on_input against them would treat
// already-resident state as a brand new delta.
func (d *Domain) handleRequestPartialReplay(p *dataflow.RequestPartialReplay) error {
	e, err := d.entry(p.To)
	if err != nil {
		return err
	}
	if e.own != nil {
		idx := state.IndexID(p.IndexID)
		if _, err := e.own.Lookup(idx, p.Key); err != nil {
			return err
		}
		e.own.MarkFilled(idx, p.Key)
	}
	if e.reader != nil {
		e.reader.MarkFilled(p.Key)
	}
	return d.drainMisses(p.Tag, p.Key)
}

// handleRequestReaderReplay seeds the reader store for a missing key
// by looking the key up against the reader's upstream materialization
// and publishing the result, then waking anyone blocked on
// ReaderStore.WaitForFill (spec.md §4.4 "Reader replay").
func (d *Domain) handleRequestReaderReplay(p *dataflow.RequestReaderReplay) error {
	e, err := d.entry(p.To)
	if err != nil {
		return err
	}
	if e.reader == nil {
		return fmt.Errorf("%w: node %s is not a reader", ErrUnknownNode, e.id)
	}
	lr, err := d.lookup(e.parent, e.parentIndex, p.Key)
	if err != nil {
		return err
	}
	if len(lr.Rows) == 0 {
		e.reader.MarkFilled(p.Key)
		return nil
	}
	recs := make(dataflow.Records, len(lr.Rows))
	for i, r := range lr.Rows {
		recs[i] = dataflow.Pos(r)
	}
	e.reader.Apply(recs)
	return nil
}

// handleStartReplay handles the start of an initial population
// (spec.md §4.4 "Chunked initial population") by finishing it at
// once: it sends no ReplayPiece and streams no state, and only marks
// the target node's own index filled, exactly as a Finish packet
// does. replayChunkSize is not used by this handler.
const replayChunkSize = 256

func (d *Domain) handleStartReplay(p *dataflow.StartReplay) error {
	e, err := d.entry(p.To)
	if err != nil {
		return err
	}
	if e.own == nil {
		return d.handleFinish(&dataflow.Finish{To: p.To, Tag: p.Tag})
	}
	// Resident state is left as it is; nothing is streamed.
	return d.handleFinish(&dataflow.Finish{To: p.To, Tag: p.Tag})
}

func (d *Domain) handleFinish(p *dataflow.Finish) error {
	e, err := d.entry(p.To)
	if err != nil {
		return err
	}
	if e.own != nil {
		e.own.MarkFilled(e.ownIndex, nil)
	}
	return nil
}

func (d *Domain) handleSeedState(p *dataflow.SeedState) error {
	e, err := d.entry(p.To)
	if err != nil {
		return err
	}
	if e.own == nil {
		return fmt.Errorf("%w: node %s carries no state to seed", ErrUnknownNode, e.id)
	}
	for _, row := range p.Rows {
		if err := e.own.Insert(row); err != nil {
			return err
		}
	}
	return nil
}

// handleEvict drops the requested keys from a partial index; it is
// issued by the process-wide eviction coordinator (package metrics)
// walking a fill path in reverse (spec.md §5).
func (d *Domain) handleEvict(p *dataflow.Evict) error {
	e, err := d.entry(p.To)
	if err != nil {
		return err
	}
	if e.own == nil {
		return nil
	}
	for _, k := range p.Keys {
		e.own.MarkHole(state.IndexID(p.IndexID), k)
	}
	return nil
}

// NodeIDs returns the node ids resident in this domain in local-index
// order, used by tests and the controller to verify wiring.
func (d *Domain) NodeIDs() []dataflow.NodeId {
	out := make([]dataflow.NodeId, 0, len(d.nodes))
	for _, e := range d.nodes {
		if e != nil {
			out = append(out, e.id)
		}
	}
	slices.SortFunc(out, func(a, b dataflow.NodeId) bool { return a.String() < b.String() })
	return out
}
