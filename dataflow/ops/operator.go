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

// Package ops implements the per-kind operator kernels: base,
// identity, filter, project, join, left-join, aggregation, extremum,
// top-k, distinct, union, sharder, shard merger, and reader
// (spec.md §4.1).
package ops

import (
	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/state"
)

// ReplayRequest is raised by an operator when it must read a key from
// its own or an ancestor's state that is currently missing. Node/Index
// name the node whose state actually needs filling: the zero NodeId
// means "this node's own state" (Aggregation/TopK's own-index miss),
// anything else names the ancestor the miss is really against (Join/
// LeftJoin's other-parent miss), so the domain raising the request can
// route it to, and scan, the right source instead of always assuming
// the erroring node is also the one holding the missing state.
type ReplayRequest struct {
	Tag   dataflow.Tag
	Key   dataflow.Row
	Node  dataflow.NodeId
	Index state.IndexID
}

// Result is the outcome of one call to Operator.OnInput: the records
// to forward to children, the mutations to apply to this node's own
// state (applied atomically with emission, spec.md §4.1), and any
// replay requests the kernel needs answered before it can finish
// processing the key in question.
type Result struct {
	Emit      dataflow.Records
	Mutations []state.Mutation
	Replays   []ReplayRequest
}

// LookupFn resolves a key against a named index of a parent node's
// state, used by Join/LeftJoin to read state they do not own. It returns state.Miss when the target index is partial and
// the key is not currently filled; the operator is then responsible
// for raising a ReplayRequest rather than treating Miss as "empty".
type LookupFn func(parent dataflow.NodeId, index state.IndexID, key dataflow.Row) (state.LookupResult, error)

// Context carries everything an operator kernel needs besides the
// triggering batch: a way to read parent state, its own state handle
// (nil for stateless operators), and replay metadata when the
// triggering batch is part of a replay fill.
type Context struct {
	Lookup LookupFn
	Own    state.Store
	// Replay is non-nil exactly when this OnInput call is processing
	// a ReplayPiece; per spec.md §4.4 rule (b), operators MUST NOT
	// raise new ReplayRequests for the same (tag, key) while this is
	// set — they yield empty output for the still-unknown portion and
	// rely on normal processing once the piece completes the fill.
	Replay *dataflow.ReplayContext
}

// InReplayOf reports whether ctx is currently processing a replay
// piece for the given tag. The kernels in this package do not call
// it; they check ctx.Replay != nil directly.
func (c *Context) InReplayOf(tag dataflow.Tag) bool {
	return c.Replay != nil && c.Replay.Tag == tag
}

// Operator is the single primary operation every node kind
// implements (spec.md §4.1):
//
//	on_input(from_parent, batch) -> (emitted_batch, state_mutations, optional_replay_requests)
type Operator interface {
	OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error)
	// Arity returns the number of columns in this operator's output
	// rows.
	Arity() int
}
