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

import "github.com/doytsujin/readyset/dataflow"

// Identity passes its input through unchanged.
type Identity struct{ arity int }

func NewIdentity(arity int) *Identity { return &Identity{arity: arity} }

func (i *Identity) Arity() int { return i.arity }

func (i *Identity) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	return Result{Emit: u.Records}, nil
}

// Union is a multi-parent merge: every record from any parent is
// forwarded to children unchanged, preserving the arrival order
// within a single packet (spec.md §4.1).
type Union struct{ arity int }

func NewUnion(arity int) *Union { return &Union{arity: arity} }

func (u *Union) Arity() int { return u.arity }

func (un *Union) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	return Result{Emit: u.Records}, nil
}
