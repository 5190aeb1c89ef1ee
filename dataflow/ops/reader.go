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
	"github.com/doytsujin/readyset/dataflow"
	"github.com/doytsujin/readyset/state"
)

// Reader is the terminal leaf kernel: it applies the arriving batch
// to a reader store indexed by the declared view key columns and
// emits nothing further (spec.md §4.1).
type Reader struct {
	KeyCols []int
	Store   *state.ReaderStore
	arity   int
}

func NewReader(store *state.ReaderStore, keyCols []int, arity int) *Reader {
	return &Reader{KeyCols: keyCols, Store: store, arity: arity}
}

func (r *Reader) Arity() int { return r.arity }

func (r *Reader) OnInput(ctx *Context, from dataflow.NodeId, u dataflow.Update) (Result, error) {
	r.Store.Apply(u.Records)
	return Result{}, nil
}
