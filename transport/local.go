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

// Package transport implements domain.Sender: in-process delivery
// between co-located domains (package transport, Router) and a framed,
// compressed byte-stream delivery between domains running on separate
// workers (package transport, WireConn), per spec.md §7's Transport
// error kind and §4.3's cross-domain FIFO guarantee.
package transport

import (
	"errors"
	"fmt"

	"github.com/doytsujin/readyset/dataflow"
)

// ErrUnhealthy corresponds to spec.md §7's Transport error: a
// destination domain's connection has been marked unhealthy (its
// backlog never drained, or its socket is down) and new sends are
// refused until it reconnects.
var ErrUnhealthy = errors.New("transport: destination unhealthy")

// ErrBackpressure is returned when a destination's inbox depth has
// exceeded its configured threshold; callers should retry, not treat
// this as a fatal transport failure.
var ErrBackpressure = errors.New("transport: backpressure")

// Inbox is the minimal destination interface Router needs: a channel
// domain.Domain.Inbox() already returns.
type Inbox chan<- dataflow.Packet

// Router implements domain.Sender for domains that live in the same
// process. It is the common case (single-host deployment, or a
// migration that keeps all domains on one worker); WireConn below
// handles the cross-process case. Per spec.md §4.3 cross-domain FIFO
// is a single unbuffered-enough channel per destination, so Router
// simply holds one inbox per DomainIndex.
type Router struct {
	inboxes map[dataflow.DomainIndex]Inbox
	// Depth, if >0, bounds how full a destination's channel may be
	// before Send reports ErrBackpressure instead of blocking forever;
	// the receiving domain's queue depth is the signal a real deployment
	// would use to mark a sender's path unhealthy (spec.md §7).
	Depth int
}

func NewRouter() *Router {
	return &Router{inboxes: make(map[dataflow.DomainIndex]Inbox)}
}

// Register wires dst's inbox into the router so Send(dst, ...) can
// reach it.
func (r *Router) Register(dst dataflow.DomainIndex, inbox Inbox) {
	r.inboxes[dst] = inbox
}

// Send implements domain.Sender.
func (r *Router) Send(dst dataflow.DomainIndex, pkt dataflow.Packet) error {
	inbox, ok := r.inboxes[dst]
	if !ok {
		return fmt.Errorf("%w: no route to domain %d", ErrUnhealthy, dst)
	}
	if r.Depth > 0 && len(inbox) >= r.Depth {
		return fmt.Errorf("%w: domain %d inbox depth %d", ErrBackpressure, dst, len(inbox))
	}
	inbox <- pkt
	return nil
}
