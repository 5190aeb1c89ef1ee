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

// Package dataflow defines the delta algebra (Record, Update, Packet)
// and graph identifiers shared by every operator kernel, state store,
// domain, and the replay protocol.
package dataflow

import "github.com/google/uuid"

// NodeId globally identifies an operator node across the whole graph,
// stable across migrations that do not remove the node. Minted from
// uuid so that controller, domain, and replay-path code can all refer
// to a node without coordinating a central counter (teacher precedent:
// request identifiers in cmd/snellerd are uuid-based).
type NodeId uuid.UUID

func NewNodeId() NodeId { return NodeId(uuid.New()) }

func (n NodeId) String() string { return uuid.UUID(n).String() }

// LocalNodeIndex addresses a node within the domain that owns it. It
// is only meaningful paired with a DomainIndex.
type LocalNodeIndex uint32

// DomainIndex identifies a scheduling domain within a single
// deployment.
type DomainIndex uint32

// ShardIndex identifies one shard of a sharded domain; unsharded
// domains always use shard 0.
type ShardIndex uint32

// Tag identifies a single source->destination replay path, stable for
// the lifetime of the partial index it fills (spec.md §4.4).
type Tag uuid.UUID

func NewTag() Tag { return Tag(uuid.New()) }

func (t Tag) String() string { return uuid.UUID(t).String() }
