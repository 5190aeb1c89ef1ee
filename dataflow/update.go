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

// Update is the atomic unit of operator execution: a batch of records
// plus the metadata needed to route and order it.
type Update struct {
	Records Records
	// Origin is the node that produced this batch.
	Origin NodeId
	// Timestamp is monotonic per source domain (spec.md §5 "Clocks").
	// It is advisory: used for tie-breaking (e.g. top-k "most recent
	// wins"), never for correctness.
	Timestamp int64
	// Replay is non-nil when this Update is part of a replay fill
	// flowing along a Tag's path (spec.md §4.4).
	Replay *ReplayContext
}

// ReplayContext threads replay metadata through an Update as it is
// reprocessed by on_input along a replay path.
type ReplayContext struct {
	Tag  Tag
	Key  Row
	Last bool
	// For is the destination this replay ultimately fills; carried so
	// intermediate operators can distinguish "build this tag's fill"
	// from requests for other tags that happen to share a node.
	For LocalNodeIndex
}

// IsEmpty reports whether the update carries no records, a common
// short-circuit for operators that otherwise always emit something.
func (u Update) IsEmpty() bool { return len(u.Records) == 0 }
