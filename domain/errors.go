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

package domain

import "errors"

// ErrUnknownNode corresponds to spec.md §7's UnknownNode: a packet or
// lookup referenced a LocalNodeIndex/NodeId this domain does not own.
var ErrUnknownNode = errors.New("unknown node")

// ErrTransport corresponds to spec.md §7's Transport error kind: a
// Sender failed to deliver a packet to a remote domain.
var ErrTransport = errors.New("transport")
