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

package wal

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// DedupKey is a content-addressed fingerprint of one group-commit
// batch, used on upstream CDC reconnect to recognize a batch that was
// already appended (and hence already applied to every domain that
// received it) versus a genuinely new one carrying the same sequence
// number after a source failover renumbered its stream.
type DedupKey [blake2b.Size256]byte

// Sum computes the DedupKey for a (table, sequence number, payload)
// triple. The sequence number is mixed in ahead of the payload so that
// two batches with identical row content at different points in the
// stream do not collide.
func Sum(tableID uint64, sequenceNumber uint64, payload []byte) DedupKey {
	h, _ := blake2b.New256(nil) // nil key, unkeyed hash; error is only non-nil for a bad key length
	var prefix [16]byte
	binary.BigEndian.PutUint64(prefix[0:8], tableID)
	binary.BigEndian.PutUint64(prefix[8:16], sequenceNumber)
	h.Write(prefix[:])
	h.Write(payload)
	var out DedupKey
	copy(out[:], h.Sum(nil))
	return out
}
