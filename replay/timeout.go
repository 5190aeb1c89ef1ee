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

package replay

import (
	"errors"
	"sync"
	"time"

	"github.com/doytsujin/readyset/dataflow"
)

// ErrReplayTimeout corresponds to spec.md §7's ReplayTimeout: a
// requester's outstanding RequestPartialReplay for a (tag, key) was
// not answered within Tracker's deadline.
var ErrReplayTimeout = errors.New("replay timed out")

type pending struct {
	deadline time.Time
	retried  bool
}

// Tracker implements spec.md §4.3's retry-once-then-fail rule: "A
// timed-out request is re-issued once before surfacing a failure
// upstream." It is deliberately independent of any particular
// transport; a caller polls Expired for each outstanding request and
// acts on the Outcome it returns.
type Tracker struct {
	mu      sync.Mutex
	timeout time.Duration
	keys    map[string]*pending
}

func NewTracker(timeout time.Duration) *Tracker {
	return &Tracker{timeout: timeout, keys: make(map[string]*pending)}
}

func trackKey(tag dataflow.Tag, key dataflow.Row) string {
	s := make([]byte, 0, 16+16*len(key))
	s = append(s, tag[:]...)
	for _, v := range key {
		s = append(s, []byte(v.String())...)
		s = append(s, 0)
	}
	return string(s)
}

// Started records that a RequestPartialReplay for (tag, key) was just
// issued.
func (t *Tracker) Started(tag dataflow.Tag, key dataflow.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[trackKey(tag, key)] = &pending{deadline: time.Now().Add(t.timeout)}
}

// Fulfilled clears tracking for (tag, key) once its ReplayPiece with
// Last=true arrives.
func (t *Tracker) Fulfilled(tag dataflow.Tag, key dataflow.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.keys, trackKey(tag, key))
}

// Outcome names what Expired decided for one outstanding request.
type Outcome int

const (
	// OutcomeNone: still within its deadline, no action needed.
	OutcomeNone Outcome = iota
	// OutcomeRetry: the deadline passed for the first time; the caller
	// should re-issue the RequestPartialReplay.
	OutcomeRetry
	// OutcomeFailed: the deadline passed a second time; the caller
	// should surface ErrReplayTimeout upstream and abandon the request.
	OutcomeFailed
)

// Expired reports, for (tag, key), whether action is needed: it
// returns OutcomeNone if the deadline has not passed, OutcomeRetry the
// first time it has (and resets the deadline), and OutcomeFailed the
// second time (and stops tracking the key).
func (t *Tracker) Expired(tag dataflow.Tag, key dataflow.Row) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := trackKey(tag, key)
	p, ok := t.keys[k]
	if !ok || time.Now().Before(p.deadline) {
		return OutcomeNone
	}
	if !p.retried {
		p.retried = true
		p.deadline = time.Now().Add(t.timeout)
		return OutcomeRetry
	}
	delete(t.keys, k)
	return OutcomeFailed
}
