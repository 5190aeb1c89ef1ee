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

// Package metrics implements spec.md §6's Telemetry paragraph: a
// pull-based Registry recording, per domain/shard, packet forward
// time, replay-phase timings, eviction counts, and state sizes, plus
// the process-wide eviction coordinator described in the "Resource
// policy" paragraph. Metrics and eviction thresholds are spec.md
// §9's only sanctioned process-wide state; everything else is passed
// explicitly into the components that need it.
package metrics

import (
	"sync"
	"time"
)

// Phase names a stage of replay handling, matching spec.md §6's
// "per phase: seed, chunked, finish, reader" breakdown.
type Phase string

const (
	PhaseSeed    Phase = "seed"
	PhaseChunked Phase = "chunked"
	PhaseFinish  Phase = "finish"
	PhaseReader  Phase = "reader"
)

// Label is a free-form key/value metric tag, per spec.md §6 ("Metric
// labels are free-form key/value strings").
type Label struct {
	Key   string
	Value string
}

type key struct {
	name  string
	label string // flattened Label set, in the order the caller passed it
}

func labelKey(labels []Label) string {
	// A domain/shard/node triple is always present and order-stable at
	// call sites, so simple concatenation is enough to disambiguate
	// without sorting on every observation.
	s := ""
	for _, l := range labels {
		s += l.Key + "=" + l.Value + ";"
	}
	return s
}

// counter is a monotonic count plus accumulated duration, covering
// both "eviction counts" (count only) and "packet forward time"
// (count + duration) in one struct.
type counter struct {
	count int64
	total time.Duration
}

// gauge is a point-in-time value, covering "state sizes in bytes".
type gauge struct {
	value int64
}

// Registry accumulates counters and gauges under (metric name, label
// set) keys and exposes them via the pull-based Snapshot method
// (original_source/noria/noria/src/metrics.rs's push model is
// deliberately not carried forward: spec.md §6 calls for pull).
type Registry struct {
	mu       sync.Mutex
	counters map[key]*counter
	gauges   map[key]*gauge
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[key]*counter),
		gauges:   make(map[key]*gauge),
	}
}

// Observe records one occurrence of name (e.g. "domain.packet_forward",
// "domain.replay.seed", "domain.eviction") taking d, tagged with
// labels (typically {domain, shard, node} per spec.md §6).
func (r *Registry) Observe(name string, d time.Duration, labels ...Label) {
	k := key{name: name, label: labelKey(labels)}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[k]
	if !ok {
		c = &counter{}
		r.counters[k] = c
	}
	c.count++
	c.total += d
}

// SetGauge records a point-in-time value for name (e.g.
// "state.bytes", tagged node=..., index=...).
func (r *Registry) SetGauge(name string, value int64, labels ...Label) {
	k := key{name: name, label: labelKey(labels)}
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gauges[k]
	if !ok {
		g = &gauge{}
		r.gauges[k] = g
	}
	g.value = value
}

// ObservePhase is a thin wrapper over Observe for replay-phase timing,
// per spec.md §6's explicit phase breakdown.
func (r *Registry) ObservePhase(phase Phase, d time.Duration, labels ...Label) {
	r.Observe("domain.replay."+string(phase), d, labels...)
}

// Sample is one (name, labels) -> value pair returned by Snapshot.
type Sample struct {
	Name   string
	Labels string
	Count  int64 // counters only; zero for gauges
	Total  time.Duration
	Value  int64 // gauges only; zero for counters
}

// Snapshot returns every recorded metric as of the call, implementing
// spec.md §6's pull-based reporting cadence.
func (r *Registry) Snapshot() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, 0, len(r.counters)+len(r.gauges))
	for k, c := range r.counters {
		out = append(out, Sample{Name: k.name, Labels: k.label, Count: c.count, Total: c.total})
	}
	for k, g := range r.gauges {
		out = append(out, Sample{Name: k.name, Labels: k.label, Value: g.value})
	}
	return out
}
