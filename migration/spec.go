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

package migration

import (
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/doytsujin/readyset/assignment"
)

// NodeDecl is the YAML/JSON-tagged description of one node in a
// document-authored migration, grounded on the teacher's
// "definition.json|definition.yaml" configuration convention
// (db/sync.go, cmd/sdb/main.go) of accepting either encoding for the
// same schema via sigs.k8s.io/yaml (which decodes YAML by converting
// it to JSON and reusing encoding/json's struct tags).
type NodeDecl struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Parents  []string `json:"parents,omitempty"`
	Reader   bool     `json:"reader,omitempty"`
	Sharded  bool     `json:"sharded,omitempty"`
	ShardCol []int    `json:"shardCols,omitempty"`

	// Arity is the node's output column count, needed by kinds whose
	// kernel (Identity, Union, Distinct, ShardMerger) takes no other
	// parameters at all.
	Arity int `json:"arity,omitempty"`
	// IsPartial marks this node's own materialized state (if any) as
	// partial, per spec.md §5 "Partial materialization".
	IsPartial bool `json:"partial,omitempty"`
	// ReaderKeyCols is the lookup-key column set for a Reader node;
	// meaningless for any other kind.
	ReaderKeyCols []int `json:"readerKeyCols,omitempty"`
	// OwnIndexID/OwnIndexCols declare a generic own index for this
	// node (dataflow.NodeSpec.HasOwnIndex), letting a Base or Distinct
	// expose the materialized state a downstream Join/Aggregation
	// reaches via ops.LookupFn.
	OwnIndexID   uint32 `json:"ownIndexId,omitempty"`
	OwnIndexCols []int  `json:"ownIndexCols,omitempty"`

	// Filter/Project/Join/Aggregation/Extremum/TopK kernels take a
	// predicate tree, projection list, join spec, or group/aggregate
	// spec as their Params (ops.Expr, []ops.Expr, ops.JoinParams,
	// ops.AggParams, ops.TopKParams) that this document format has no
	// general encoding for; author those kinds via Migration.AddNode
	// with Params set directly instead of through ApplyDocument (see
	// DESIGN.md).
}

// PlacementDecl is one entry of the static domain-placement
// restriction config (spec.md §4.5's worker_volume compatibility
// check), keyed by node name and shard.
type PlacementDecl struct {
	Node         string `json:"node"`
	Shard        int    `json:"shard"`
	WorkerVolume string `json:"workerVolume"`
}

// Document is the top-level shape of a migration spec file: an
// ordered list of node declarations plus optional placement
// restrictions.
type Document struct {
	Nodes       []NodeDecl      `json:"nodes"`
	Placements  []PlacementDecl `json:"placements,omitempty"`
}

// ParseDocument decodes a migration document from either YAML or JSON
// bytes (sigs.k8s.io/yaml accepts both, since YAML 1.2 is a superset
// of JSON for the subset of syntax it actually parses).
func ParseDocument(b []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Document{}, fmt.Errorf("migration: parsing document: %w", err)
	}
	return doc, nil
}

// Restrictions converts a Document's placement declarations into the
// map shape assignment.Assigner.Restrictions expects.
func (d Document) Restrictions() map[assignment.RestrictionKey]assignment.PlacementRestriction {
	out := make(map[assignment.RestrictionKey]assignment.PlacementRestriction, len(d.Placements))
	for _, p := range d.Placements {
		out[assignment.RestrictionKey{NodeName: p.Node, Shard: p.Shard}] = assignment.PlacementRestriction{WorkerVolume: p.WorkerVolume}
	}
	return out
}
