// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vicinity builds neighbor sets from coactivation edges and answers
// bounded breadth-first queries around a center node.
//
// Edges come from the position pipeline: top-K cosine neighbors per feature
// over the SAE decoder vectors, thresholded on similarity. The index treats
// them as undirected; vicinity queries power highlight-on-hover in the
// feature map, where depth 2 (neighbors plus neighbors-of-neighbors) is the
// supported case.
package vicinity

import "sort"

// EdgeTypeCoactivation is the edge type emitted by the position pipeline.
const EdgeTypeCoactivation = "coactivation"

// DefaultDepth is the expansion depth used by the feature map.
const DefaultDepth = 2

// Edge is one weighted link between two feature nodes.
type Edge struct {
	// ID is the pipeline-assigned edge id ("edge-{layer}-{n}"). Informational.
	ID string `json:"id,omitempty"`

	// Source and Target are feature node ids ("modelId:layer:index").
	Source string `json:"source"`
	Target string `json:"target"`

	// Weight is the cosine similarity that produced the edge.
	Weight float64 `json:"weight"`

	// Type tags the edge kind. The pipeline only emits "coactivation".
	Type string `json:"type,omitempty"`
}

// Adjacency maps a node id to its undirected neighbor set.
type Adjacency map[string]map[string]struct{}

// BuildAdjacency builds an undirected adjacency from weighted edges.
//
// Each edge contributes both directions. Self-loops are dropped. Duplicate
// edges collapse into the set, so the pipeline's bidirectional
// deduplication is not required for correctness.
func BuildAdjacency(edges []Edge) Adjacency {
	adj := make(Adjacency)
	add := func(from, to string) {
		set, ok := adj[from]
		if !ok {
			set = make(map[string]struct{})
			adj[from] = set
		}
		set[to] = struct{}{}
	}

	for _, e := range edges {
		if e.Source == "" || e.Target == "" || e.Source == e.Target {
			continue
		}
		add(e.Source, e.Target)
		add(e.Target, e.Source)
	}
	return adj
}

// Vicinity expands breadth-first from center up to depth hops.
//
// Description:
//
//	Returns a map of node id to the hop count at which the node was first
//	reached. The center itself is never included. Depth values are the true
//	minimal hop counts on the adjacency.
//
// Inputs:
//
//	center - Node id to expand from. May be absent from the adjacency.
//	adj - Adjacency built by BuildAdjacency.
//	depth - Maximum hop count, >= 1. Non-positive depth yields an empty map.
//
// Outputs:
//
//	map[string]int - Node id -> first-reached depth (1..depth).
func Vicinity(center string, adj Adjacency, depth int) map[string]int {
	result := make(map[string]int)
	if depth <= 0 {
		return result
	}

	frontier := []string{center}
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for neighbor := range adj[id] {
				if neighbor == center {
					continue
				}
				if _, seen := result[neighbor]; seen {
					continue
				}
				result[neighbor] = d
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return result
}

// Neighbors returns the direct neighbors of a node, sorted for
// deterministic iteration. Unknown nodes yield an empty slice.
func Neighbors(adj Adjacency, id string) []string {
	set := adj[id]
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
