// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package features resolves SAE feature node ids against the model registry.
//
// A feature node id is the colon-delimited text form "modelId:layer:index"
// produced by the position pipeline (e.g. "gemma-2-2b:12:3456"). Parsing
// resolves it to a Ref carrying the Neuronpedia source id for that layer,
// which is the addressing scheme the steering API consumes.
package features

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// Model Registry
// =============================================================================

// Model describes one supported SAE release.
type Model struct {
	// ID is the canonical model identifier (e.g. "gemma-2-2b").
	ID string

	// DisplayName is the human-readable model name.
	DisplayName string

	// SourceSet is the Neuronpedia source-set suffix for this release.
	// The per-layer source id is "{layer}-{SourceSet}".
	SourceSet string

	// NumLayers is the number of residual-stream layers with SAEs.
	NumLayers int

	// FeaturesPerLayer is the SAE dictionary size per layer.
	FeaturesPerLayer int

	// DecoderDim is the model's residual stream width.
	DecoderDim int
}

const (
	// DefaultModelID is the fallback model when no dial yields a valid parse.
	DefaultModelID = "gemma-2-2b"

	// DefaultLayer is the layer the starter catalog traces against.
	DefaultLayer = 12
)

// registry holds the supported models. Additions here must match layers
// actually exported by the position pipeline.
var registry = map[string]Model{
	"gemma-2-2b": {
		ID:               "gemma-2-2b",
		DisplayName:      "Gemma 2 2B",
		SourceSet:        "gemmascope-res-16k",
		NumLayers:        26,
		FeaturesPerLayer: 16384,
		DecoderDim:       2304,
	},
	"gemma-2-9b": {
		ID:               "gemma-2-9b",
		DisplayName:      "Gemma 2 9B",
		SourceSet:        "gemmascope-9b-res-16k",
		NumLayers:        42,
		FeaturesPerLayer: 16384,
		DecoderDim:       3584,
	},
}

// Lookup returns the model for the given id.
//
// Outputs:
//
//	Model - The model configuration.
//	bool - False if the model id is not registered.
func Lookup(modelID string) (Model, bool) {
	m, ok := registry[modelID]
	return m, ok
}

// Models returns all registered models sorted by id.
func Models() []Model {
	out := make([]Model, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SourceID returns the Neuronpedia source id for a layer of this model.
//
// Example: layer 12 of gemma-2-2b -> "12-gemmascope-res-16k".
func (m Model) SourceID(layer int) string {
	return fmt.Sprintf("%d-%s", layer, m.SourceSet)
}

// =============================================================================
// Node Id Parsing
// =============================================================================

// Ref is a resolved feature reference.
//
// Source and Index together address one steerable coefficient; ModelID and
// Layer are retained for display and for tagging computed vectors.
type Ref struct {
	ModelID string
	Layer   int
	Index   int

	// Source is the per-layer source id, "{layer}-{sourceSet}".
	Source string
}

// Parse resolves a node id of the form "modelId:layer:index".
//
// Description:
//
//	Splits the id, validates the model against the registry, and bounds
//	checks layer and index against that model's geometry. Malformed ids
//	are not errors at this layer; callers skip them feature-by-feature.
//
// Inputs:
//
//	nodeID - Colon-delimited node id, e.g. "gemma-2-2b:12:3456".
//
// Outputs:
//
//	Ref - The resolved reference (zero value when ok is false).
//	bool - False if the id is malformed, the model is unknown, or
//	       layer/index fall outside the model's geometry.
func Parse(nodeID string) (Ref, bool) {
	parts := strings.Split(nodeID, ":")
	if len(parts) != 3 {
		return Ref{}, false
	}

	model, ok := registry[parts[0]]
	if !ok {
		return Ref{}, false
	}

	layer, err := strconv.Atoi(parts[1])
	if err != nil || layer < 0 || layer >= model.NumLayers {
		return Ref{}, false
	}

	index, err := strconv.Atoi(parts[2])
	if err != nil || index < 0 || index >= model.FeaturesPerLayer {
		return Ref{}, false
	}

	return Ref{
		ModelID: model.ID,
		Layer:   layer,
		Index:   index,
		Source:  model.SourceID(layer),
	}, true
}

// NodeID formats the canonical node id for a model, layer, and index.
//
// The inverse of Parse for valid inputs. No validation is performed.
func NodeID(modelID string, layer, index int) string {
	return fmt.Sprintf("%s:%d:%d", modelID, layer, index)
}
