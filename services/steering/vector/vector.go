// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector turns a dial mapping plus a config into one combined,
// clamped, sparsified steering vector.
//
// Compute and Merge are pure: given identical inputs they yield identical
// feature sets and strengths across calls, timestamp excluded. The vector's
// wire shape {features[], modelId, timestamp} is the fixed contract handed
// to the generation-request builder.
package vector

import (
	"math"
	"sort"
	"time"
)

// Feature is one steerable coefficient with its combined strength.
type Feature struct {
	// Source is the per-layer source id ("{layer}-{sourceSet}").
	Source string `json:"source"`

	// Index is the feature index within the source.
	Index int `json:"index"`

	// Strength is the combined contribution, clamped into the configured
	// range.
	Strength float64 `json:"strength"`
}

// Vector is the combined steering output of all active dials.
//
// Features are unique by (Source, Index), sorted by descending absolute
// strength, and truncated to the configured maximum.
type Vector struct {
	Features []Feature `json:"features"`
	ModelID  string    `json:"modelId"`

	// Method records how the vector was produced.
	Method Method `json:"method,omitempty"`

	// ComputedAt is when the vector was computed.
	ComputedAt time.Time `json:"timestamp"`
}

// IsEmpty reports whether v is nil or carries no features.
func IsEmpty(v *Vector) bool {
	return v == nil || len(v.Features) == 0
}

// Magnitude returns the sum of absolute strengths, an overall
// steering-intensity scalar. A nil vector has magnitude zero.
func Magnitude(v *Vector) float64 {
	if v == nil {
		return 0
	}
	var total float64
	for _, f := range v.Features {
		total += math.Abs(f.Strength)
	}
	return total
}

// sortFeatures orders by descending |strength|, breaking ties by source
// then index so repeated computation is bit-identical.
func sortFeatures(feats []Feature) {
	sort.Slice(feats, func(i, j int) bool {
		ai, aj := math.Abs(feats[i].Strength), math.Abs(feats[j].Strength)
		if ai != aj {
			return ai > aj
		}
		if feats[i].Source != feats[j].Source {
			return feats[i].Source < feats[j].Source
		}
		return feats[i].Index < feats[j].Index
	})
}

// truncate keeps the first max features. Non-positive max keeps none.
func truncate(feats []Feature, max int) []Feature {
	if max < 0 {
		max = 0
	}
	if len(feats) > max {
		return feats[:max]
	}
	return feats
}
