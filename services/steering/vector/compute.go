// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/horus/services/steering/dials"
	"github.com/AleutianAI/horus/services/steering/features"
)

// Prometheus metrics for steering computation.
var (
	computeParseSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steering_compute_parse_skips_total",
		Help: "Trace feature ids skipped because they failed to parse",
	})

	computeFeatureCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "steering_compute_feature_count",
		Help:    "Number of features in computed steering vectors",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})
)

// featureKey addresses one accumulated coefficient.
type featureKey struct {
	source string
	index  int
}

// Compute combines all active dials into one steering vector.
//
// Description:
//
//	Walks every dial with a non-zero value in sorted-id order, parses each
//	trace feature id, and sums value*weight per (source, index) across
//	dials. Entries whose sum is exactly zero are dropped. Remaining
//	strengths are scaled by the multiplier, clamped into the configured
//	range, sorted by descending absolute strength, and truncated to
//	MaxFeatures.
//
//	Locked dials contribute at their frozen value; only a zero value
//	excludes a dial. Unparseable feature ids are skipped silently and
//	counted in metrics.
//
// Inputs:
//
//	dialMap - Dial snapshot, typically Store.Snapshot(). Not mutated.
//	cfg - Steering configuration. Callers validate; see Config.Validate.
//
// Outputs:
//
//	Vector - ModelID comes from the first valid parse in iteration order,
//	         falling back to features.DefaultModelID. ComputedAt is stamped
//	         with the current time.
func Compute(dialMap map[string]dials.Dial, cfg Config) Vector {
	ids := make([]string, 0, len(dialMap))
	for id := range dialMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	acc := make(map[featureKey]float64)
	modelID := ""
	for _, id := range ids {
		d := dialMap[id]
		if d.Value == 0 {
			continue
		}
		for _, tf := range d.Trace {
			ref, ok := features.Parse(tf.FeatureID)
			if !ok {
				computeParseSkipsTotal.Inc()
				continue
			}
			if modelID == "" {
				modelID = ref.ModelID
			}
			acc[featureKey{ref.Source, ref.Index}] += d.Value * tf.Weight
		}
	}
	if modelID == "" {
		modelID = features.DefaultModelID
	}

	feats := finalize(acc, cfg, true)
	computeFeatureCount.Observe(float64(len(feats)))

	return Vector{
		Features:   feats,
		ModelID:    modelID,
		Method:     cfg.Method.Normalize(),
		ComputedAt: time.Now(),
	}
}

// Merge unions two steering vectors by (source, index), summing strengths
// on overlap, then applies the clamp, sort, and truncate pipeline.
//
// The strength multiplier is not re-applied; both inputs are already
// scaled. ModelID is taken from a, falling back to b when a's is empty.
// The result is tagged MethodMerged.
func Merge(a, b *Vector, cfg Config) Vector {
	acc := make(map[featureKey]float64)
	accumulate := func(v *Vector) {
		if v == nil {
			return
		}
		for _, f := range v.Features {
			acc[featureKey{f.Source, f.Index}] += f.Strength
		}
	}
	accumulate(a)
	accumulate(b)

	modelID := ""
	if a != nil {
		modelID = a.ModelID
	}
	if modelID == "" && b != nil {
		modelID = b.ModelID
	}

	return Vector{
		Features:   finalize(acc, cfg, false),
		ModelID:    modelID,
		Method:     MethodMerged,
		ComputedAt: time.Now(),
	}
}

// finalize applies the shared tail of the pipeline: drop exact zeros,
// optionally scale, clamp, sort, truncate.
func finalize(acc map[featureKey]float64, cfg Config, applyMultiplier bool) []Feature {
	feats := make([]Feature, 0, len(acc))
	for k, strength := range acc {
		if strength == 0 {
			continue
		}
		if applyMultiplier {
			strength *= cfg.StrengthMultiplier
		}
		feats = append(feats, Feature{
			Source:   k.source,
			Index:    k.index,
			Strength: Clamp(strength, cfg.ClampRange),
		})
	}
	sortFeatures(feats)
	return truncate(feats, cfg.MaxFeatures)
}
