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
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/horus/services/steering/dials"
	"github.com/AleutianAI/horus/services/steering/features"
)

const source12 = "12-gemmascope-res-16k"

func node(index int) string {
	return features.NodeID("gemma-2-2b", 12, index)
}

func dial(id string, value float64, trace ...dials.TraceFeature) dials.Dial {
	return dials.Dial{
		ID:       id,
		Label:    id,
		Value:    value,
		Polarity: dials.Bipolar,
		Trace:    trace,
	}
}

func TestComputeCancellation(t *testing.T) {
	// Two dials pulling the same feature in exactly opposite directions
	// cancel to zero, and exact zeros are dropped.
	dialMap := map[string]dials.Dial{
		"formal": dial("formal", 1.0, dials.TraceFeature{FeatureID: node(100), Weight: 0.5}),
		"casual": dial("casual", -1.0, dials.TraceFeature{FeatureID: node(100), Weight: 0.5}),
	}

	v := Compute(dialMap, DefaultConfig())
	assert.Empty(t, v.Features)
	assert.True(t, IsEmpty(&v))
}

func TestComputeSingleDial(t *testing.T) {
	dialMap := map[string]dials.Dial{
		"formal": dial("formal", 0.8,
			dials.TraceFeature{FeatureID: node(1), Weight: 0.5},
			dials.TraceFeature{FeatureID: node(2), Weight: 0.3},
		),
	}

	v := Compute(dialMap, DefaultConfig())
	require.Len(t, v.Features, 2)

	// Sorted by descending |strength|.
	assert.Equal(t, 1, v.Features[0].Index)
	assert.InDelta(t, 0.4, v.Features[0].Strength, 1e-12)
	assert.Equal(t, 2, v.Features[1].Index)
	assert.InDelta(t, 0.24, v.Features[1].Strength, 1e-12)
	assert.Equal(t, source12, v.Features[0].Source)
	assert.Equal(t, "gemma-2-2b", v.ModelID)
	assert.Equal(t, MethodDials, v.Method)
}

func TestComputeZeroValuedDialsExcluded(t *testing.T) {
	dialMap := map[string]dials.Dial{
		"active": dial("active", 0.5, dials.TraceFeature{FeatureID: node(1), Weight: 1.0}),
		"idle":   dial("idle", 0, dials.TraceFeature{FeatureID: node(2), Weight: 1.0}),
	}

	v := Compute(dialMap, DefaultConfig())
	require.Len(t, v.Features, 1)
	assert.Equal(t, 1, v.Features[0].Index)
}

func TestComputeLockedDialStillContributes(t *testing.T) {
	locked := dial("frozen", 0.5, dials.TraceFeature{FeatureID: node(1), Weight: 1.0})
	locked.Locked = true

	v := Compute(map[string]dials.Dial{"frozen": locked}, DefaultConfig())
	require.Len(t, v.Features, 1)
	assert.InDelta(t, 0.5, v.Features[0].Strength, 1e-12)
}

func TestComputeTruncation(t *testing.T) {
	// One dial with 30 trace features and maxFeatures=10 keeps exactly the
	// 10 highest-strength entries.
	trace := make([]dials.TraceFeature, 30)
	for i := range trace {
		trace[i] = dials.TraceFeature{
			FeatureID: node(i),
			Weight:    float64(i+1) / 30.0,
		}
	}
	dialMap := map[string]dials.Dial{"big": dial("big", 1.0, trace...)}

	cfg := DefaultConfig()
	cfg.MaxFeatures = 10
	v := Compute(dialMap, cfg)

	require.Len(t, v.Features, 10)
	for i, f := range v.Features {
		wantIndex := 29 - i
		assert.Equal(t, wantIndex, f.Index, "position %d", i)
	}
}

func TestComputeMultiplierAndClamp(t *testing.T) {
	dialMap := map[string]dials.Dial{
		"strong": dial("strong", 1.0, dials.TraceFeature{FeatureID: node(1), Weight: 1.0}),
	}

	cfg := DefaultConfig()
	cfg.StrengthMultiplier = 5.0
	v := Compute(dialMap, cfg)
	require.Len(t, v.Features, 1)
	assert.Equal(t, 2.0, v.Features[0].Strength, "5.0 must clamp to range max")

	cfg.StrengthMultiplier = -5.0
	v = Compute(dialMap, cfg)
	assert.Equal(t, -2.0, v.Features[0].Strength, "-5.0 must clamp to range min")
}

func TestComputeAccumulatesAcrossDials(t *testing.T) {
	dialMap := map[string]dials.Dial{
		"a": dial("a", 0.5, dials.TraceFeature{FeatureID: node(7), Weight: 0.5}),
		"b": dial("b", 0.25, dials.TraceFeature{FeatureID: node(7), Weight: 1.0}),
	}

	v := Compute(dialMap, DefaultConfig())
	require.Len(t, v.Features, 1)
	assert.InDelta(t, 0.5, v.Features[0].Strength, 1e-12)
}

func TestComputeSkipsUnparseableIDs(t *testing.T) {
	dialMap := map[string]dials.Dial{
		"mixed": dial("mixed", 1.0,
			dials.TraceFeature{FeatureID: "not-a-node-id", Weight: 0.9},
			dials.TraceFeature{FeatureID: node(3), Weight: 0.2},
		),
	}

	v := Compute(dialMap, DefaultConfig())
	require.Len(t, v.Features, 1)
	assert.Equal(t, 3, v.Features[0].Index)
}

func TestComputeModelID(t *testing.T) {
	t.Run("first valid parse in sorted order wins", func(t *testing.T) {
		dialMap := map[string]dials.Dial{
			// "alpha" sorts before "beta"; its trace is on the 9B model.
			"alpha": dial("alpha", 0.5, dials.TraceFeature{
				FeatureID: features.NodeID("gemma-2-9b", 30, 1), Weight: 1.0,
			}),
			"beta": dial("beta", 0.5, dials.TraceFeature{FeatureID: node(2), Weight: 1.0}),
		}
		v := Compute(dialMap, DefaultConfig())
		assert.Equal(t, "gemma-2-9b", v.ModelID)
	})

	t.Run("fallback when nothing parses", func(t *testing.T) {
		dialMap := map[string]dials.Dial{
			"junk": dial("junk", 1.0, dials.TraceFeature{FeatureID: "???", Weight: 1.0}),
		}
		v := Compute(dialMap, DefaultConfig())
		assert.Equal(t, features.DefaultModelID, v.ModelID)
	})
}

func TestComputeDeterministic(t *testing.T) {
	dialMap := map[string]dials.Dial{}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("dial-%d", i)
		dialMap[id] = dial(id, 0.1*float64(i+1),
			dials.TraceFeature{FeatureID: node(i), Weight: 0.7},
			dials.TraceFeature{FeatureID: node(i + 100), Weight: 0.3},
			dials.TraceFeature{FeatureID: node(500), Weight: 0.1},
		)
	}
	cfg := DefaultConfig()
	cfg.MaxFeatures = 5

	first := Compute(dialMap, cfg)
	for i := 0; i < 10; i++ {
		again := Compute(dialMap, cfg)
		if diff := cmp.Diff(first.Features, again.Features); diff != "" {
			t.Fatalf("run %d differed (-first +again):\n%s", i, diff)
		}
		assert.Equal(t, first.ModelID, again.ModelID)
	}
}

func TestMerge(t *testing.T) {
	mk := func(modelID string, feats ...Feature) *Vector {
		return &Vector{Features: feats, ModelID: modelID}
	}

	t.Run("union sums overlap", func(t *testing.T) {
		a := mk("gemma-2-2b",
			Feature{Source: source12, Index: 1, Strength: 1.5},
			Feature{Source: source12, Index: 2, Strength: 0.5},
		)
		b := mk("gemma-2-2b",
			Feature{Source: source12, Index: 2, Strength: 0.5},
			Feature{Source: source12, Index: 3, Strength: -0.8},
		)

		v := Merge(a, b, DefaultConfig())
		require.Len(t, v.Features, 3)
		assert.Equal(t, MethodMerged, v.Method)

		byIndex := map[int]float64{}
		for _, f := range v.Features {
			byIndex[f.Index] = f.Strength
		}
		assert.InDelta(t, 1.5, byIndex[1], 1e-12)
		assert.InDelta(t, 1.0, byIndex[2], 1e-12)
		assert.InDelta(t, -0.8, byIndex[3], 1e-12)
	})

	t.Run("order independent aside from model id", func(t *testing.T) {
		a := mk("gemma-2-2b",
			Feature{Source: source12, Index: 1, Strength: 0.9},
			Feature{Source: source12, Index: 2, Strength: -0.4},
		)
		b := mk("gemma-2-9b",
			Feature{Source: source12, Index: 2, Strength: 0.7},
		)

		ab := Merge(a, b, DefaultConfig())
		ba := Merge(b, a, DefaultConfig())
		if diff := cmp.Diff(ab.Features, ba.Features); diff != "" {
			t.Errorf("feature sets differ by merge order (-ab +ba):\n%s", diff)
		}
		assert.Equal(t, "gemma-2-2b", ab.ModelID)
		assert.Equal(t, "gemma-2-9b", ba.ModelID)
	})

	t.Run("model id falls back to b", func(t *testing.T) {
		a := mk("", Feature{Source: source12, Index: 1, Strength: 0.1})
		b := mk("gemma-2-9b")
		v := Merge(a, b, DefaultConfig())
		assert.Equal(t, "gemma-2-9b", v.ModelID)
	})

	t.Run("overlap clamped after summing", func(t *testing.T) {
		a := mk("gemma-2-2b", Feature{Source: source12, Index: 1, Strength: 1.5})
		b := mk("gemma-2-2b", Feature{Source: source12, Index: 1, Strength: 1.5})
		v := Merge(a, b, DefaultConfig())
		require.Len(t, v.Features, 1)
		assert.Equal(t, 2.0, v.Features[0].Strength)
	})

	t.Run("exact cancellation dropped", func(t *testing.T) {
		a := mk("gemma-2-2b", Feature{Source: source12, Index: 1, Strength: 0.5})
		b := mk("gemma-2-2b", Feature{Source: source12, Index: 1, Strength: -0.5})
		v := Merge(a, b, DefaultConfig())
		assert.Empty(t, v.Features)
	})

	t.Run("nil inputs", func(t *testing.T) {
		v := Merge(nil, nil, DefaultConfig())
		assert.Empty(t, v.Features)
		assert.Empty(t, v.ModelID)
	})
}

func TestIsEmptyAndMagnitude(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(&Vector{}))
	assert.Zero(t, Magnitude(nil))

	v := &Vector{Features: []Feature{
		{Source: source12, Index: 1, Strength: 0.5},
		{Source: source12, Index: 2, Strength: -1.25},
	}}
	assert.False(t, IsEmpty(v))
	assert.InDelta(t, 1.75, Magnitude(v), 1e-12)
}

func TestSortTieBreak(t *testing.T) {
	// Equal |strength| entries must order by (source, index) so truncation
	// is deterministic.
	feats := []Feature{
		{Source: "13-gemmascope-res-16k", Index: 5, Strength: 0.5},
		{Source: source12, Index: 9, Strength: -0.5},
		{Source: source12, Index: 2, Strength: 0.5},
	}
	sortFeatures(feats)

	want := []Feature{
		{Source: source12, Index: 2, Strength: 0.5},
		{Source: source12, Index: 9, Strength: -0.5},
		{Source: "13-gemmascope-res-16k", Index: 5, Strength: 0.5},
	}
	if diff := cmp.Diff(want, feats); diff != "" {
		t.Errorf("tie-break order mismatch (-want +got):\n%s", diff)
	}
}

func TestClampTotal(t *testing.T) {
	r := Range{Min: -2, Max: 2}
	inputs := []float64{-100, -2, -1.999, 0, 1.5, 2, 100, math.Inf(1), math.Inf(-1), math.NaN()}
	for _, x := range inputs {
		got := Clamp(x, r)
		if got < r.Min || got > r.Max {
			t.Errorf("Clamp(%v) = %v escapes [%v, %v]", x, got, r.Min, r.Max)
		}
	}
	if got := Clamp(1.5, r); got != 1.5 {
		t.Errorf("in-range value changed: %v", got)
	}
}
