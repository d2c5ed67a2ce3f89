// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/horus/services/steering/dials"
	"github.com/AleutianAI/horus/services/steering/vector"
)

func mkDial(id string, value, def float64) dials.Dial {
	return dials.Dial{
		ID:           id,
		Label:        id,
		Value:        value,
		DefaultValue: def,
		Polarity:     dials.Bipolar,
		Trace:        []dials.TraceFeature{{FeatureID: "gemma-2-2b:12:1", Weight: 0.5}},
	}
}

func TestSerializeSparseAndSorted(t *testing.T) {
	snapshot := map[string]dials.Dial{
		"zeta":    mkDial("zeta", 0.5, 0),
		"alpha":   mkDial("alpha", -0.25, 0),
		"resting": mkDial("resting", 0.1, 0.1),
	}

	s := Serialize(snapshot, vector.DefaultConfig())

	assert.Equal(t, StateVersion, s.Version)
	require.Len(t, s.Dials, 2, "dials at their default are not stored")
	assert.Equal(t, "alpha", s.Dials[0].ID)
	assert.Equal(t, "zeta", s.Dials[1].ID)
	assert.Equal(t, "dials", s.Config.Method)
	assert.Equal(t, 20, s.Config.MaxFeatures)
	assert.Equal(t, [2]float64{-2, 2}, s.Config.ClampRange)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cfg := vector.Config{
		Method:             vector.MethodDials,
		MaxFeatures:        7,
		StrengthMultiplier: 1.5,
		ClampRange:         vector.Range{Min: -1, Max: 1},
	}
	snapshot := map[string]dials.Dial{
		"formality": mkDial("formality", 0.8, 0),
	}

	original := Serialize(snapshot, cfg)
	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
	assert.Equal(t, cfg, decoded.VectorConfig())
}

func TestDecodeVersionErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"future version", `{"version": 2, "dials": [], "config": {}}`},
		{"zero version", `{"version": 0, "dials": [], "config": {}}`},
		{"missing version", `{"dials": [], "config": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidVersion)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, CodeInvalidVersion, de.Code)
		})
	}
}

func TestDecodeStructureErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ``},
		{"not json", `steering`},
		{"missing dials", `{"version": 1, "config": {}}`},
		{"dials not a list", `{"version": 1, "dials": {"a": 1}, "config": {}}`},
		{"dial value not a number", `{"version": 1, "dials": [{"id": "a", "value": "loud"}], "config": {}}`},
		{"oversized", `{"version": 1, "dials": [` + strings.Repeat(`{"id":"a","value":1},`, 20000) + `{"id":"z","value":1}], "config": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidStructure)
			assert.NotErrorIs(t, err, ErrInvalidVersion)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, CodeInvalidStructure, de.Code)
		})
	}
}

func TestDecodeConfigFallbacks(t *testing.T) {
	def := vector.DefaultConfig()

	tests := []struct {
		name   string
		config string
		check  func(t *testing.T, c ConfigState)
	}{
		{
			name:   "missing config entirely",
			config: ``,
			check: func(t *testing.T, c ConfigState) {
				assert.Equal(t, string(def.Method), c.Method)
				assert.Equal(t, def.MaxFeatures, c.MaxFeatures)
			},
		},
		{
			name:   "config not an object",
			config: `, "config": [1, 2]`,
			check: func(t *testing.T, c ConfigState) {
				assert.Equal(t, def.MaxFeatures, c.MaxFeatures)
			},
		},
		{
			name:   "unknown method normalizes",
			config: `, "config": {"method": "psychic"}`,
			check: func(t *testing.T, c ConfigState) {
				assert.Equal(t, "dials", c.Method)
			},
		},
		{
			name:   "zero maxFeatures falls back",
			config: `, "config": {"maxFeatures": 0, "strengthMultiplier": 2.5}`,
			check: func(t *testing.T, c ConfigState) {
				assert.Equal(t, def.MaxFeatures, c.MaxFeatures)
				assert.Equal(t, 2.5, c.StrengthMultiplier, "valid sibling fields survive")
			},
		},
		{
			name:   "huge maxFeatures capped",
			config: `, "config": {"maxFeatures": 5000}`,
			check: func(t *testing.T, c ConfigState) {
				assert.Equal(t, MaxFeaturesCap, c.MaxFeatures)
			},
		},
		{
			name:   "string multiplier falls back",
			config: `, "config": {"strengthMultiplier": "strong"}`,
			check: func(t *testing.T, c ConfigState) {
				assert.Equal(t, def.StrengthMultiplier, c.StrengthMultiplier)
			},
		},
		{
			name:   "inverted clamp range falls back",
			config: `, "config": {"clampRange": [2, -2]}`,
			check: func(t *testing.T, c ConfigState) {
				assert.Equal(t, [2]float64{def.ClampRange.Min, def.ClampRange.Max}, c.ClampRange)
			},
		},
		{
			name:   "three element clamp range falls back",
			config: `, "config": {"clampRange": [-1, 0, 1]}`,
			check: func(t *testing.T, c ConfigState) {
				assert.Equal(t, [2]float64{def.ClampRange.Min, def.ClampRange.Max}, c.ClampRange)
			},
		},
		{
			name:   "valid custom config kept",
			config: `, "config": {"method": "dials", "maxFeatures": 5, "strengthMultiplier": 0.5, "clampRange": [-1, 1]}`,
			check: func(t *testing.T, c ConfigState) {
				assert.Equal(t, 5, c.MaxFeatures)
				assert.Equal(t, 0.5, c.StrengthMultiplier)
				assert.Equal(t, [2]float64{-1, 1}, c.ClampRange)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{"version": 1, "dials": []` + tt.config + `}`
			s, err := Decode([]byte(payload))
			require.NoError(t, err, "config problems must not fail the decode")
			tt.check(t, s.Config)
		})
	}
}

func TestCompactRoundTripAndCharset(t *testing.T) {
	snapshot := map[string]dials.Dial{
		"formality": mkDial("formality", 0.8, 0),
		"humor":     mkDial("humor", 0.3, 0),
	}
	original := Serialize(snapshot, vector.DefaultConfig())

	encoded, err := EncodeCompact(original)
	require.NoError(t, err)
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")
	assert.NotContains(t, encoded, "=")

	decoded, err := DecodeCompact(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeCompactRejectsGarbage(t *testing.T) {
	_, err := DecodeCompact("!!not base64!!")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStructure)
}

func TestApply(t *testing.T) {
	locked := mkDial("frozen", 0.5, 0)
	locked.Locked = true
	current := map[string]dials.Dial{
		"formality": mkDial("formality", 0, 0),
		"humor":     mkDial("humor", 0.9, 0.2),
		"frozen":    locked,
	}

	s := State{
		Version: StateVersion,
		Dials: []DialState{
			{ID: "formality", Value: 5.0},
			{ID: "frozen", Value: -0.3},
			{ID: "departed", Value: 0.5},
		},
	}

	next := Apply(current, s)
	require.Len(t, next, 3)
	assert.NotContains(t, next, "departed", "unknown ids are ignored")
	assert.Equal(t, 1.0, next["formality"].Value, "restored values clamp to the dial's range")
	assert.Equal(t, 0.2, next["humor"].Value, "dials absent from the payload return to default")
	assert.Equal(t, -0.3, next["frozen"].Value, "locks gate edits, not restoration")

	assert.Equal(t, 0.9, current["humor"].Value, "input mapping must not be mutated")
	assert.Equal(t, 0.5, current["frozen"].Value)
}

func TestApplyRoundTrip(t *testing.T) {
	current := map[string]dials.Dial{
		"formality": mkDial("formality", 0.8, 0),
		"humor":     mkDial("humor", 0.2, 0.2),
		"caution":   mkDial("caution", -0.4, 0),
	}

	data, err := Encode(Serialize(current, vector.DefaultConfig()))
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	next := Apply(current, decoded)
	for id, d := range current {
		assert.Equal(t, d.Value, next[id].Value, "dial %s", id)
	}
}
