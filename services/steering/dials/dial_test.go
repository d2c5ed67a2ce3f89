// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dials

import (
	"math"
	"testing"
)

func TestPolarityClamp(t *testing.T) {
	tests := []struct {
		name     string
		polarity Polarity
		in       float64
		want     float64
	}{
		{"bipolar in range", Bipolar, 0.5, 0.5},
		{"bipolar below", Bipolar, -2, -1},
		{"bipolar above", Bipolar, 2, 1},
		{"bipolar min passes", Bipolar, -1, -1},
		{"unipolar in range", Unipolar, 0.3, 0.3},
		{"unipolar below", Unipolar, -0.1, 0},
		{"unipolar above", Unipolar, 1.5, 1},
		{"unknown treated as bipolar", Polarity("weird"), -1.5, -1},
		{"nan maps to minimum", Bipolar, math.NaN(), -1},
		{"unipolar nan maps to zero", Unipolar, math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.polarity.Clamp(tt.in); got != tt.want {
				t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPolarityValid(t *testing.T) {
	if !Bipolar.Valid() || !Unipolar.Valid() {
		t.Error("canonical polarities must be valid")
	}
	if Polarity("sideways").Valid() {
		t.Error("unknown polarity must be invalid")
	}
}

func TestDialValid(t *testing.T) {
	base := Dial{
		ID:       "formal",
		Polarity: Bipolar,
		Value:    0.5,
		Trace:    []TraceFeature{{FeatureID: "gemma-2-2b:12:1", Weight: 0.4}},
	}

	tests := []struct {
		name   string
		mutate func(*Dial)
		want   bool
	}{
		{"well formed", func(*Dial) {}, true},
		{"empty id", func(d *Dial) { d.ID = "" }, false},
		{"unknown polarity", func(d *Dial) { d.Polarity = "sideways" }, false},
		{"value out of range", func(d *Dial) { d.Value = 1.5 }, false},
		{"default out of range", func(d *Dial) { d.DefaultValue = -2 }, false},
		{"unipolar rejects negative value", func(d *Dial) { d.Polarity = Unipolar; d.Value = -0.5 }, false},
		{"empty trace feature id", func(d *Dial) { d.Trace[0].FeatureID = "" }, false},
		{"trace weight above one", func(d *Dial) { d.Trace[0].Weight = 1.1 }, false},
		{"trace weight negative", func(d *Dial) { d.Trace[0].Weight = -0.1 }, false},
		{"no trace is still valid", func(d *Dial) { d.Trace = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base.Clone()
			tt.mutate(&d)
			if got := d.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDialClone(t *testing.T) {
	d := Dial{
		ID:    "formal",
		Trace: []TraceFeature{{FeatureID: "gemma-2-2b:12:1", Weight: 0.4}},
	}
	c := d.Clone()
	c.Trace[0].Weight = 0.9
	if d.Trace[0].Weight != 0.4 {
		t.Errorf("clone shares trace backing array")
	}
}
