// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dials owns the mapping of dial id to Dial plus group membership.
//
// A dial is a bounded control variable for one semantic axis, statically
// wired through its trace to weighted SAE features. The store in this
// package is the single source of truth for dial values; the steering
// computer and conflict detector consume read-only snapshots of it.
package dials

// =============================================================================
// Polarity
// =============================================================================

// Polarity determines the value range of a dial.
type Polarity string

const (
	// Bipolar dials range over [-1, 1] with a neutral center.
	Bipolar Polarity = "bipolar"

	// Unipolar dials range over [0, 1].
	Unipolar Polarity = "unipolar"
)

// Bounds returns the inclusive value range for this polarity.
//
// Unknown polarity values fall back to bipolar, the wider range.
func (p Polarity) Bounds() (min, max float64) {
	if p == Unipolar {
		return 0, 1
	}
	return -1, 1
}

// Clamp forces v into the polarity's range. NaN maps to the range minimum
// so that stored values are always ordered.
func (p Polarity) Clamp(v float64) float64 {
	min, max := p.Bounds()
	switch {
	case v < min:
		return min
	case v > max:
		return max
	case v == v:
		return v
	}
	return min
}

// Valid reports whether p is a recognized polarity.
func (p Polarity) Valid() bool {
	return p == Bipolar || p == Unipolar
}

// =============================================================================
// Dial and Group
// =============================================================================

// TraceFeature is one static weighted wiring from a dial to a feature.
type TraceFeature struct {
	// FeatureID is the feature node id ("modelId:layer:index").
	FeatureID string `json:"featureId" yaml:"featureId"`

	// Weight is the contribution factor in [0, 1].
	Weight float64 `json:"weight" yaml:"weight"`
}

// Dial is a bounded control variable wired to weighted features.
//
// Value always lies within the polarity's range; every write path clamps.
// Trace is immutable after creation. A locked dial rejects value edits but
// still contributes to steering computation at its frozen value.
type Dial struct {
	ID           string         `json:"id" yaml:"id"`
	Label        string         `json:"label" yaml:"label"`
	Value        float64        `json:"value" yaml:"value"`
	DefaultValue float64        `json:"defaultValue" yaml:"defaultValue"`
	Polarity     Polarity       `json:"polarity" yaml:"polarity"`
	Trace        []TraceFeature `json:"trace" yaml:"trace"`

	// Color is an optional display hint ("#rrggbb"). No computational effect.
	Color string `json:"color,omitempty" yaml:"color,omitempty"`

	Locked bool `json:"locked,omitempty" yaml:"locked,omitempty"`
}

// Clone returns a deep copy, including the trace slice.
func (d Dial) Clone() Dial {
	out := d
	if d.Trace != nil {
		out.Trace = make([]TraceFeature, len(d.Trace))
		copy(out.Trace, d.Trace)
	}
	return out
}

// Valid reports whether the dial satisfies its own invariants: non-empty
// id, recognized polarity, value and default inside the polarity range,
// and every trace weight in [0, 1].
func (d Dial) Valid() bool {
	if d.ID == "" || !d.Polarity.Valid() {
		return false
	}
	min, max := d.Polarity.Bounds()
	if d.Value < min || d.Value > max || d.DefaultValue < min || d.DefaultValue > max {
		return false
	}
	for _, tf := range d.Trace {
		if tf.FeatureID == "" || tf.Weight < 0 || tf.Weight > 1 {
			return false
		}
	}
	return true
}

// Group is a display partition of dials. It has no computational effect.
type Group struct {
	ID        string   `json:"id" yaml:"id"`
	Label     string   `json:"label" yaml:"label"`
	DialIDs   []string `json:"dialIds" yaml:"dialIds"`
	Collapsed bool     `json:"collapsed,omitempty" yaml:"collapsed,omitempty"`
}

// Clone returns a deep copy of the group.
func (g Group) Clone() Group {
	out := g
	if g.DialIDs != nil {
		out.DialIDs = make([]string, len(g.DialIDs))
		copy(out.DialIDs, g.DialIDs)
	}
	return out
}

// Catalog is a loadable set of dials and groups.
//
// Catalog content is produced by the catalog package (embedded starter set
// or an external override file); the store only consumes it.
type Catalog struct {
	Dials  []Dial
	Groups []Group
}
