// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conflict detects pairs of dials pulling shared features in
// opposite directions and scores how strongly they cancel.
//
// Unlike the steering computer, contributions here are tracked per
// (featureId, dialId) and never combined across dials, and feature ids are
// compared as raw strings without parsing. Detection is O(D²·F) over
// active dials and shared features, which is fine at catalog scale; an
// inverted feature-to-dial index would be the next step if catalogs grow
// by an order of magnitude.
package conflict

import (
	"math"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/horus/services/steering/dials"
)

var conflictsDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "steering_conflicts_detected_total",
	Help: "Dial conflicts detected by severity",
}, []string{"severity"})

// =============================================================================
// Severity
// =============================================================================

// Severity grades how strongly a dial pair cancels.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Cancellation-ratio thresholds. An average ratio above high means the
// opposing contributions are nearly equal in magnitude.
const (
	highThreshold   = 0.6
	mediumThreshold = 0.3
)

// Rank orders severities low < medium < high. Unknown values rank below
// low so they never pass a filter.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	default:
		return -1
	}
}

// severityFor maps an average cancellation ratio to a severity grade.
func severityFor(avgRatio float64) Severity {
	switch {
	case avgRatio > highThreshold:
		return SeverityHigh
	case avgRatio > mediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// =============================================================================
// Conflict Types
// =============================================================================

// FeatureConflict is one shared feature with opposite-signed contributions.
type FeatureConflict struct {
	// FeatureID is the raw trace feature id, uninterpreted.
	FeatureID string `json:"featureId"`

	// Contributions holds the two dials' value*weight contributions, in
	// the order of the conflict's (DialA, DialB) pair. Signs are opposite.
	Contributions [2]float64 `json:"contributions"`
}

// Conflict is a pair of dials with at least one opposing shared feature.
type Conflict struct {
	// DialA and DialB identify the pair, ordered lexicographically.
	DialA string `json:"dialA"`
	DialB string `json:"dialB"`

	// Features lists the opposing shared features, sorted by feature id.
	Features []FeatureConflict `json:"conflictingFeatures"`

	// Severity grades the pair by its average cancellation ratio.
	Severity Severity `json:"severity"`
}

// =============================================================================
// Detection
// =============================================================================

// contributions returns a dial's raw per-feature contributions. Duplicate
// trace entries for the same feature id accumulate.
func contributions(d dials.Dial) map[string]float64 {
	out := make(map[string]float64, len(d.Trace))
	for _, tf := range d.Trace {
		out[tf.FeatureID] += d.Value * tf.Weight
	}
	return out
}

// cancellationRatio is 2*min(|a|,|b|) / (|a|+|b|), in (0, 1]. It reaches 1
// when the opposing contributions match in magnitude. The denominator is
// guarded even though callers only pass opposite-signed values.
func cancellationRatio(a, b float64) float64 {
	absA, absB := math.Abs(a), math.Abs(b)
	total := absA + absB
	if total <= 0 {
		return 0
	}
	return 2 * math.Min(absA, absB) / total
}

// opposing reports whether two contributions have strictly opposite signs.
// Zero has no sign and never conflicts.
func opposing(a, b float64) bool {
	return (a > 0 && b < 0) || (a < 0 && b > 0)
}

// pairConflict compares two dials' contribution maps. Returns nil when no
// shared feature opposes.
func pairConflict(idA, idB string, contribA, contribB map[string]float64) *Conflict {
	var feats []FeatureConflict
	var ratioSum float64
	for featureID, a := range contribA {
		b, shared := contribB[featureID]
		if !shared || !opposing(a, b) {
			continue
		}
		feats = append(feats, FeatureConflict{
			FeatureID:     featureID,
			Contributions: [2]float64{a, b},
		})
		ratioSum += cancellationRatio(a, b)
	}
	if len(feats) == 0 {
		return nil
	}

	sort.Slice(feats, func(i, j int) bool { return feats[i].FeatureID < feats[j].FeatureID })
	severity := severityFor(ratioSum / float64(len(feats)))
	conflictsDetectedTotal.WithLabelValues(string(severity)).Inc()

	return &Conflict{
		DialA:    idA,
		DialB:    idB,
		Features: feats,
		Severity: severity,
	}
}

// Detect finds every conflicting dial pair in the mapping.
//
// Description:
//
//	Considers each unordered pair of distinct dials with non-zero values
//	exactly once, in lexicographic id order. A pair conflicts when it
//	shares at least one feature whose two contributions have opposite
//	signs. Severity is graded by the pair's average cancellation ratio.
//
// Inputs:
//
//	dialMap - Dial snapshot, typically Store.Snapshot(). Not mutated.
//
// Outputs:
//
//	[]Conflict - One entry per conflicting pair, ordered by (DialA, DialB).
func Detect(dialMap map[string]dials.Dial) []Conflict {
	ids := make([]string, 0, len(dialMap))
	for id, d := range dialMap {
		if d.Value == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	contribs := make(map[string]map[string]float64, len(ids))
	for _, id := range ids {
		contribs[id] = contributions(dialMap[id])
	}

	var out []Conflict
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if c := pairConflict(ids[i], ids[j], contribs[ids[i]], contribs[ids[j]]); c != nil {
				out = append(out, *c)
			}
		}
	}
	return out
}

// CheckPair tests a single dial pair.
//
// Returns nil when either dial has a zero value or no shared feature
// opposes. The result orders the pair lexicographically regardless of
// argument order.
func CheckPair(a, b dials.Dial) *Conflict {
	if a.Value == 0 || b.Value == 0 || a.ID == b.ID {
		return nil
	}
	if b.ID < a.ID {
		a, b = b, a
	}
	return pairConflict(a.ID, b.ID, contributions(a), contributions(b))
}

// AffectedFeatures sums value*weight per feature id across all dials,
// including same-signed and zero-valued contributions. Diagnostic only;
// the steering computer owns the real aggregation.
func AffectedFeatures(dialMap map[string]dials.Dial) map[string]float64 {
	out := make(map[string]float64)
	for _, d := range dialMap {
		for _, tf := range d.Trace {
			out[tf.FeatureID] += d.Value * tf.Weight
		}
	}
	return out
}

// FilterBySeverity keeps conflicts whose severity ranks at or above min.
func FilterBySeverity(conflicts []Conflict, min Severity) []Conflict {
	out := make([]Conflict, 0, len(conflicts))
	for _, c := range conflicts {
		if c.Severity.Rank() >= min.Rank() {
			out = append(out, c)
		}
	}
	return out
}
