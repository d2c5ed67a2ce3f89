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
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for config validation.
var (
	ErrInvalidMaxFeatures = errors.New("maxFeatures must be a positive integer")
	ErrInvalidMultiplier  = errors.New("strengthMultiplier must be finite")
	ErrInvalidClampRange  = errors.New("clampRange must be finite with min < max")
)

// Method tags how a steering vector was produced.
type Method string

const (
	// MethodDials marks a vector computed directly from dial traces.
	MethodDials Method = "dials"

	// MethodMerged marks a vector produced by merging two vectors.
	MethodMerged Method = "merged"
)

// Normalize maps unrecognized method tags to MethodDials.
func (m Method) Normalize() Method {
	if m == MethodMerged {
		return MethodMerged
	}
	return MethodDials
}

// Range is an inclusive [Min, Max] interval for strength clamping.
type Range struct {
	Min float64
	Max float64
}

// Valid reports whether the range is finite and ordered.
func (r Range) Valid() bool {
	return !math.IsNaN(r.Min) && !math.IsInf(r.Min, 0) &&
		!math.IsNaN(r.Max) && !math.IsInf(r.Max, 0) &&
		r.Min < r.Max
}

// Clamp forces x into the range. Total over all float64 inputs: NaN maps to
// Min so results are always orderable.
func Clamp(x float64, r Range) float64 {
	switch {
	case x < r.Min:
		return r.Min
	case x > r.Max:
		return r.Max
	case x == x:
		return x
	}
	return r.Min
}

// Config controls steering vector computation.
type Config struct {
	// Method tags how vectors are produced. Informational.
	Method Method

	// MaxFeatures bounds the number of features kept after sorting.
	MaxFeatures int

	// StrengthMultiplier scales every accumulated strength before clamping.
	StrengthMultiplier float64

	// ClampRange bounds final per-feature strengths.
	ClampRange Range
}

// Defaults mirrored by the per-field deserialization fallbacks.
const (
	DefaultMaxFeatures        = 20
	DefaultStrengthMultiplier = 1.0
)

// DefaultClampRange returns the default [-2, 2] strength bound.
func DefaultClampRange() Range {
	return Range{Min: -2, Max: 2}
}

// DefaultConfig returns the standard steering configuration.
func DefaultConfig() Config {
	return Config{
		Method:             MethodDials,
		MaxFeatures:        DefaultMaxFeatures,
		StrengthMultiplier: DefaultStrengthMultiplier,
		ClampRange:         DefaultClampRange(),
	}
}

// Validate checks the config invariants.
//
// Outputs:
//
//	error - One of the sentinel errors above, wrapped with the offending
//	        value; nil when the config is usable.
func (c Config) Validate() error {
	if c.MaxFeatures <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxFeatures, c.MaxFeatures)
	}
	if math.IsNaN(c.StrengthMultiplier) || math.IsInf(c.StrengthMultiplier, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidMultiplier, c.StrengthMultiplier)
	}
	if !c.ClampRange.Valid() {
		return fmt.Errorf("%w: got [%v, %v]", ErrInvalidClampRange, c.ClampRange.Min, c.ClampRange.Max)
	}
	return nil
}
