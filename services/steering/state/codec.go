// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state serializes dial positions and steering configuration for
// persistence and sharing.
//
// The wire format is versioned JSON. Only dials away from their defaults
// are stored, so a fresh session round-trips to a handful of bytes. The
// compact form wraps the same JSON in unpadded base64url for embedding
// in URLs.
//
// Decoding is strict about shape and version but lenient about config
// values: a recognizable payload with a garbled config field falls back
// to the default for that field rather than failing the whole restore.
package state

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/horus/services/steering/dials"
	"github.com/AleutianAI/horus/services/steering/vector"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// StateVersion is the wire format version this package reads and writes.
	StateVersion = 1

	// MaxFeaturesCap bounds maxFeatures accepted from a payload. Larger
	// values are clamped down so a shared link cannot inflate compute cost.
	MaxFeaturesCap = 100

	// MaxPayloadBytes bounds the payload size accepted by Decode.
	MaxPayloadBytes = 256 * 1024
)

// =============================================================================
// Errors
// =============================================================================

// Sentinel errors for decode failures. Matched with errors.Is.
var (
	ErrInvalidVersion   = errors.New("unsupported state version")
	ErrInvalidStructure = errors.New("malformed state payload")
)

// ErrorCode classifies a decode failure.
type ErrorCode string

const (
	// CodeInvalidVersion means the payload's version field is missing or
	// not a version this package reads.
	CodeInvalidVersion ErrorCode = "INVALID_VERSION"

	// CodeInvalidStructure means the payload is not the expected shape.
	CodeInvalidStructure ErrorCode = "INVALID_STRUCTURE"
)

// DecodeError reports why a payload could not be decoded.
type DecodeError struct {
	Code    ErrorCode
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap maps the code onto the matching sentinel so callers can use
// errors.Is without inspecting codes.
func (e *DecodeError) Unwrap() error {
	switch e.Code {
	case CodeInvalidVersion:
		return ErrInvalidVersion
	case CodeInvalidStructure:
		return ErrInvalidStructure
	}
	return nil
}

func decodeErrorf(code ErrorCode, format string, args ...any) *DecodeError {
	stateDecodeErrors.WithLabelValues(string(code)).Inc()
	return &DecodeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	stateDecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steering_state_decode_errors_total",
		Help: "Total state decode failures by error code",
	}, []string{"code"})

	configFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steering_state_config_fallbacks_total",
		Help: "Total config fields replaced by defaults during decode",
	}, []string{"field"})
)

// =============================================================================
// Wire Types
// =============================================================================

// DialState is one saved dial position.
type DialState struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

// ConfigState is the saved steering configuration.
type ConfigState struct {
	Method             string     `json:"method"`
	MaxFeatures        int        `json:"maxFeatures"`
	StrengthMultiplier float64    `json:"strengthMultiplier"`
	ClampRange         [2]float64 `json:"clampRange"`
}

// State is the full serialized steering state.
type State struct {
	Version int         `json:"version"`
	Dials   []DialState `json:"dials"`
	Config  ConfigState `json:"config"`
}

// VectorConfig converts the saved configuration back to a runtime config.
// Decode already resolved fallbacks, so this is a plain type mapping.
func (s State) VectorConfig() vector.Config {
	return vector.Config{
		Method:             vector.Method(s.Config.Method).Normalize(),
		MaxFeatures:        s.Config.MaxFeatures,
		StrengthMultiplier: s.Config.StrengthMultiplier,
		ClampRange:         vector.Range{Min: s.Config.ClampRange[0], Max: s.Config.ClampRange[1]},
	}
}

// =============================================================================
// Serialization
// =============================================================================

// Serialize captures dial positions and config as a versioned state.
//
// Description:
//
//	Sparse by design: only dials whose value differs from their default
//	are recorded. Dials are sorted by id so equal states serialize to
//	identical bytes.
//
// Inputs:
//
//	snapshot - Dial snapshot, typically from Store.Snapshot().
//	cfg - The active steering configuration.
func Serialize(snapshot map[string]dials.Dial, cfg vector.Config) State {
	saved := make([]DialState, 0, len(snapshot))
	for id, d := range snapshot {
		if d.Value == d.DefaultValue {
			continue
		}
		saved = append(saved, DialState{ID: id, Value: d.Value})
	}
	sort.Slice(saved, func(i, j int) bool { return saved[i].ID < saved[j].ID })

	return State{
		Version: StateVersion,
		Dials:   saved,
		Config: ConfigState{
			Method:             string(cfg.Method.Normalize()),
			MaxFeatures:        cfg.MaxFeatures,
			StrengthMultiplier: cfg.StrengthMultiplier,
			ClampRange:         [2]float64{cfg.ClampRange.Min, cfg.ClampRange.Max},
		},
	}
}

// Encode renders a state as JSON.
func Encode(s State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return data, nil
}

// EncodeCompact renders a state as unpadded base64url JSON, safe to embed
// in a URL query parameter.
func EncodeCompact(s State) (string, error) {
	data, err := Encode(s)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// =============================================================================
// Deserialization
// =============================================================================

// stateWire separates structural decoding from config decoding. Config
// stays raw so a garbled config degrades per field instead of failing
// the payload.
type stateWire struct {
	Version *int            `json:"version"`
	Dials   []DialState     `json:"dials"`
	Config  json.RawMessage `json:"config"`
}

// Decode parses a JSON state payload.
//
// Description:
//
//	Version and shape are hard requirements: a wrong version or a dials
//	list that is missing or mistyped yields a *DecodeError matchable
//	against ErrInvalidVersion or ErrInvalidStructure. Config fields are
//	soft: each invalid field independently falls back to its default.
//
// Outputs:
//
//	State - Decoded state with config fallbacks already applied.
//	error - A *DecodeError, or nil.
func Decode(data []byte) (State, error) {
	if len(data) == 0 {
		return State{}, decodeErrorf(CodeInvalidStructure, "empty payload")
	}
	if len(data) > MaxPayloadBytes {
		return State{}, decodeErrorf(CodeInvalidStructure, "payload too large: %d bytes (max %d)", len(data), MaxPayloadBytes)
	}

	var wire stateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return State{}, decodeErrorf(CodeInvalidStructure, "parsing JSON: %v", err)
	}
	if wire.Version == nil {
		return State{}, decodeErrorf(CodeInvalidVersion, "missing version field")
	}
	if *wire.Version != StateVersion {
		return State{}, decodeErrorf(CodeInvalidVersion, "got version %d, want %d", *wire.Version, StateVersion)
	}
	if wire.Dials == nil {
		return State{}, decodeErrorf(CodeInvalidStructure, "missing dials list")
	}

	return State{
		Version: *wire.Version,
		Dials:   wire.Dials,
		Config:  decodeConfig(wire.Config),
	}, nil
}

// DecodeCompact parses an unpadded base64url state payload.
func DecodeCompact(encoded string) (State, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return State{}, decodeErrorf(CodeInvalidStructure, "decoding base64url: %v", err)
	}
	return Decode(data)
}

// decodeConfig resolves a raw config object field by field, substituting
// defaults for anything missing or invalid.
func decodeConfig(raw json.RawMessage) ConfigState {
	def := vector.DefaultConfig()
	out := ConfigState{
		Method:             string(def.Method),
		MaxFeatures:        def.MaxFeatures,
		StrengthMultiplier: def.StrengthMultiplier,
		ClampRange:         [2]float64{def.ClampRange.Min, def.ClampRange.Max},
	}
	if len(raw) == 0 {
		configFallbacksTotal.WithLabelValues("all").Inc()
		return out
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		configFallbacksTotal.WithLabelValues("all").Inc()
		return out
	}

	if raw, ok := fields["method"]; ok {
		var m string
		if err := json.Unmarshal(raw, &m); err == nil {
			out.Method = string(vector.Method(m).Normalize())
		} else {
			configFallbacksTotal.WithLabelValues("method").Inc()
		}
	}

	if raw, ok := fields["maxFeatures"]; ok {
		var v float64
		if err := json.Unmarshal(raw, &v); err == nil && v >= 1 {
			n := int(v)
			if n > MaxFeaturesCap {
				n = MaxFeaturesCap
			}
			out.MaxFeatures = n
		} else {
			configFallbacksTotal.WithLabelValues("maxFeatures").Inc()
		}
	}

	if raw, ok := fields["strengthMultiplier"]; ok {
		var v float64
		if err := json.Unmarshal(raw, &v); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			out.StrengthMultiplier = v
		} else {
			configFallbacksTotal.WithLabelValues("strengthMultiplier").Inc()
		}
	}

	if raw, ok := fields["clampRange"]; ok {
		var v []float64
		if err := json.Unmarshal(raw, &v); err == nil && len(v) == 2 &&
			(vector.Range{Min: v[0], Max: v[1]}).Valid() {
			out.ClampRange = [2]float64{v[0], v[1]}
		} else {
			configFallbacksTotal.WithLabelValues("clampRange").Inc()
		}
	}

	return out
}

// =============================================================================
// Application
// =============================================================================

// Apply restores a decoded state onto a dial mapping.
//
// Description:
//
//	Returns a new mapping: every dial first reset to its default, then
//	saved values applied in payload order with polarity clamping. Ids
//	that no longer exist in the mapping are ignored, so stale payloads
//	degrade instead of erroring. Locks gate user edits, not restoration,
//	so locked dials restore like any other. The input mapping is never
//	mutated.
//
// Inputs:
//
//	current - Dial snapshot, typically from Store.Snapshot().
//	s - Decoded state to restore.
//
// Outputs:
//
//	map[string]dials.Dial - The restored mapping.
func Apply(current map[string]dials.Dial, s State) map[string]dials.Dial {
	next := make(map[string]dials.Dial, len(current))
	for id, d := range current {
		d = d.Clone()
		d.Value = d.DefaultValue
		next[id] = d
	}

	for _, ds := range s.Dials {
		d, ok := next[ds.ID]
		if !ok {
			continue
		}
		d.Value = d.Polarity.Clamp(ds.Value)
		next[ds.ID] = d
	}
	return next
}
