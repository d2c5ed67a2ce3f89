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
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/horus/services/steering/dials"
	"github.com/AleutianAI/horus/services/steering/vector"
)

// StateKey is the key steering state is stored under. The version suffix
// moves with StateVersion so a format bump abandons old payloads instead
// of tripping over them.
const StateKey = "horus.steering.state.v1"

var statePersistOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "steering_state_persist_ops_total",
	Help: "Total state persistence operations by op and result",
}, []string{"op", "result"})

// KV is the key-value contract the persistor needs. The badgerstore
// package provides the production implementation.
type KV interface {
	// Get returns the value for key. found is false when the key does
	// not exist; err is reserved for storage failures.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Persistor saves and restores steering state through a KV store.
//
// Persistence is strictly best-effort: dial state is reconstructible by
// the user, so storage failures log a warning and the session continues
// with whatever state is in memory. None of the methods return errors.
type Persistor struct {
	kv     KV
	logger *slog.Logger
}

// PersistorOption configures a Persistor.
type PersistorOption func(*Persistor)

// WithLogger sets the logger used for swallowed storage failures.
func WithLogger(logger *slog.Logger) PersistorOption {
	return func(p *Persistor) { p.logger = logger }
}

// NewPersistor creates a persistor over the given store.
func NewPersistor(kv KV, opts ...PersistorOption) *Persistor {
	p := &Persistor{
		kv:     kv,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Save serializes the snapshot and config and writes it to storage.
func (p *Persistor) Save(ctx context.Context, snapshot map[string]dials.Dial, cfg vector.Config) {
	data, err := Encode(Serialize(snapshot, cfg))
	if err != nil {
		statePersistOps.WithLabelValues("save", "error").Inc()
		p.logger.Warn("steering state not saved", slog.String("error", err.Error()))
		return
	}

	if err := p.kv.Set(ctx, StateKey, data); err != nil {
		statePersistOps.WithLabelValues("save", "error").Inc()
		p.logger.Warn("steering state not saved",
			slog.String("key", StateKey),
			slog.String("error", err.Error()))
		return
	}
	statePersistOps.WithLabelValues("save", "ok").Inc()
}

// Load reads and decodes the saved state.
//
// Outputs:
//
//	State - The decoded state. Zero when ok is false.
//	bool - False when nothing usable is stored: no saved state, a
//	       storage failure, or a payload that no longer decodes.
func (p *Persistor) Load(ctx context.Context) (State, bool) {
	data, found, err := p.kv.Get(ctx, StateKey)
	if err != nil {
		statePersistOps.WithLabelValues("load", "error").Inc()
		p.logger.Warn("steering state not loaded",
			slog.String("key", StateKey),
			slog.String("error", err.Error()))
		return State{}, false
	}
	if !found {
		statePersistOps.WithLabelValues("load", "miss").Inc()
		p.logger.Debug("no saved steering state", slog.String("key", StateKey))
		return State{}, false
	}

	s, err := Decode(data)
	if err != nil {
		statePersistOps.WithLabelValues("load", "corrupt").Inc()
		p.logger.Warn("saved steering state unreadable, starting fresh",
			slog.String("key", StateKey),
			slog.String("error", err.Error()))
		return State{}, false
	}

	statePersistOps.WithLabelValues("load", "ok").Inc()
	return s, true
}

// Clear removes the saved state.
func (p *Persistor) Clear(ctx context.Context) {
	if err := p.kv.Remove(ctx, StateKey); err != nil {
		statePersistOps.WithLabelValues("clear", "error").Inc()
		p.logger.Warn("steering state not cleared",
			slog.String("key", StateKey),
			slog.String("error", err.Error()))
		return
	}
	statePersistOps.WithLabelValues("clear", "ok").Inc()
}
