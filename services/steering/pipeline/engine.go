// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline keeps derived steering outputs in sync with dial state.
//
// The engine subscribes to a dial store and recomputes the steering
// vector and conflict report after a quiet window, so a user dragging a
// dial produces one recompute instead of hundreds. Consumers read the
// latest derived outputs with Results and can force a synchronous pass
// with RecomputeNow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/horus/services/steering/conflict"
	"github.com/AleutianAI/horus/services/steering/dials"
	"github.com/AleutianAI/horus/services/steering/state"
	"github.com/AleutianAI/horus/services/steering/vector"
)

// DefaultQuietWindow is how long dial activity must pause before a
// recompute fires.
const DefaultQuietWindow = 50 * time.Millisecond

// ErrEngineClosed is returned by operations on a closed engine.
var ErrEngineClosed = errors.New("steering engine is closed")

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	recomputesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steering_recomputes_total",
		Help: "Total steering recomputes by result",
	}, []string{"result"})

	recomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "steering_recompute_duration_seconds",
		Help:    "Duration of steering vector and conflict recomputation",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	debounceResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steering_debounce_resets_total",
		Help: "Total times dial activity restarted the recompute quiet window",
	})

	activeConflicts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "steering_active_conflicts",
		Help: "Conflicts detected by the most recent recompute",
	})
)

var pipelineTracer = otel.Tracer("horus.steering.pipeline")

// =============================================================================
// Types
// =============================================================================

// Derived is a snapshot of the engine's computed outputs.
type Derived struct {
	// Vector is the current steering vector. Nil before the first
	// recompute and after ClearDerived.
	Vector *vector.Vector

	// Conflicts lists dial pairs pushing shared features in opposite
	// directions, ordered by (DialA, DialB).
	Conflicts []conflict.Conflict

	// Stale is true when dial or config changes have not yet been
	// folded into Vector and Conflicts.
	Stale bool

	// LastComputedAt is when Vector was last committed.
	LastComputedAt time.Time
}

// Engine debounces dial changes into steering recomputes.
//
// # Lifecycle
//
// New subscribes to the store and schedules an initial recompute. Close
// unsubscribes, cancels pending work, and waits for the worker to exit;
// the engine cannot be reused afterwards.
//
// # Thread Safety
//
// Safe for concurrent use. Recomputes run on a single worker goroutine;
// RecomputeNow runs on the caller's goroutine. A generation counter
// discards results that were in flight when the pipeline was cleared or
// closed, so derived outputs never move backwards.
type Engine struct {
	store       *dials.Store
	unsubscribe func()
	logger      *slog.Logger
	persistor   *state.Persistor
	quiet       time.Duration

	mu         sync.Mutex
	cfg        vector.Config
	timer      *time.Timer
	generation uint64
	closed     bool

	vec            *vector.Vector
	conflicts      []conflict.Conflict
	stale          bool
	lastComputedAt time.Time

	recompute chan uint64
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithQuietWindow sets the debounce window. Values <= 0 keep the default.
func WithQuietWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.quiet = d
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithPersistor enables state autosave: after every committed recompute
// the dial snapshot and config are written through the persistor.
// Storage failures stay best-effort and never affect the pipeline.
func WithPersistor(p *state.Persistor) Option {
	return func(e *Engine) { e.persistor = p }
}

// =============================================================================
// Lifecycle
// =============================================================================

// New creates an engine bound to a dial store.
//
// Description:
//
//	Validates the config, subscribes to the store's computational
//	events, starts the recompute worker, and schedules an initial
//	recompute so Results converges without any dial activity.
//
// Inputs:
//
//	store - The dial store to watch. Must not be nil.
//	cfg - Initial steering configuration.
//
// Outputs:
//
//	*Engine - The running engine. Caller must call Close() when done.
//	error - Non-nil if store is nil or cfg is invalid.
func New(store *dials.Store, cfg vector.Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("steering config: %w", err)
	}

	e := &Engine{
		store:     store,
		logger:    slog.Default(),
		quiet:     DefaultQuietWindow,
		cfg:       cfg,
		stale:     true,
		recompute: make(chan uint64, 1),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.run()

	e.unsubscribe = store.Subscribe(func(ev dials.Event) {
		if !ev.Kind.Computational() {
			return
		}
		e.markStale()
	})

	// Fold whatever is already in the store into a first result.
	e.markStale()

	return e, nil
}

// Close stops the engine. Pending debounces are cancelled and any
// in-flight recompute is discarded. Safe to call multiple times.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.generation++
		e.stopTimerLocked()
		e.mu.Unlock()

		e.unsubscribe()
		close(e.done)
		<-e.loopDone
	})
	return nil
}

// =============================================================================
// Scheduling
// =============================================================================

// markStale flags the derived outputs dirty and restarts the quiet window.
func (e *Engine) markStale() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.stale = true

	if e.timer != nil {
		e.timer.Stop()
		debounceResets.Inc()
	}
	gen := e.generation
	e.timer = time.AfterFunc(e.quiet, func() { e.quietWindowExpired(gen) })
}

// quietWindowExpired hands the recompute to the worker. Runs on a timer
// goroutine, so it only performs a non-blocking send.
func (e *Engine) quietWindowExpired(gen uint64) {
	select {
	case e.recompute <- gen:
	default:
		// A recompute is already queued; it will see the same dials.
	}
}

// stopTimerLocked cancels the pending quiet window, if any.
func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// run is the recompute worker.
func (e *Engine) run() {
	defer close(e.loopDone)
	for {
		select {
		case <-e.done:
			return
		case gen := <-e.recompute:
			e.computeGen(context.Background(), gen)
		}
	}
}

// =============================================================================
// Recomputation
// =============================================================================

// computeGen recomputes vector and conflicts for a generation, committing
// only if the generation is still current.
func (e *Engine) computeGen(ctx context.Context, gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.generation {
		e.mu.Unlock()
		return
	}
	cfg := e.cfg
	e.mu.Unlock()

	snapshot := e.store.Snapshot()

	ctx, span := pipelineTracer.Start(ctx, "steering.Recompute")
	defer span.End()

	start := time.Now()
	vec := vector.Compute(snapshot, cfg)
	conflicts := conflict.Detect(snapshot)
	elapsed := time.Since(start)

	e.mu.Lock()
	if e.closed || gen != e.generation {
		e.mu.Unlock()
		recomputesTotal.WithLabelValues("discarded").Inc()
		span.SetAttributes(attribute.Bool("discarded", true))
		return
	}
	e.vec = &vec
	e.conflicts = conflicts
	e.stale = false
	e.lastComputedAt = vec.ComputedAt
	e.mu.Unlock()

	recomputesTotal.WithLabelValues("ok").Inc()
	recomputeDuration.Observe(elapsed.Seconds())
	activeConflicts.Set(float64(len(conflicts)))
	span.SetAttributes(
		attribute.Int("dial_count", len(snapshot)),
		attribute.Int("feature_count", len(vec.Features)),
		attribute.Int("conflict_count", len(conflicts)),
	)

	e.logger.Debug("steering recomputed",
		slog.Int("features", len(vec.Features)),
		slog.Int("conflicts", len(conflicts)),
		slog.Duration("elapsed", elapsed))

	if e.persistor != nil {
		e.persistor.Save(ctx, snapshot, cfg)
	}
}

// RecomputeNow cancels any pending debounce and recomputes synchronously.
//
// Description:
//
//	Bumps the generation so an in-flight debounced recompute cannot
//	overwrite this result, then runs the full pass on the caller's
//	goroutine. Returns the fresh outputs.
//
// Outputs:
//
//	Derived - Outputs reflecting the store at call time.
//	error - ErrEngineClosed after Close.
func (e *Engine) RecomputeNow(ctx context.Context) (Derived, error) {
	if ctx == nil {
		return Derived{}, errors.New("RecomputeNow: ctx must not be nil")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Derived{}, ErrEngineClosed
	}
	e.stopTimerLocked()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	e.computeGen(ctx, gen)
	return e.Results(), nil
}

// SetConfig replaces the steering configuration.
//
// The new config is validated and, if accepted, marks derived outputs
// stale. No recompute is scheduled: the caller chooses between waiting
// for the next dial event and calling RecomputeNow.
func (e *Engine) SetConfig(cfg vector.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("steering config: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.cfg = cfg
	e.stale = true
	return nil
}

// Config returns the active steering configuration.
func (e *Engine) Config() vector.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// ClearDerived drops the derived outputs and cancels pending work.
//
// An in-flight recompute is invalidated by the generation bump, so a
// cleared engine stays cleared until the next dial event or an explicit
// RecomputeNow.
func (e *Engine) ClearDerived() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.generation++
	e.stopTimerLocked()
	e.vec = nil
	e.conflicts = nil
	e.stale = false
	e.lastComputedAt = time.Time{}
	activeConflicts.Set(0)
}

// Results returns a copy of the latest derived outputs.
func (e *Engine) Results() Derived {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := Derived{
		Stale:          e.stale,
		LastComputedAt: e.lastComputedAt,
	}
	if e.vec != nil {
		vecCopy := *e.vec
		vecCopy.Features = append([]vector.Feature(nil), e.vec.Features...)
		out.Vector = &vecCopy
	}
	if e.conflicts != nil {
		out.Conflicts = make([]conflict.Conflict, len(e.conflicts))
		for i, c := range e.conflicts {
			c.Features = append([]conflict.FeatureConflict(nil), c.Features...)
			out.Conflicts[i] = c
		}
	}
	return out
}
