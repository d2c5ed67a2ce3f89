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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sentinel errors for store operations.
var (
	ErrEmptyDialID    = errors.New("dial id must not be empty")
	ErrDuplicateDial  = errors.New("dial already exists")
	ErrEmptyGroupID   = errors.New("group id must not be empty")
	ErrDuplicateGroup = errors.New("group already exists")

	// ErrNoCatalogSource indicates LoadDefaultCatalog was called on a store
	// constructed without WithCatalogSource.
	ErrNoCatalogSource = errors.New("no catalog source configured")
)

// Prometheus metrics for dial store activity.
var (
	dialMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steering_dial_mutations_total",
		Help: "Total dial store mutations by kind",
	}, []string{"kind"})

	dialCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "steering_dials",
		Help: "Number of dials currently in the store",
	})
)

// CatalogSource supplies the starter catalog.
//
// Implemented by the catalog package's registry. Injected through an option
// so this package performs no file I/O of its own.
type CatalogSource interface {
	Catalog(ctx context.Context) (Catalog, error)
}

// Store holds the dial mapping and group membership.
//
// # Thread Safety
//
// Safe for concurrent use. Mutations emit one Event each; subscribers run
// synchronously on the mutating goroutine after the lock is released and
// must not block.
type Store struct {
	mu      sync.RWMutex
	dials   map[string]Dial
	groups  map[string]Group
	subs    map[int]SubscribeFunc
	nextSub int
	seq     uint64

	source CatalogSource
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for store events. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCatalogSource wires the starter-catalog provider used by
// LoadDefaultCatalog.
func WithCatalogSource(src CatalogSource) Option {
	return func(s *Store) {
		s.source = src
	}
}

// NewStore creates an empty dial store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		dials:  make(map[string]Dial),
		groups: make(map[string]Group),
		subs:   make(map[int]SubscribeFunc),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a mutation handler and returns its unsubscribe
// function. Handlers registered during dispatch do not receive the event
// being dispatched.
func (s *Store) Subscribe(fn SubscribeFunc) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// eventLocked stamps the next event and snapshots the subscriber list.
// Callers must hold the write lock and dispatch after releasing it.
func (s *Store) eventLocked(kind EventKind, dialID string) (Event, []SubscribeFunc) {
	s.seq++
	ev := Event{
		ID:     uuid.NewString(),
		Seq:    s.seq,
		Kind:   kind,
		DialID: dialID,
		Time:   time.Now(),
	}
	subs := make([]SubscribeFunc, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	dialMutationsTotal.WithLabelValues(kind.String()).Inc()
	return ev, subs
}

func dispatch(subs []SubscribeFunc, ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

// =============================================================================
// Value Mutations
// =============================================================================

// SetValue clamps v to the dial's polarity range and stores it.
//
// Absent or locked dials are a silent no-op. An unlocked existing dial
// always emits an event, even when the clamped value equals the current
// one; the recompute pipeline's debounce absorbs the redundancy.
func (s *Store) SetValue(id string, v float64) {
	s.mu.Lock()
	d, ok := s.dials[id]
	if !ok || d.Locked {
		s.mu.Unlock()
		return
	}
	d.Value = d.Polarity.Clamp(v)
	s.dials[id] = d
	ev, subs := s.eventLocked(EventValueChanged, id)
	s.mu.Unlock()
	dispatch(subs, ev)
}

// Reset returns a dial to its default value. Absent or locked dials are a
// silent no-op.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	d, ok := s.dials[id]
	if !ok || d.Locked {
		s.mu.Unlock()
		return
	}
	d.Value = d.DefaultValue
	s.dials[id] = d
	ev, subs := s.eventLocked(EventDialReset, id)
	s.mu.Unlock()
	dispatch(subs, ev)
}

// ResetAll returns every unlocked dial to its default value and emits a
// single reset event with an empty DialID.
func (s *Store) ResetAll() {
	s.mu.Lock()
	for id, d := range s.dials {
		if d.Locked {
			continue
		}
		d.Value = d.DefaultValue
		s.dials[id] = d
	}
	ev, subs := s.eventLocked(EventDialReset, "")
	s.mu.Unlock()
	dispatch(subs, ev)
}

// SetLocked flips a dial's locked flag. Locking freezes the value against
// edits; the dial keeps contributing to computation. No-op when the dial is
// absent or the flag already matches.
func (s *Store) SetLocked(id string, locked bool) {
	s.mu.Lock()
	d, ok := s.dials[id]
	if !ok || d.Locked == locked {
		s.mu.Unlock()
		return
	}
	d.Locked = locked
	s.dials[id] = d
	ev, subs := s.eventLocked(EventLockChanged, id)
	s.mu.Unlock()
	dispatch(subs, ev)
}

// =============================================================================
// Structural Mutations
// =============================================================================

// AddDial inserts a new dial, clamping its value and default into the
// polarity range.
//
// Outputs:
//
//	error - ErrEmptyDialID or ErrDuplicateDial; nil on success.
func (s *Store) AddDial(d Dial) error {
	if d.ID == "" {
		return ErrEmptyDialID
	}

	s.mu.Lock()
	if _, exists := s.dials[d.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateDial, d.ID)
	}
	d = d.Clone()
	d.DefaultValue = d.Polarity.Clamp(d.DefaultValue)
	d.Value = d.Polarity.Clamp(d.Value)
	s.dials[d.ID] = d
	dialCount.Set(float64(len(s.dials)))
	ev, subs := s.eventLocked(EventDialAdded, d.ID)
	s.mu.Unlock()
	dispatch(subs, ev)
	return nil
}

// RemoveDial deletes a dial and strips its id from every group. Silent
// no-op when absent.
func (s *Store) RemoveDial(id string) {
	s.mu.Lock()
	if _, ok := s.dials[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.dials, id)

	for gid, g := range s.groups {
		changed := false
		kept := make([]string, 0, len(g.DialIDs))
		for _, did := range g.DialIDs {
			if did == id {
				changed = true
				continue
			}
			kept = append(kept, did)
		}
		if changed {
			g.DialIDs = kept
			s.groups[gid] = g
		}
	}

	dialCount.Set(float64(len(s.dials)))
	ev, subs := s.eventLocked(EventDialRemoved, id)
	s.mu.Unlock()
	dispatch(subs, ev)
}

// AddGroup inserts a display group.
//
// Dial ids listed by the group are not required to exist yet; membership is
// resolved at read time.
func (s *Store) AddGroup(g Group) error {
	if g.ID == "" {
		return ErrEmptyGroupID
	}

	s.mu.Lock()
	if _, exists := s.groups[g.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateGroup, g.ID)
	}
	s.groups[g.ID] = g.Clone()
	ev, subs := s.eventLocked(EventGroupChanged, "")
	s.mu.Unlock()
	dispatch(subs, ev)
	return nil
}

// RemoveGroup deletes a group. The member dials themselves are untouched.
// Silent no-op when absent.
func (s *Store) RemoveGroup(id string) {
	s.mu.Lock()
	if _, ok := s.groups[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.groups, id)
	ev, subs := s.eventLocked(EventGroupChanged, "")
	s.mu.Unlock()
	dispatch(subs, ev)
}

// ToggleGroupCollapsed flips a group's collapsed flag. Silent no-op when
// absent.
func (s *Store) ToggleGroupCollapsed(id string) {
	s.mu.Lock()
	g, ok := s.groups[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	g.Collapsed = !g.Collapsed
	s.groups[id] = g
	ev, subs := s.eventLocked(EventGroupChanged, "")
	s.mu.Unlock()
	dispatch(subs, ev)
}

// =============================================================================
// Catalog Loading
// =============================================================================

// LoadCatalog wholesale-replaces the dial and group sets.
//
// Entries with empty ids are dropped; on duplicate ids the last entry wins.
// Values and defaults are clamped into the polarity range. Emits a single
// catalog-loaded event.
func (s *Store) LoadCatalog(cat Catalog) {
	s.mu.Lock()
	s.dials = make(map[string]Dial, len(cat.Dials))
	for _, d := range cat.Dials {
		if d.ID == "" {
			continue
		}
		d = d.Clone()
		d.DefaultValue = d.Polarity.Clamp(d.DefaultValue)
		d.Value = d.Polarity.Clamp(d.Value)
		s.dials[d.ID] = d
	}

	s.groups = make(map[string]Group, len(cat.Groups))
	for _, g := range cat.Groups {
		if g.ID == "" {
			continue
		}
		s.groups[g.ID] = g.Clone()
	}

	dialCount.Set(float64(len(s.dials)))
	loaded, groups := len(s.dials), len(s.groups)
	ev, subs := s.eventLocked(EventCatalogLoaded, "")
	s.mu.Unlock()
	dispatch(subs, ev)

	s.logger.Debug("catalog loaded",
		slog.Int("dials", loaded),
		slog.Int("groups", groups),
	)
}

// LoadDefaultCatalog populates the fixed starter set from the configured
// catalog source, replacing current dials and groups.
func (s *Store) LoadDefaultCatalog(ctx context.Context) error {
	if s.source == nil {
		return ErrNoCatalogSource
	}
	cat, err := s.source.Catalog(ctx)
	if err != nil {
		return fmt.Errorf("load default catalog: %w", err)
	}
	s.LoadCatalog(cat)
	return nil
}

// =============================================================================
// Readers
// =============================================================================

// Dial returns a deep copy of one dial.
func (s *Store) Dial(id string) (Dial, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dials[id]
	if !ok {
		return Dial{}, false
	}
	return d.Clone(), true
}

// Snapshot returns a deep copy of the dial mapping for pure computation.
func (s *Store) Snapshot() map[string]Dial {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Dial, len(s.dials))
	for id, d := range s.dials {
		out[id] = d.Clone()
	}
	return out
}

// Dials returns deep copies of all dials, sorted by id.
func (s *Store) Dials() []Dial {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Dial, 0, len(s.dials))
	for _, d := range s.dials {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Group returns a deep copy of one group.
func (s *Store) Group(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return Group{}, false
	}
	return g.Clone(), true
}

// Groups returns deep copies of all groups, sorted by id.
func (s *Store) Groups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of dials in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dials)
}
