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

import "time"

// EventKind identifies the type of store mutation.
type EventKind int

const (
	// EventValueChanged indicates a dial value was set.
	EventValueChanged EventKind = iota

	// EventDialReset indicates a dial (or, with an empty DialID, every
	// unlocked dial) returned to its default value.
	EventDialReset

	// EventDialAdded indicates a dial was added.
	EventDialAdded

	// EventDialRemoved indicates a dial was removed.
	EventDialRemoved

	// EventLockChanged indicates a dial's locked flag flipped.
	EventLockChanged

	// EventGroupChanged indicates a group was added, removed, or toggled.
	EventGroupChanged

	// EventCatalogLoaded indicates the whole dial set was replaced.
	EventCatalogLoaded
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventValueChanged:
		return "value_changed"
	case EventDialReset:
		return "dial_reset"
	case EventDialAdded:
		return "dial_added"
	case EventDialRemoved:
		return "dial_removed"
	case EventLockChanged:
		return "lock_changed"
	case EventGroupChanged:
		return "group_changed"
	case EventCatalogLoaded:
		return "catalog_loaded"
	default:
		return "unknown"
	}
}

// Computational reports whether this kind of mutation can change derived
// steering state. Lock flips and group edits never do; a locked dial keeps
// contributing at its frozen value, and groups are pure display partitions.
func (k EventKind) Computational() bool {
	switch k {
	case EventValueChanged, EventDialReset, EventDialAdded, EventDialRemoved, EventCatalogLoaded:
		return true
	default:
		return false
	}
}

// Event is one store mutation notification.
type Event struct {
	// ID uniquely identifies the event.
	ID string

	// Seq is a monotonically increasing sequence number per store.
	Seq uint64

	// Kind is the mutation type.
	Kind EventKind

	// DialID is the affected dial, when the mutation targets a single dial.
	DialID string

	// Time is when the mutation was applied.
	Time time.Time
}

// SubscribeFunc receives store events. Handlers run synchronously on the
// mutating goroutine and must not block.
type SubscribeFunc func(Event)
