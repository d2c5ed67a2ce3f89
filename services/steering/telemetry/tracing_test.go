// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

// spanContextFixture builds a valid sampled span context without needing
// a tracer provider.
func spanContextFixture() trace.SpanContext {
	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "horus.steering.test", "test.Operation")
	defer span.End()

	if ctx == nil {
		t.Fatal("StartSpan returned nil context")
	}
	if span == nil {
		t.Fatal("StartSpan returned nil span")
	}
	if trace.SpanFromContext(ctx) != span {
		t.Error("returned context does not carry the started span")
	}
}

func TestRecordError_NilError(t *testing.T) {
	// Must not panic with no span and no error.
	RecordError(context.Background(), nil)
	RecordError(context.Background(), errors.New("no span recording"))
}

func TestRecordErrorf_ReturnsFormattedError(t *testing.T) {
	base := errors.New("boom")
	err := RecordErrorf(context.Background(), "computing vector: %w", base)

	if err == nil {
		t.Fatal("RecordErrorf returned nil")
	}
	if err.Error() != "computing vector: boom" {
		t.Errorf("err = %q, want %q", err.Error(), "computing vector: boom")
	}
	if !errors.Is(err, base) {
		t.Error("RecordErrorf should wrap the original error")
	}
}

func TestSetSpanOK_NoSpan(t *testing.T) {
	// No-op without a recording span.
	SetSpanOK(context.Background())
}

func TestAddSpanEvent_NoSpan(t *testing.T) {
	AddSpanEvent(context.Background(), "dial.changed")
}

func TestTraceID(t *testing.T) {
	t.Run("empty without span", func(t *testing.T) {
		if id := TraceID(context.Background()); id != "" {
			t.Errorf("TraceID = %q, want empty", id)
		}
	})

	t.Run("hex string with span context", func(t *testing.T) {
		sc := spanContextFixture()
		ctx := trace.ContextWithSpanContext(context.Background(), sc)

		if id := TraceID(ctx); id != sc.TraceID().String() {
			t.Errorf("TraceID = %q, want %q", id, sc.TraceID().String())
		}
	})
}

func TestHasActiveSpan(t *testing.T) {
	if HasActiveSpan(context.Background()) {
		t.Error("background context should not have an active span")
	}

	ctx := trace.ContextWithSpanContext(context.Background(), spanContextFixture())
	if !HasActiveSpan(ctx) {
		t.Error("context with span context should report an active span")
	}
}
