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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a span from the named tracer.
//
// Description:
//
//	Convenience wrapper for callers that do not keep a package-level
//	tracer. If no provider has been installed via Init, the returned
//	span is a no-op and recording calls on it are harmless.
//
// Inputs:
//
//	ctx - Parent context, carries the parent span if any.
//	tracerName - Tracer name, conventionally "horus.steering.<pkg>".
//	spanName - Operation name, e.g. "steering.Recompute".
//
// Outputs:
//
//	context.Context - Context carrying the new span.
//	trace.Span - The started span. Callers must End it.
func StartSpan(ctx context.Context, tracerName, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}

// RecordError records err on the active span and marks the span status
// as Error. No-op when err is nil or no span is recording.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordErrorf formats an error message, records it on the active span,
// and returns the formatted error for the caller to propagate.
func RecordErrorf(ctx context.Context, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	RecordError(ctx, err)
	return err
}

// SetSpanOK marks the active span status as Ok.
func SetSpanOK(ctx context.Context) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
}

// AddSpanEvent attaches a point-in-time event to the active span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// TraceID returns the active trace ID as a hex string, or "" when the
// context carries no sampled span. Useful for correlating log lines
// with traces.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// HasActiveSpan reports whether ctx carries a valid span context.
func HasActiveSpan(ctx context.Context) bool {
	return trace.SpanFromContext(ctx).SpanContext().IsValid()
}
