// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const searchTracerName = "hcsearch.search"

// SearchSummary describes a finished search for its span.
type SearchSummary struct {
	Steps      int
	Nodes      int
	Duplicates int
	Cost       float64
}

// SearchTracer traces search runs and steps.
//
// Thread Safety: Safe for concurrent use.
type SearchTracer struct {
	tracer     trace.Tracer
	logger     *slog.Logger
	enabled    bool
	candidates metric.Int64Counter
	stepNodes  metric.Int64Histogram
}

// NewSearchTracer creates a tracer. A disabled tracer returns no-op spans.
//
// Inputs:
//   - logger: Nil uses slog.Default().
//   - enabled: Whether spans are recorded.
func NewSearchTracer(logger *slog.Logger, enabled bool) *SearchTracer {
	if logger == nil {
		logger = slog.Default()
	}
	t := &SearchTracer{
		tracer:  otel.Tracer(searchTracerName),
		logger:  logger,
		enabled: enabled,
	}

	meter := otel.Meter(searchTracerName)
	var err error
	t.candidates, err = meter.Int64Counter("hcsearch.search.candidates",
		metric.WithDescription("Candidates accepted into the search frontier"))
	if err != nil {
		logger.Warn("otel counter unavailable", slog.String("error", err.Error()))
		t.candidates, _ = metricnoop.NewMeterProvider().Meter(searchTracerName).Int64Counter("noop")
	}
	t.stepNodes, err = meter.Int64Histogram("hcsearch.search.step_expansions",
		metric.WithDescription("Nodes expanded per search step"))
	if err != nil {
		logger.Warn("otel histogram unavailable", slog.String("error", err.Error()))
		t.stepNodes, _ = metricnoop.NewMeterProvider().Meter(searchTracerName).Int64Histogram("noop")
	}
	return t
}

// StartSearch starts the span covering one search.
//
// Outputs:
//   - context.Context: Context carrying the span.
//   - trace.Span: The span, a no-op when disabled.
func (t *SearchTracer) StartSearch(ctx context.Context, procedure, mode, example string, timeBound int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	ctx, span := t.tracer.Start(ctx, "hcsearch.search",
		trace.WithAttributes(
			attribute.String("hcsearch.procedure", procedure),
			attribute.String("hcsearch.mode", mode),
			attribute.String("hcsearch.example", example),
			attribute.Int("hcsearch.time_bound", timeBound),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, span
}

// EndSearch completes the search span.
func (t *SearchTracer) EndSearch(span trace.Span, summary SearchSummary, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("hcsearch.result.steps", summary.Steps),
		attribute.Int("hcsearch.result.nodes", summary.Nodes),
		attribute.Int("hcsearch.result.duplicates", summary.Duplicates),
		attribute.Float64("hcsearch.result.cost", summary.Cost),
	)
	span.End()
}

// TraceStep starts the span for one time step.
func (t *SearchTracer) TraceStep(ctx context.Context, step, open int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "hcsearch.step",
		trace.WithAttributes(
			attribute.Int("hcsearch.step", step),
			attribute.Int("hcsearch.open", open),
		),
	)
}

// EndStep completes a step span and records the step's instruments.
func (t *SearchTracer) EndStep(ctx context.Context, span trace.Span, expanded, accepted int, err error) {
	t.candidates.Add(ctx, int64(accepted))
	t.stepNodes.Record(ctx, int64(expanded))
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("hcsearch.step.expanded", expanded),
		attribute.Int("hcsearch.step.accepted", accepted),
	)
	span.End()
}
