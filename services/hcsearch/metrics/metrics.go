// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics exposes Prometheus metrics for HC-Search runs.
//
// All label values pass through a known-value filter so that a typo or an
// unexpected name is recorded as "unknown" instead of creating a new series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hcsearch"

// -----------------------------------------------------------------------------
// Known label values (for cardinality protection)
// -----------------------------------------------------------------------------

var knownProcedures = map[string]bool{
	"greedy":      true,
	"breadthbeam": true,
	"bestbeam":    true,
}

var knownModes = map[string]bool{
	"ll":           true,
	"hl":           true,
	"lc":           true,
	"hc":           true,
	"learnh":       true,
	"learnc":       true,
	"learncoracle": true,
}

var knownSuccessors = map[string]bool{
	"flipbit":                           true,
	"flipbit_neighbor":                  true,
	"flipbit_confidences_neighbor":      true,
	"stochastic":                        true,
	"stochastic_neighbor":               true,
	"stochastic_confidences_neighbor":   true,
	"cut_schedule":                      true,
	"cut_schedule_neighbor":             true,
	"cut_schedule_confidences_neighbor": true,
}

var knownPrunes = map[string]bool{
	"none":             true,
	"ranker":           true,
	"oracle":           true,
	"simulated_ranker": true,
}

func sanitize(known map[string]bool, v string) string {
	if v != "" && known[v] {
		return v
	}
	return "unknown"
}

// -----------------------------------------------------------------------------
// Search metrics
// -----------------------------------------------------------------------------

var (
	// searchesTotal counts completed searches.
	//
	// Labels:
	//   - procedure: "greedy", "breadthbeam", "bestbeam"
	//   - mode: search mode string
	//   - status: "success" or "error"
	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "runs_total",
			Help:      "Total searches by procedure, mode and status",
		},
		[]string{"procedure", "mode", "status"},
	)

	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Wall time of one search",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"procedure"},
	)

	searchSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "steps_total",
			Help:      "Total search time steps executed",
		},
		[]string{"procedure"},
	)

	duplicatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duplicates_skipped_total",
			Help:      "Successor states dropped because an identical labeling was already known",
		},
	)

	snapshotsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "snapshots_saved_total",
			Help:      "Anytime prediction snapshots persisted",
		},
	)
)

// -----------------------------------------------------------------------------
// Search space metrics
// -----------------------------------------------------------------------------

var (
	successorsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "space",
			Name:      "successors_generated_total",
			Help:      "Candidates produced by successor functions",
		},
		[]string{"successor"},
	)

	candidatesPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "space",
			Name:      "candidates_pruned_total",
			Help:      "Candidates removed by pruning functions",
		},
		[]string{"prune"},
	)

	klDegenerate = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "space",
			Name:      "kl_degenerate_terms_total",
			Help:      "KL divergence terms skipped because the denominator was zero",
		},
	)
)

// -----------------------------------------------------------------------------
// Learning metrics
// -----------------------------------------------------------------------------

var (
	trainingExamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learn",
			Name:      "examples_total",
			Help:      "Ranking examples forwarded to rank models",
		},
		[]string{"kind"},
	)

	trainerInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learn",
			Name:      "trainer_invocations_total",
			Help:      "External trainer invocations by outcome",
		},
		[]string{"status"},
	)

	barrierWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "learn",
			Name:      "barrier_wait_seconds",
			Help:      "Time spent waiting at phase barriers",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"phase"},
	)
)

// RecordSearch records one finished search.
func RecordSearch(procedure, mode string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p := sanitize(knownProcedures, procedure)
	searchesTotal.WithLabelValues(p, sanitize(knownModes, mode), status).Inc()
	searchDuration.WithLabelValues(p).Observe(elapsed.Seconds())
}

// RecordStep records one search time step.
func RecordStep(procedure string) {
	searchSteps.WithLabelValues(sanitize(knownProcedures, procedure)).Inc()
}

// RecordDuplicates records successor states skipped as duplicates.
func RecordDuplicates(n int) {
	if n > 0 {
		duplicatesSkipped.Add(float64(n))
	}
}

// RecordSnapshot records a persisted anytime snapshot.
func RecordSnapshot() {
	snapshotsSaved.Inc()
}

// RecordSuccessors records candidates produced by a successor function.
func RecordSuccessors(successor string, n int) {
	successorsGenerated.WithLabelValues(sanitize(knownSuccessors, successor)).Add(float64(n))
}

// RecordPruned records candidates removed by a pruning function.
func RecordPruned(prune string, n int) {
	if n > 0 {
		candidatesPruned.WithLabelValues(sanitize(knownPrunes, prune)).Add(float64(n))
	}
}

// RecordKLDegenerate records skipped zero-denominator KL terms.
func RecordKLDegenerate(n int) {
	if n > 0 {
		klDegenerate.Add(float64(n))
	}
}

// RecordTrainingExamples records ranking examples by kind ("better"/"worse").
func RecordTrainingExamples(better, worse int) {
	trainingExamples.WithLabelValues("better").Add(float64(better))
	trainingExamples.WithLabelValues("worse").Add(float64(worse))
}

// RecordTrainerInvocation records an external trainer run.
// Status is "success", "retry" or "failure".
func RecordTrainerInvocation(status string) {
	switch status {
	case "success", "retry", "failure":
	default:
		status = "unknown"
	}
	trainerInvocations.WithLabelValues(status).Inc()
}

// RecordBarrierWait records time spent at a phase barrier.
func RecordBarrierWait(phase string, d time.Duration) {
	barrierWait.WithLabelValues(phase).Observe(d.Seconds())
}
