// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package env carries the per-run state shared by every search call site:
// the class map, the random generator, the logger, and the worker identity.
//
// An Env replaces process-wide settings. It is passed explicitly into
// successor functions, pruning functions, and search procedures, and lives
// for one run (or one worker of a run).
//
// # Thread Safety
//
// An Env is NOT safe for concurrent use: its random generator is mutated by
// every stochastic call. Data-parallel workers each get their own Env via
// Fork.
package env

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/google/uuid"
)

// Env is the explicit run context.
type Env struct {
	// Classes is the class map shared by the run.
	Classes *labeling.ClassMap

	// Rand is the run's random generator. Reproducible only for the same
	// seed and the same call order.
	Rand *rand.Rand

	// Logger receives structured logs. Never nil.
	Logger *slog.Logger

	// RunID identifies the run in logs, stores and snapshots.
	RunID string

	// Rank is this worker's index in [0, NumWorkers).
	Rank int

	// NumWorkers is the number of cooperating workers.
	NumWorkers int

	seed uint64
}

// Option configures an Env.
type Option func(*Env)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Env) {
		if logger != nil {
			e.Logger = logger
		}
	}
}

// WithSeed seeds the random generator. A zero seed draws one from the clock.
func WithSeed(seed uint64) Option {
	return func(e *Env) {
		e.seed = seed
	}
}

// WithRunID sets the run identifier.
func WithRunID(id string) Option {
	return func(e *Env) {
		if id != "" {
			e.RunID = id
		}
	}
}

// WithWorker sets the worker identity.
func WithWorker(rank, numWorkers int) Option {
	return func(e *Env) {
		e.Rank = rank
		e.NumWorkers = numWorkers
	}
}

// New creates an Env.
//
// Inputs:
//   - classes: Class map. Nil selects labeling.DefaultClassMap.
//   - opts: Optional settings.
//
// Outputs:
//   - *Env: Ready to use. RunID is a fresh UUID unless set.
func New(classes *labeling.ClassMap, opts ...Option) *Env {
	if classes == nil {
		classes = labeling.DefaultClassMap()
	}
	e := &Env{
		Classes:    classes,
		Logger:     slog.Default(),
		RunID:      uuid.NewString(),
		NumWorkers: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.seed == 0 {
		e.seed = uint64(time.Now().UnixNano())
	}
	e.Rand = rand.New(rand.NewPCG(e.seed, uint64(e.Rank)))
	e.Logger = e.Logger.With(slog.String("run_id", e.RunID))
	if e.NumWorkers > 1 {
		e.Logger = e.Logger.With(slog.Int("worker", e.Rank))
	}
	return e
}

// Seed returns the seed the generator was built from.
func (e *Env) Seed() uint64 {
	return e.seed
}

// Fork returns an Env for another worker of the same run. The new
// generator is seeded from the same seed and the worker rank, so every
// worker draws an independent, reproducible stream.
func (e *Env) Fork(rank int) *Env {
	f := &Env{
		Classes:    e.Classes,
		Logger:     e.Logger.With(slog.Int("worker", rank)),
		RunID:      e.RunID,
		Rank:       rank,
		NumWorkers: e.NumWorkers,
		seed:       e.seed,
	}
	f.Rand = rand.New(rand.NewPCG(e.seed, uint64(rank)+1<<32))
	return f
}

// Shuffle permutes n elements in place with the run generator.
func (e *Env) Shuffle(n int, swap func(i, j int)) {
	e.Rand.Shuffle(n, swap)
}
