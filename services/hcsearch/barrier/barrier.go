// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package barrier coordinates data-parallel workers.
//
// A run shards its examples across workers with TaskRange and runs them
// with RunWorkers. Stage transitions use a two-sided Barrier: every worker
// Arrives, the coordinator waits for all of them and does the shared work
// (merging ranking files, training a model), then every worker Releases
// and blocks until the coordinator has released the phase.
package barrier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/hcsearch/services/hcsearch/metrics"
)

// Coordinator is the rank that performs shared work between phases.
const Coordinator = 0

var (
	// ErrInvalidSize is returned for a barrier of fewer than one worker.
	ErrInvalidSize = errors.New("barrier size must be positive")

	// ErrInvalidRank is returned for a rank outside [0, size).
	ErrInvalidRank = errors.New("rank out of range")

	// ErrCoordinatorFailed is returned to workers released by a
	// coordinator whose shared work failed.
	ErrCoordinatorFailed = errors.New("coordinator failed")
)

// Phase identifies a rendezvous point.
type Phase int

const (
	// PhasePrepare follows per-worker setup, before the first stage.
	PhasePrepare Phase = iota

	// PhaseMergeH follows writing heuristic ranking examples.
	PhaseMergeH

	// PhaseMergeC follows writing cost ranking examples.
	PhaseMergeC

	// PhaseMergeCOracleH follows writing oracle-heuristic cost examples.
	PhaseMergeCOracleH

	// PhaseStage separates schedule stages.
	PhaseStage
)

var phaseNames = [...]string{"prepare", "merge_h", "merge_c", "merge_c_oracle_h", "stage"}

// String returns the phase name used in logs and metrics.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

type roundKey struct {
	phase Phase
	gen   int
}

type round struct {
	arrived    int
	releasers  int
	allArrived chan struct{}
	released   chan struct{}
	err        error
}

// Barrier is a reusable phase barrier for a fixed group of workers.
//
// Each phase may be crossed any number of times. Every rank must call
// Arrive and then Release once per crossing, in the same order of phases.
//
// Thread Safety: Safe for concurrent use.
type Barrier struct {
	size int

	mu         sync.Mutex
	rounds     map[roundKey]*round
	arriveGen  map[Phase][]int
	releaseGen map[Phase][]int
}

// New creates a barrier for size workers.
func New(size int) (*Barrier, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return &Barrier{
		size:       size,
		rounds:     make(map[roundKey]*round),
		arriveGen:  make(map[Phase][]int),
		releaseGen: make(map[Phase][]int),
	}, nil
}

// Size returns the number of workers.
func (b *Barrier) Size() int { return b.size }

// next returns rank's current round of phase from gens and advances it.
// Callers hold mu.
func (b *Barrier) next(gens map[Phase][]int, rank int, phase Phase) *round {
	if gens[phase] == nil {
		gens[phase] = make([]int, b.size)
	}
	key := roundKey{phase: phase, gen: gens[phase][rank]}
	gens[phase][rank]++
	r, ok := b.rounds[key]
	if !ok {
		r = &round{allArrived: make(chan struct{}), released: make(chan struct{})}
		b.rounds[key] = r
	}
	return r
}

func (b *Barrier) checkRank(rank int) error {
	if rank < 0 || rank >= b.size {
		return fmt.Errorf("%w: %d of %d", ErrInvalidRank, rank, b.size)
	}
	return nil
}

// Arrive announces that rank reached phase. Workers return immediately;
// the coordinator blocks until every rank has arrived.
//
// Outputs:
//   - error: ErrInvalidRank, or ctx's error if it ends the wait.
func (b *Barrier) Arrive(ctx context.Context, rank int, phase Phase) error {
	if err := b.checkRank(rank); err != nil {
		return err
	}
	b.mu.Lock()
	r := b.next(b.arriveGen, rank, phase)
	r.arrived++
	if r.arrived == b.size {
		close(r.allArrived)
	}
	b.mu.Unlock()

	if rank != Coordinator {
		return nil
	}
	return wait(ctx, r.allArrived, phase)
}

// Release ends phase. The coordinator releases every waiting worker;
// workers block until that happens.
//
// Outputs:
//   - error: ErrInvalidRank, ctx's error, or ErrCoordinatorFailed when the
//     coordinator released with Fail.
func (b *Barrier) Release(ctx context.Context, rank int, phase Phase) error {
	return b.release(ctx, rank, phase, nil)
}

// Fail releases phase from the coordinator with cause. Workers blocked in
// Release return ErrCoordinatorFailed wrapping cause.
func (b *Barrier) Fail(ctx context.Context, phase Phase, cause error) error {
	return b.release(ctx, Coordinator, phase, cause)
}

func (b *Barrier) release(ctx context.Context, rank int, phase Phase, cause error) error {
	if err := b.checkRank(rank); err != nil {
		return err
	}
	b.mu.Lock()
	key := roundKey{phase: phase}
	if gens := b.releaseGen[phase]; gens != nil {
		key.gen = gens[rank]
	}
	r := b.next(b.releaseGen, rank, phase)
	if rank == Coordinator {
		r.err = cause
		close(r.released)
	}
	r.releasers++
	if r.releasers == b.size {
		delete(b.rounds, key)
	}
	b.mu.Unlock()

	if rank == Coordinator {
		return nil
	}
	if err := wait(ctx, r.released, phase); err != nil {
		return err
	}
	if r.err != nil {
		return fmt.Errorf("%w at %s: %w", ErrCoordinatorFailed, phase, r.err)
	}
	return nil
}

// Sync crosses phase. Every rank arrives; the coordinator runs shared
// once all have arrived; then every rank is released. A shared error is
// returned to the coordinator and, wrapped in ErrCoordinatorFailed, to
// every worker.
func (b *Barrier) Sync(ctx context.Context, rank int, phase Phase, shared func(context.Context) error) error {
	if err := b.Arrive(ctx, rank, phase); err != nil {
		return err
	}
	if rank != Coordinator {
		return b.Release(ctx, rank, phase)
	}
	var err error
	if shared != nil {
		err = shared(ctx)
	}
	if relErr := b.release(ctx, rank, phase, err); relErr != nil {
		return relErr
	}
	return err
}

func wait(ctx context.Context, ch <-chan struct{}, phase Phase) error {
	began := time.Now()
	defer func() { metrics.RecordBarrierWait(phase.String(), time.Since(began)) }()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting at %s: %w", phase, ctx.Err())
	}
}
