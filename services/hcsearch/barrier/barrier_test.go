// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package barrier

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
)

func TestTaskRange_Partitions(t *testing.T) {
	for numTasks := 0; numTasks <= 17; numTasks++ {
		for workers := 1; workers <= 5; workers++ {
			next := 0
			for rank := range workers {
				start, end := TaskRange(rank, numTasks, workers)
				if start != next {
					t.Errorf("TaskRange(%d, %d, %d) start = %d, want %d", rank, numTasks, workers, start, next)
				}
				if n := end - start; n < numTasks/workers || n > numTasks/workers+1 {
					t.Errorf("TaskRange(%d, %d, %d) len = %d", rank, numTasks, workers, n)
				}
				next = end
			}
			if next != numTasks {
				t.Errorf("tasks=%d workers=%d covered %d", numTasks, workers, next)
			}
		}
	}
	if s, e := TaskRange(3, 10, 2); s != 0 || e != 0 {
		t.Errorf("out of range rank = [%d, %d)", s, e)
	}
}

func TestPhase_String(t *testing.T) {
	if PhaseMergeH.String() != "merge_h" {
		t.Errorf("PhaseMergeH = %q", PhaseMergeH)
	}
	if Phase(42).String() != "phase(42)" {
		t.Errorf("Phase(42) = %q", Phase(42))
	}
}

func TestNew_InvalidSize(t *testing.T) {
	if _, err := New(0); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("err = %v, want ErrInvalidSize", err)
	}
}

func TestBarrier_CoordinatorSeesAllArrivals(t *testing.T) {
	const n = 4
	b, _ := New(n)
	ctx := context.Background()

	var before atomic.Int32
	var sharedSaw int32
	var afterRelease atomic.Int32
	var wg sync.WaitGroup
	for rank := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 3 {
				before.Add(1)
				err := b.Sync(ctx, rank, PhaseStage, func(context.Context) error {
					sharedSaw = before.Load()
					return nil
				})
				if err != nil {
					t.Errorf("rank %d: %v", rank, err)
					return
				}
				afterRelease.Add(1)
			}
		}()
	}
	wg.Wait()
	if sharedSaw != 3*n {
		t.Errorf("last shared step saw %d arrivals, want %d", sharedSaw, 3*n)
	}
	if afterRelease.Load() != 3*n {
		t.Errorf("released %d, want %d", afterRelease.Load(), 3*n)
	}
}

func TestBarrier_WorkersWaitForRelease(t *testing.T) {
	b, _ := New(2)
	ctx := context.Background()
	if err := b.Arrive(ctx, 1, PhaseMergeC); err != nil {
		t.Fatalf("worker Arrive: %v", err)
	}
	released := make(chan error, 1)
	go func() { released <- b.Release(ctx, 1, PhaseMergeC) }()

	if err := b.Arrive(ctx, Coordinator, PhaseMergeC); err != nil {
		t.Fatalf("coordinator Arrive: %v", err)
	}
	select {
	case err := <-released:
		t.Fatalf("worker released early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	if err := b.Release(ctx, Coordinator, PhaseMergeC); err != nil {
		t.Fatalf("coordinator Release: %v", err)
	}
	if err := <-released; err != nil {
		t.Errorf("worker Release: %v", err)
	}
}

func TestBarrier_FailPropagates(t *testing.T) {
	b, _ := New(2)
	ctx := context.Background()
	cause := errors.New("trainer exited 1")
	errs := make(chan error, 1)
	go func() { errs <- b.Sync(ctx, 1, PhaseMergeH, nil) }()

	err := b.Sync(ctx, Coordinator, PhaseMergeH, func(context.Context) error { return cause })
	if !errors.Is(err, cause) {
		t.Errorf("coordinator err = %v, want cause", err)
	}
	werr := <-errs
	if !errors.Is(werr, ErrCoordinatorFailed) || !errors.Is(werr, cause) {
		t.Errorf("worker err = %v, want ErrCoordinatorFailed wrapping cause", werr)
	}
}

func TestBarrier_ContextCancelsWait(t *testing.T) {
	b, _ := New(3)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Arrive(ctx, Coordinator, PhasePrepare); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if err := b.Release(ctx, 2, PhasePrepare); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if err := b.Arrive(ctx, 3, PhasePrepare); !errors.Is(err, ErrInvalidRank) {
		t.Errorf("err = %v, want ErrInvalidRank", err)
	}
}

func TestRunWorkers(t *testing.T) {
	base := env.New(nil, env.WithSeed(11), env.WithLogger(slog.New(slog.DiscardHandler)))
	var mu sync.Mutex
	seen := map[int]bool{}
	err := RunWorkers(context.Background(), base, 3, func(ctx context.Context, e *env.Env, b *Barrier) error {
		if e.NumWorkers != 3 || e.RunID != base.RunID {
			t.Errorf("worker env = rank %d of %d run %q", e.Rank, e.NumWorkers, e.RunID)
		}
		mu.Lock()
		seen[e.Rank] = true
		mu.Unlock()
		return b.Sync(ctx, e.Rank, PhaseStage, nil)
	})
	if err != nil {
		t.Fatalf("RunWorkers: %v", err)
	}
	if len(seen) != 3 {
		t.Errorf("ranks = %v", seen)
	}

	boom := errors.New("boom")
	err = RunWorkers(context.Background(), base, 2, func(ctx context.Context, e *env.Env, b *Barrier) error {
		if e.Rank == 1 {
			return boom
		}
		// The coordinator would wait forever without cancellation.
		return b.Arrive(ctx, e.Rank, PhaseStage)
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
