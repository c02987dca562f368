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
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
)

// TaskRange returns the half-open slice [start, end) of numTasks owned by
// rank. The ranges of all ranks partition [0, numTasks) and differ in
// length by at most one.
func TaskRange(rank, numTasks, numWorkers int) (start, end int) {
	if numWorkers < 1 || numTasks <= 0 || rank < 0 || rank >= numWorkers {
		return 0, 0
	}
	return rank * numTasks / numWorkers, (rank + 1) * numTasks / numWorkers
}

// WorkerFunc is the body of one worker. e is private to the worker.
type WorkerFunc func(ctx context.Context, e *env.Env, b *Barrier) error

// RunWorkers runs n workers concurrently, each with an Env forked from
// base and a shared Barrier. The first error cancels ctx for the others
// and is returned.
//
// Inputs:
//   - ctx: Cancels every worker.
//   - base: Run context to fork from.
//   - n: Number of workers. Must be >= 1.
//   - fn: Worker body.
//
// Outputs:
//   - error: ErrInvalidSize, or the first worker error.
func RunWorkers(ctx context.Context, base *env.Env, n int, fn WorkerFunc) error {
	b, err := New(n)
	if err != nil {
		return err
	}
	base.Logger.Info("starting workers", slog.Int("workers", n))

	g, gCtx := errgroup.WithContext(ctx)
	for rank := range n {
		e := base.Fork(rank)
		e.NumWorkers = n
		g.Go(func() error {
			if err := fn(gCtx, e, b); err != nil {
				return fmt.Errorf("worker %d: %w", rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}
