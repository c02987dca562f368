// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rank

import (
	"context"
	"os/exec"

	"golang.org/x/time/rate"
)

// Runner launches an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec, pacing launches with a token
// bucket so that retries and parallel stages do not fork-bomb the host.
//
// Thread Safety: Safe for concurrent use.
type ExecRunner struct {
	limiter *rate.Limiter
}

// NewExecRunner creates a runner allowing launchesPerSecond launches with a
// burst of one. A non-positive rate disables pacing.
func NewExecRunner(launchesPerSecond float64) *ExecRunner {
	limit := rate.Inf
	if launchesPerSecond > 0 {
		limit = rate.Limit(launchesPerSecond)
	}
	return &ExecRunner{limiter: rate.NewLimiter(limit, 1)}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
