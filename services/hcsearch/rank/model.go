// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rank provides ranking models used as the search heuristic (H)
// and cost function (C).
//
// A model maps a feature vector to a real score; lower scores rank better.
// Two implementations exist:
//
//   - SVMRank writes pairwise ranking examples to a file and delegates the
//     weight optimization to the external svm_rank_learn trainer.
//   - OnlinePA updates its weights in process with averaged
//     passive-aggressive steps.
//
// # Thread Safety
//
// Models are NOT safe for concurrent use. Each data-parallel worker owns its
// own model and results are combined at a phase barrier.
package rank

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Features is a dense feature vector.
type Features []float64

// Dot returns the inner product with w. Entries beyond the shorter of the
// two vectors count as zero.
func (f Features) Dot(w []float64) float64 {
	n := min(len(f), len(w))
	if n == 0 {
		return 0
	}
	return floats.Dot(f[:n], w[:n])
}

// Sub returns f - g.
func (f Features) Sub(g Features) (Features, error) {
	if len(f) != len(g) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(f), len(g))
	}
	out := make(Features, len(f))
	floats.SubTo(out, f, g)
	return out, nil
}

// Model scores feature vectors and learns from ranked examples.
type Model interface {
	// Score returns the model's value for f. Lower is better.
	Score(f Features) float64

	// Train records that every vector in better should rank ahead of every
	// vector in worse. Batch models only record the examples; FinishTraining
	// fits the weights.
	Train(better, worse []Features) error

	// Load reads weights from path.
	Load(path string) error

	// Save writes weights to path.
	Save(path string) error
}

// Finisher is implemented by batch models that fit their weights once all
// examples are recorded.
type Finisher interface {
	FinishTraining(ctx context.Context) error
}

// Kind names a model implementation.
type Kind string

const (
	// KindSVMRank selects SVMRank.
	KindSVMRank Kind = "svmrank"

	// KindOnlinePA selects OnlinePA.
	KindOnlinePA Kind = "online"
)

// ParseKind validates a model type name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSVMRank, KindOnlinePA:
		return Kind(s), nil
	case "":
		return KindSVMRank, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
	}
}
