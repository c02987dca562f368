// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loss provides loss functions comparing a predicted labeling
// against ground truth.
//
// Every loss is non-negative and zero iff the two labelings agree on every
// node.
package loss

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

var (
	// ErrNilLabeling is returned when the predicted labeling is nil.
	ErrNilLabeling = errors.New("nil labeling")

	// ErrMissingGroundTruth is returned when a loss is requested without a
	// ground-truth labeling. Every oracle consumer (search nodes, pruning)
	// reports this error.
	ErrMissingGroundTruth = errors.New("ground truth required")
)

// Function computes the loss of a prediction.
type Function interface {
	// Compute returns the loss of pred against truth.
	Compute(pred, truth *labeling.Labeling) (float64, error)

	// Name identifies the loss in logs and config.
	Name() string
}

func checkPair(pred, truth *labeling.Labeling) error {
	if truth == nil {
		return ErrMissingGroundTruth
	}
	if pred == nil {
		return ErrNilLabeling
	}
	if pred.NumNodes() != truth.NumNodes() {
		return fmt.Errorf("%w: predicted %d nodes, truth %d nodes",
			labeling.ErrSizeMismatch, pred.NumNodes(), truth.NumNodes())
	}
	return nil
}

// Hamming is the fraction of nodes whose labels differ.
type Hamming struct{}

// Name implements Function.
func (Hamming) Name() string { return "hamming" }

// Compute implements Function. An empty labeling has zero loss.
func (Hamming) Compute(pred, truth *labeling.Labeling) (float64, error) {
	if err := checkPair(pred, truth); err != nil {
		return 0, err
	}
	n := pred.NumNodes()
	if n == 0 {
		return 0, nil
	}
	mismatches := 0
	for i := 0; i < n; i++ {
		if pred.Label(i) != truth.Label(i) {
			mismatches++
		}
	}
	return float64(mismatches) / float64(n), nil
}

// PixelHamming weights each mismatch by the truth labeling's node weight,
// typically the node's share of image pixels. Without node weights every
// node weighs 1/N and a warning is logged.
type PixelHamming struct {
	// Logger receives the missing-weights warning. Nil uses slog.Default().
	Logger *slog.Logger
}

// Name implements Function.
func (PixelHamming) Name() string { return "pixel_hamming" }

// Compute implements Function.
func (p PixelHamming) Compute(pred, truth *labeling.Labeling) (float64, error) {
	if err := checkPair(pred, truth); err != nil {
		return 0, err
	}
	n := pred.NumNodes()
	if n == 0 {
		return 0, nil
	}
	if !truth.NodeWeightsAvailable() {
		logger := p.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("node weights unavailable, using uniform weights",
			slog.Int("nodes", n))
		return Hamming{}.Compute(pred, truth)
	}

	var total float64
	for i := 0; i < n; i++ {
		if pred.Label(i) != truth.Label(i) {
			total += truth.NodeWeights[i]
		}
	}
	return total, nil
}

// ByName returns the loss function registered under name.
func ByName(name string, logger *slog.Logger) (Function, error) {
	switch name {
	case "", "hamming":
		return Hamming{}, nil
	case "pixel_hamming":
		return PixelHamming{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown loss function %q", name)
	}
}
