// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package features

import (
	"fmt"
	"math"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
	"gonum.org/v1/gonum/floats"
)

// Kernel bandwidths of the dense pairwise term, in normalized location
// and feature units.
const (
	DenseThetaAlpha = 0.025
	DenseThetaBeta  = 0.025
	DenseThetaGamma = 0.025
)

// DenseCRF is the fully connected formulation: a confidence unary term and
// a two-slot pairwise term over every node pair. The pairwise slots are an
// appearance kernel over location and feature distance and a smoothness
// kernel over location distance alone.
//
// Requires confidences on y and locations on x.
type DenseCRF struct {
	classes *labeling.ClassMap
}

// NewDenseCRF creates the dense formulation.
func NewDenseCRF(classes *labeling.ClassMap) *DenseCRF {
	return &DenseCRF{classes: classes}
}

// Name implements Function.
func (d *DenseCRF) Name() string { return "dense_crf" }

// Size implements Function.
func (d *DenseCRF) Size(_ *labeling.FeatureGraph) int {
	nc := d.classes.NumClasses()
	return nc + 2*NumPairs(nc)
}

// Compute implements Function.
//
// Cost is quadratic in the number of nodes.
func (d *DenseCRF) Compute(x *labeling.FeatureGraph, y *labeling.Labeling, _ labeling.Action) (rank.Features, error) {
	if x.NumNodes() != y.NumNodes() {
		return nil, fmt.Errorf("%w: %d feature rows, %d labels",
			labeling.ErrSizeMismatch, x.NumNodes(), y.NumNodes())
	}
	n := x.NumNodes()
	if n > 0 && !y.ConfidencesAvailable() {
		return nil, labeling.ErrNoConfidences
	}
	if n > 0 && !x.HasLocations() {
		return nil, labeling.ErrNoLocations
	}
	classOf, err := classIndices(y, d.classes)
	if err != nil {
		return nil, err
	}

	nc := d.classes.NumClasses()
	phi := make(rank.Features, d.Size(x))
	unary, pair := phi[:nc], phi[nc:]

	for node := 0; node < n; node++ {
		c := classOf[node]
		unary[c] += 1 - y.Confidences[node][c]
	}
	if n > 0 {
		floats.Scale(1/float64(n), unary)
	}

	edges := 0
	for u := 0; u < n; u++ {
		for v := u + 1; v < n; v++ {
			edges++
			slot := PairIndex(nc, classOf[u], classOf[v]) * 2
			appearance, smoothness := denseKernels(x, u, v)
			if y.Label(u) == y.Label(v) {
				appearance, smoothness = 1-appearance, 1-smoothness
			}
			pair[slot] += appearance
			pair[slot+1] += smoothness
		}
	}
	if edges > 0 {
		floats.Scale(1/float64(edges), pair)
	}
	return phi, nil
}

func denseKernels(x *labeling.FeatureGraph, u, v int) (appearance, smoothness float64) {
	lu, lv := x.Locations[u], x.Locations[v]
	dx, dy := lu[0]-lv[0], lu[1]-lv[1]
	loc := dx*dx + dy*dy
	feat := floats.Distance(x.Features[u], x.Features[v], 2)
	feat *= feat

	appearance = math.Exp(-loc/(2*DenseThetaAlpha*DenseThetaAlpha) - feat/(2*DenseThetaBeta*DenseThetaBeta))
	smoothness = math.Exp(-loc / (2 * DenseThetaGamma * DenseThetaGamma))
	return appearance, smoothness
}
