// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package successor

import (
	"fmt"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

// Flipbit relabels one node at a time.
type Flipbit struct {
	policy        LabelPolicy
	maxCandidates int
}

// NewFlipbit creates a flipbit function. maxCandidates <= 0 disables the
// candidate bound.
func NewFlipbit(policy LabelPolicy, maxCandidates int) *Flipbit {
	return &Flipbit{policy: policy, maxCandidates: maxCandidates}
}

// Name implements Function.
func (f *Flipbit) Name() string {
	return "flipbit" + f.policy.suffix()
}

// Successors implements Function.
func (f *Flipbit) Successors(e *env.Env, _ *labeling.FeatureGraph, y *labeling.Labeling) ([]labeling.Candidate, error) {
	var cands []labeling.Candidate
	for node := 0; node < y.NumNodes(); node++ {
		labels, err := f.nodeLabels(e, y, node)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", node, err)
		}
		cands = append(cands, relabelings(y, []int{node}, labels, nil)...)
	}
	return finish(e, f.Name(), cands, f.maxCandidates), nil
}

func (f *Flipbit) nodeLabels(e *env.Env, y *labeling.Labeling, node int) ([]int, error) {
	own := y.Label(node)
	if f.policy == AllLabels || !y.HasNeighbors(node) {
		return finalizeLabels(e.Classes.Labels(), own), nil
	}
	labels := y.NeighborLabels(node)
	if f.policy == ConfidencesNeighborLabels {
		top, err := y.TopConfidentLabels(node, topK(e.Classes), e.Classes)
		if err != nil {
			return nil, err
		}
		labels = append(labels, top...)
	}
	return finalizeLabels(labels, own), nil
}
