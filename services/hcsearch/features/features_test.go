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
	"errors"
	"math"
	"testing"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

const eps = 1e-12

func twoNodes(labels ...int) (*labeling.FeatureGraph, *labeling.Labeling) {
	adj := labeling.NewAdjacency(2)
	adj.AddEdge(0, 1)
	x := &labeling.FeatureGraph{Features: [][]float64{{1}, {0}}, Adj: adj}
	return x, labeling.NewLabeling(labels, adj)
}

func TestPairIndex_Bijective(t *testing.T) {
	for nc := 1; nc <= 5; nc++ {
		seen := make(map[int]bool)
		for a := 0; a < nc; a++ {
			for b := a; b < nc; b++ {
				idx := PairIndex(nc, a, b)
				if idx != PairIndex(nc, b, a) {
					t.Errorf("PairIndex(%d, %d, %d) not symmetric", nc, a, b)
				}
				if idx < 0 || idx >= NumPairs(nc) {
					t.Errorf("PairIndex(%d, %d, %d) = %d out of range", nc, a, b, idx)
				}
				if seen[idx] {
					t.Errorf("PairIndex(%d, %d, %d) = %d collides", nc, a, b, idx)
				}
				seen[idx] = true
			}
		}
	}
}

func TestStandard_Compute(t *testing.T) {
	x, y := twoNodes(1, 1)
	f := NewStandard(labeling.DefaultClassMap())

	phi, err := f.Compute(x, y, labeling.Action{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(phi) != 12 || f.Size(x) != 12 {
		t.Fatalf("len = %d, Size = %d, want 12", len(phi), f.Size(x))
	}
	want := make([]float64, 12)
	want[0], want[1] = 1, 0.5
	want[6+PairIndex(3, 0, 0)] = 1 - math.Exp(-1)
	for i := range want {
		if math.Abs(phi[i]-want[i]) > eps {
			t.Errorf("phi[%d] = %v, want %v", i, phi[i], want[i])
		}
	}
}

func TestStandard_DifferingLabels(t *testing.T) {
	x, y := twoNodes(1, 0)
	phi, err := NewStandard(labeling.DefaultClassMap()).Compute(x, y, labeling.Action{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	slot := 6 + PairIndex(3, 0, 1)
	if math.Abs(phi[slot]-math.Exp(-1)) > eps {
		t.Errorf("pairwise slot = %v, want exp(-1)", phi[slot])
	}
}

func TestStandardPairwiseCounts(t *testing.T) {
	x, y := twoNodes(0, -1)
	f := NewStandardPairwiseCounts(labeling.DefaultClassMap())
	phi, err := f.Compute(x, y, labeling.Action{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(phi) != 3*2+6 {
		t.Fatalf("len = %d, want 12", len(phi))
	}
	if got := phi[6+PairIndex(3, 1, 2)]; got != 1 {
		t.Errorf("count slot = %v, want 1 (both directions averaged)", got)
	}
}

func TestStandardAlt_Compute(t *testing.T) {
	x, y := twoNodes(1, 1)
	f := NewStandardAlt(labeling.DefaultClassMap())
	phi, err := f.Compute(x, y, labeling.Action{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(phi) != 10 {
		t.Fatalf("len = %d, want 10", len(phi))
	}
	if phi[0] != 2 || phi[1] != 1 {
		t.Errorf("unary = %v, want [2 1 ...]", phi[:2])
	}
	if math.Abs(phi[6]-(1-math.Exp(-1))) > eps {
		t.Errorf("same-label slot = %v, want 1-exp(-1)", phi[6])
	}

	x, y = twoNodes(1, -1)
	phi, _ = f.Compute(x, y, labeling.Action{})
	if math.Abs(phi[9]-math.Exp(-1)) > eps {
		t.Errorf("differing-label slot = %v, want exp(-1)", phi[9])
	}
}

func TestUnaryConf(t *testing.T) {
	x, y := twoNodes(1, 0)
	f := NewUnaryConf(labeling.DefaultClassMap())
	if _, err := f.Compute(x, y, labeling.Action{}); !errors.Is(err, labeling.ErrNoConfidences) {
		t.Fatalf("Compute without confidences = %v, want ErrNoConfidences", err)
	}

	y.Confidences = [][]float64{{0.8, 0.1, 0.1}, {0.3, 0.6, 0.1}}
	phi, err := f.Compute(x, y, labeling.Action{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(phi) != 3 {
		t.Fatalf("len = %d, want 3", len(phi))
	}
	if math.Abs(phi[0]-0.1) > eps || math.Abs(phi[1]-0.2) > eps {
		t.Errorf("phi = %v, want [0.1 0.2 0]", phi)
	}
}

func TestCompute_Errors(t *testing.T) {
	x, y := twoNodes(1, 7)
	if _, err := NewStandard(labeling.DefaultClassMap()).Compute(x, y, labeling.Action{}); !errors.Is(err, labeling.ErrUnknownClass) {
		t.Errorf("unknown label err = %v, want ErrUnknownClass", err)
	}
	short := labeling.NewLabeling([]int{1}, labeling.NewAdjacency(1))
	if _, err := NewStandard(labeling.DefaultClassMap()).Compute(x, short, labeling.Action{}); !errors.Is(err, labeling.ErrSizeMismatch) {
		t.Errorf("size mismatch err = %v, want ErrSizeMismatch", err)
	}
}

func TestByName(t *testing.T) {
	classes := labeling.DefaultClassMap()
	for _, name := range []string{"standard", "standard_alt", "standard_conf", "unary", "unary_conf",
		"standard_pairwise_counts", "standard_conf_pairwise_counts", "dense_crf", "sum_global",
		"max_global", "standard_prune"} {
		f, err := ByName(name, classes, WithDictionary([][]float64{{0}}), WithMutex(labeling.NewMutex(0)))
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if f.Name() != name {
			t.Errorf("Name = %q, want %q", f.Name(), name)
		}
	}
	if _, err := ByName("densecrf", classes); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("ByName(densecrf) = %v, want ErrUnknownFunction", err)
	}
	if _, err := ByName("sum_global", classes); !errors.Is(err, ErrNoDictionary) {
		t.Errorf("ByName(sum_global) without dictionary = %v, want ErrNoDictionary", err)
	}
}
