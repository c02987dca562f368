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

// locatedPair places two nodes with equal features one bandwidth apart.
func locatedPair(labels ...int) (*labeling.FeatureGraph, *labeling.Labeling) {
	adj := labeling.NewAdjacency(2)
	adj.AddEdge(0, 1)
	x := &labeling.FeatureGraph{
		Features:  [][]float64{{0}, {0}},
		Adj:       adj,
		Locations: [][2]float64{{0, 0}, {DenseThetaAlpha, 0}},
	}
	y := labeling.NewLabeling(labels, adj)
	y.Confidences = [][]float64{{0.8, 0.1, 0.1}, {0.3, 0.6, 0.1}}
	return x, y
}

func TestDenseCRF_Compute(t *testing.T) {
	f := NewDenseCRF(labeling.DefaultClassMap())

	x, y := locatedPair(1, 0)
	phi, err := f.Compute(x, y, labeling.Action{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(phi) != 15 || f.Size(x) != 15 {
		t.Fatalf("len = %d, Size = %d, want 15", len(phi), f.Size(x))
	}
	// Unary: (1 - p(label)) averaged over two nodes.
	if math.Abs(phi[0]-0.1) > eps || math.Abs(phi[1]-0.2) > eps || phi[2] != 0 {
		t.Errorf("unary = %v, want [0.1 0.2 0]", phi[:3])
	}
	// Pair (class 0, class 1) sits in slot 1; both kernels are exp(-1/2).
	want := math.Exp(-0.5)
	if math.Abs(phi[3+2]-want) > eps || math.Abs(phi[3+3]-want) > eps {
		t.Errorf("pairwise = %v, want %v in slots 5 and 6", phi[3:], want)
	}

	x, y = locatedPair(1, 1)
	phi, err = f.Compute(x, y, labeling.Action{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if math.Abs(phi[3+4]-(1-want)) > eps || math.Abs(phi[3+5]-(1-want)) > eps {
		t.Errorf("same-label pairwise = %v, want %v in slots 7 and 8", phi[3:], 1-want)
	}
}

func TestDenseCRF_Requirements(t *testing.T) {
	f := NewDenseCRF(labeling.DefaultClassMap())

	x, y := locatedPair(1, 0)
	y.Confidences = nil
	if _, err := f.Compute(x, y, labeling.Action{}); !errors.Is(err, labeling.ErrNoConfidences) {
		t.Errorf("without confidences err = %v, want ErrNoConfidences", err)
	}

	x, y = locatedPair(1, 0)
	x.Locations = nil
	if _, err := f.Compute(x, y, labeling.Action{}); !errors.Is(err, labeling.ErrNoLocations) {
		t.Errorf("without locations err = %v, want ErrNoLocations", err)
	}
}

func TestGlobal_Pooling(t *testing.T) {
	classes := labeling.DefaultClassMap()
	dict := [][]float64{{0}, {1}}

	sum, err := NewSumGlobal(classes, dict)
	if err != nil {
		t.Fatalf("NewSumGlobal: %v", err)
	}
	x, y := twoNodes(1, 1)
	phi, err := sum.Compute(x, y, labeling.Action{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(phi) != 18 || sum.Size(x) != 18 {
		t.Fatalf("len = %d, Size = %d, want 18", len(phi), sum.Size(x))
	}
	hist := phi[12:]
	if hist[0] != 0.5 || hist[1] != 0.5 {
		t.Errorf("sum histogram = %v, want 0.5 for both codewords of class 0", hist)
	}

	maxPool, err := NewMaxGlobal(classes, dict)
	if err != nil {
		t.Fatalf("NewMaxGlobal: %v", err)
	}
	x, y = twoNodes(1, 0)
	phi, err = maxPool.Compute(x, y, labeling.Action{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	hist = phi[12:]
	want := []float64{0, 1, 1, 0, 0, 0}
	for i := range want {
		if hist[i] != want[i] {
			t.Errorf("max histogram = %v, want %v", hist, want)
			break
		}
	}
}

func TestGlobal_DictionaryErrors(t *testing.T) {
	classes := labeling.DefaultClassMap()
	if _, err := NewSumGlobal(classes, nil); !errors.Is(err, ErrNoDictionary) {
		t.Errorf("nil dictionary err = %v, want ErrNoDictionary", err)
	}
	if _, err := NewMaxGlobal(classes, [][]float64{{0}, {0, 1}}); !errors.Is(err, ErrDictionaryDim) {
		t.Errorf("ragged dictionary err = %v, want ErrDictionaryDim", err)
	}

	g, err := NewSumGlobal(classes, [][]float64{{0, 0}})
	if err != nil {
		t.Fatalf("NewSumGlobal: %v", err)
	}
	x, y := twoNodes(1, 0)
	if _, err := g.Compute(x, y, labeling.Action{}); !errors.Is(err, ErrDictionaryDim) {
		t.Errorf("mismatched codeword err = %v, want ErrDictionaryDim", err)
	}
}
