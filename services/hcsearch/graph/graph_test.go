// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

// gridFixture builds the 3x3 grid labeling
//
//	1 1 0
//	1 0 1
//	0 1 1
//
// with 4-neighbour adjacency.
func gridFixture() *labeling.Labeling {
	adj := labeling.NewAdjacency(9)
	for _, e := range [][2]int{
		{0, 1}, {0, 3}, {1, 2}, {1, 4}, {2, 5}, {3, 4},
		{3, 6}, {4, 5}, {4, 7}, {5, 8}, {6, 7}, {7, 8},
	} {
		adj.AddEdge(e[0], e[1])
	}
	return labeling.NewLabeling([]int{1, 1, 0, 1, 0, 1, 0, 1, 1}, adj)
}

func gridCuts() labeling.Adjacency {
	cuts := labeling.NewAdjacency(9)
	entries := map[int][]int{
		0: {3}, 1: {2, 4}, 2: {1, 5}, 3: {0, 6}, 4: {1, 5},
		5: {2, 4, 8}, 6: {3, 7}, 7: {6}, 8: {5},
	}
	for i, list := range entries {
		for _, j := range list {
			cuts.AddDirected(i, j)
		}
	}
	return cuts
}

func TestDisjointSet_Union(t *testing.T) {
	ds := NewDisjointSet(10)

	ds.Union(1, 2)
	if ds.FindSet(1) != ds.FindSet(2) {
		t.Error("1 and 2 should share a root after Union")
	}
	if ds.FindSet(1) == ds.FindSet(3) {
		t.Error("1 and 3 should not share a root")
	}

	ds.Union(1, 2)
	if ds.FindSet(1) != ds.FindSet(2) {
		t.Error("repeated Union should keep 1 and 2 joined")
	}
	if ds.SetSize(1) != 2 {
		t.Errorf("SetSize(1) = %d, want 2 after repeated Union", ds.SetSize(1))
	}

	ds.Union(2, 3)
	if ds.FindSet(1) != ds.FindSet(3) {
		t.Error("1 and 3 should share a root after Union(2, 3)")
	}
	if ds.SetSize(3) != 3 {
		t.Errorf("SetSize(3) = %d, want 3", ds.SetSize(3))
	}
}

func TestDisjointSet_WeightedUnionKeepsLargerRoot(t *testing.T) {
	ds := NewDisjointSet(5)
	ds.Union(0, 1)
	ds.Union(0, 2)
	root := ds.FindSet(0)

	ds.Union(4, 0)
	if ds.FindSet(4) != root {
		t.Errorf("FindSet(4) = %d, want larger tree root %d", ds.FindSet(4), root)
	}
}

func TestDisjointSet_PathCompression(t *testing.T) {
	ds := NewDisjointSet(6)
	for i := 0; i < 5; i++ {
		ds.Union(i, i+1)
	}
	for i := 0; i < 6; i++ {
		r := ds.FindSet(i)
		if ds.FindSet(r) != r {
			t.Errorf("FindSet(FindSet(%d)) != FindSet(%d)", i, i)
		}
		if i != r && ds.data[i] != r {
			t.Errorf("node %d points at %d, want root %d after compression", i, ds.data[i], r)
		}
	}
}

func TestComponentSet_GridFixture(t *testing.T) {
	y := gridFixture()
	set := NewComponentSet(y, labeling.DefaultClassMap())

	if set.Len() != 5 {
		t.Fatalf("Len = %d, want 5", set.Len())
	}
	for _, c := range set.Components() {
		switch c.Label() {
		case 0:
			if c.Size() != 1 {
				t.Errorf("label-0 component %v has size %d, want 1", c.Nodes(), c.Size())
			}
		case 1:
			if c.Size() != 3 {
				t.Errorf("label-1 component %v has size %d, want 3", c.Nodes(), c.Size())
			}
		default:
			t.Errorf("unexpected label %d", c.Label())
		}
	}

	first := set.Components()[0]
	if !reflect.DeepEqual(first.Nodes(), []int{0, 1, 3}) {
		t.Errorf("first component = %v, want [0 1 3]", first.Nodes())
	}
	if !reflect.DeepEqual(first.NeighborLabels(), []int{0}) {
		t.Errorf("NeighborLabels = %v, want [0]", first.NeighborLabels())
	}
	if !first.HasExternalNeighbors() {
		t.Error("first component should have external neighbours")
	}
}

func TestSubsetComponentSet_LargeGraph(t *testing.T) {
	const n = 100000
	adj := labeling.NewAdjacency(n)
	for i := 0; i+1 < n; i++ {
		adj.AddEdge(i, i+1)
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = 1
	}
	labels[n-2] = 0
	y := labeling.NewLabeling(labels, adj)

	// n-4 and n-3 touch through the subset; n-1 is cut off from n-3 by the
	// excluded n-2; 7 has no subset neighbor.
	subset := []int{7, n - 4, n - 3, n - 1}
	set := NewSubsetComponentSet(y, subset, labeling.DefaultClassMap())

	var got [][]int
	for _, c := range set.Components() {
		got = append(got, c.Nodes())
	}
	want := [][]int{{7}, {n - 4, n - 3}, {n - 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("components = %v, want %v", got, want)
	}
	if set.NumPositive() != 3 {
		t.Errorf("NumPositive = %d, want 3", set.NumPositive())
	}
}

func TestSubgraphSet_GridFixture(t *testing.T) {
	y := gridFixture()
	set := NewSubgraphSet(y, gridCuts(), labeling.DefaultClassMap())

	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}
	for _, sub := range set.Subgraphs() {
		if sub.Size() != 4 && sub.Size() != 5 {
			t.Errorf("subgraph size = %d, want 4 or 5", sub.Size())
		}
		n := sub.Components().Len()
		if n != 3 && n != 4 {
			t.Errorf("subgraph %v has %d components, want 3 or 4", sub.Nodes(), n)
		}
	}
	if got := set.Subgraphs()[0].Nodes(); !reflect.DeepEqual(got, []int{0, 3, 6, 7}) {
		t.Errorf("first subgraph = %v, want [0 3 6 7]", got)
	}
	if len(set.Components()) != 7 {
		t.Errorf("total components = %d, want 7", len(set.Components()))
	}
}

func TestSubgraphSet_GoodSubgraphs(t *testing.T) {
	classes, err := labeling.NewClassMap([]int{1, 0}, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	adj := labeling.NewAdjacency(4)
	adj.AddEdge(0, 1)
	adj.AddEdge(1, 2)
	adj.AddEdge(2, 3)
	y := labeling.NewLabeling([]int{1, 0, 1, 1}, adj)

	cuts := labeling.NewAdjacency(4)
	cuts.AddEdge(0, 1)
	cuts.AddEdge(2, 3)

	set := NewSubgraphSet(y, cuts, classes)
	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}
	if len(set.Good()) != 2 {
		t.Errorf("Good = %d subgraphs, want 2", len(set.Good()))
	}

	uncut := NewSubgraphSet(y, adj, classes)
	if len(uncut.Good()) != 0 {
		t.Errorf("uncut Good = %d, want 0 (two positive components)", len(uncut.Good()))
	}
}

func TestComponent_TopConfidentLabels(t *testing.T) {
	classes := labeling.DefaultClassMap()
	adj := labeling.NewAdjacency(2)
	adj.AddEdge(0, 1)
	y := labeling.NewLabeling([]int{1, 1}, adj)
	// class-index order: 1, 0, -1
	y.Confidences = [][]float64{{0.5, 0.1, 0.4}, {0.5, 0.3, 0.2}}

	c := NewComponentSet(y, classes).Components()[0]
	got, err := c.TopConfidentLabels(2)
	if err != nil {
		t.Fatalf("TopConfidentLabels: %v", err)
	}
	if !reflect.DeepEqual(got, []int{-1, 0}) {
		t.Errorf("TopConfidentLabels(2) = %v, want [-1 0]", got)
	}
}

// TestPartitionProperties checks the partition invariants on random graphs.
func TestPartitionProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	classes := labeling.DefaultClassMap()
	all := classes.IndexOrder()

	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.IntN(30)
		adj := labeling.NewAdjacency(n)
		cuts := labeling.NewAdjacency(n)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.Float64() < 0.15 {
					adj.AddEdge(i, j)
					if rng.Float64() < 0.5 {
						cuts.AddEdge(i, j)
					}
				}
			}
		}
		labels := make([]int, n)
		for i := range labels {
			labels[i] = all[rng.IntN(len(all))]
		}
		y := labeling.NewLabeling(labels, adj)

		ccs := NewComponentSet(y, classes)
		owner := make([]int, n)
		for i := range owner {
			owner[i] = -1
		}
		for ci, c := range ccs.Components() {
			for _, v := range c.Nodes() {
				if owner[v] != -1 {
					t.Fatalf("trial %d: node %d in two components", trial, v)
				}
				owner[v] = ci
				if y.Label(v) != c.Label() {
					t.Fatalf("trial %d: node %d label %d in component labelled %d", trial, v, y.Label(v), c.Label())
				}
			}
		}
		for i := 0; i < n; i++ {
			if owner[i] == -1 {
				t.Fatalf("trial %d: node %d not covered", trial, i)
			}
			for _, j := range adj.Neighbors(i) {
				if labels[i] == labels[j] && owner[i] != owner[j] {
					t.Fatalf("trial %d: equal-label neighbours %d,%d split", trial, i, j)
				}
			}
		}

		subs := NewSubgraphSet(y, cuts, classes)
		subOwner := make([]int, n)
		for si, sub := range subs.Subgraphs() {
			for _, v := range sub.Nodes() {
				subOwner[v] = si
			}
		}
		ds := NewDisjointSet(n)
		for i := 0; i < n; i++ {
			for _, j := range cuts.Neighbors(i) {
				ds.Union(i, j)
			}
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				same := subOwner[i] == subOwner[j]
				connected := ds.FindSet(i) == ds.FindSet(j)
				if same != connected {
					t.Fatalf("trial %d: nodes %d,%d same subgraph=%v connected=%v", trial, i, j, same, connected)
				}
			}
		}
	}
}
