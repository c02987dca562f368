// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package labeling

import (
	"fmt"
	"sort"
)

// LabelGraph is a per-node label vector plus adjacency.
type LabelGraph struct {
	Labels []int
	Adj    Adjacency
}

// FeatureGraph is a per-node feature matrix plus adjacency.
//
// Features has one row per node; every row has the same length.
type FeatureGraph struct {
	Features [][]float64
	Adj      Adjacency

	// Locations holds a normalized (x, y) position per node. Nil when the
	// dataset has no node locations.
	Locations [][2]float64
}

// HasLocations reports whether node positions are available.
func (x *FeatureGraph) HasLocations() bool {
	return x.Locations != nil
}

// NumNodes returns the number of nodes.
func (x *FeatureGraph) NumNodes() int {
	return len(x.Features)
}

// Dim returns the feature dimension (0 for an empty graph).
func (x *FeatureGraph) Dim() int {
	if len(x.Features) == 0 {
		return 0
	}
	return len(x.Features[0])
}

// Validate checks row lengths and adjacency shape.
func (x *FeatureGraph) Validate() error {
	if len(x.Adj) != len(x.Features) {
		return fmt.Errorf("%w: %d feature rows, %d adjacency rows", ErrSizeMismatch, len(x.Features), len(x.Adj))
	}
	d := x.Dim()
	for i, row := range x.Features {
		if len(row) != d {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrMalformedFile, i, len(row), d)
		}
	}
	for i, list := range x.Adj {
		for _, j := range list {
			if j < 0 || j >= len(x.Features) {
				return fmt.Errorf("%w: edge %d-%d", ErrNodeOutOfRange, i, j)
			}
		}
	}
	if x.Locations != nil && len(x.Locations) != len(x.Features) {
		return fmt.Errorf("%w: %d locations for %d nodes", ErrSizeMismatch, len(x.Locations), len(x.Features))
	}
	return nil
}

// Labeling is a candidate structured output: one label per node.
//
// Confidences, Cuts and NodeWeights are optional (nil when unavailable).
// Confidences is indexed [node][classIndex]. Cuts records the surviving
// edges of the stochastic cut that produced this labeling.
type Labeling struct {
	Graph       LabelGraph
	Confidences [][]float64
	Cuts        Adjacency
	NodeWeights []float64
}

// NewLabeling creates a labeling over the given labels and adjacency.
// The labels slice is copied.
func NewLabeling(labels []int, adj Adjacency) *Labeling {
	return &Labeling{
		Graph: LabelGraph{
			Labels: append([]int(nil), labels...),
			Adj:    adj,
		},
	}
}

// NumNodes returns the number of nodes.
func (y *Labeling) NumNodes() int {
	return len(y.Graph.Labels)
}

// Label returns the label of node.
func (y *Labeling) Label(node int) int {
	return y.Graph.Labels[node]
}

// Labels returns the label vector. The slice must not be modified.
func (y *Labeling) Labels() []int {
	return y.Graph.Labels
}

// ConfidencesAvailable reports whether per-node class confidences exist.
func (y *Labeling) ConfidencesAvailable() bool {
	return len(y.Confidences) == y.NumNodes() && y.NumNodes() > 0
}

// NodeWeightsAvailable reports whether per-node weights exist.
func (y *Labeling) NodeWeightsAvailable() bool {
	return len(y.NodeWeights) == y.NumNodes() && y.NumNodes() > 0
}

// HasNeighbors reports whether node has at least one neighbor.
func (y *Labeling) HasNeighbors(node int) bool {
	return len(y.Graph.Adj.Neighbors(node)) > 0
}

// NeighborLabels returns the distinct labels of node's neighbors, ascending.
func (y *Labeling) NeighborLabels(node int) []int {
	seen := make(map[int]bool)
	for _, j := range y.Graph.Adj.Neighbors(node) {
		seen[y.Graph.Labels[j]] = true
	}
	return sortedKeys(seen)
}

// Relabel returns a copy of y with every node in nodes set to label.
//
// The label slice is copied; adjacency, confidences and node weights are
// shared. Cuts is reset to nil; callers set it when the relabeling came from
// a stochastic cut.
func (y *Labeling) Relabel(nodes []int, label int) *Labeling {
	out := &Labeling{
		Graph: LabelGraph{
			Labels: append([]int(nil), y.Graph.Labels...),
			Adj:    y.Graph.Adj,
		},
		Confidences: y.Confidences,
		NodeWeights: y.NodeWeights,
	}
	for _, n := range nodes {
		out.Graph.Labels[n] = label
	}
	return out
}

// Clone returns a copy of y with its own label slice.
func (y *Labeling) Clone() *Labeling {
	out := y.Relabel(nil, 0)
	out.Cuts = y.Cuts
	return out
}

// SameLabels reports whether two labelings assign identical labels.
func (y *Labeling) SameLabels(other *Labeling) bool {
	if other == nil || len(y.Graph.Labels) != len(other.Graph.Labels) {
		return false
	}
	for i, l := range y.Graph.Labels {
		if other.Graph.Labels[i] != l {
			return false
		}
	}
	return true
}

// DiffNodes returns the node indices where y and other disagree.
func (y *Labeling) DiffNodes(other *Labeling) []int {
	var out []int
	for i, l := range y.Graph.Labels {
		if i >= len(other.Graph.Labels) || other.Graph.Labels[i] != l {
			out = append(out, i)
		}
	}
	return out
}

// MostConfidentLabel returns the label with the highest confidence at node.
func (y *Labeling) MostConfidentLabel(node int, classes *ClassMap) (int, error) {
	top, err := y.TopConfidentLabels(node, 1, classes)
	if err != nil {
		return 0, err
	}
	if len(top) == 0 {
		return 0, ErrNoConfidences
	}
	return top[0], nil
}

// TopConfidentLabels returns the k most confident labels at node.
//
// Labels are ranked by confidence descending; equal confidences are ordered
// by class index ascending. k larger than the class count returns every
// class; k == 0 returns nil.
//
// Outputs:
//   - []int: Labels in rank order.
//   - error: ErrNegativeK for k < 0, ErrNoConfidences without confidences.
func (y *Labeling) TopConfidentLabels(node, k int, classes *ClassMap) ([]int, error) {
	if k < 0 {
		return nil, ErrNegativeK
	}
	if k == 0 {
		return nil, nil
	}
	if !y.ConfidencesAvailable() {
		return nil, ErrNoConfidences
	}
	return RankByConfidence(y.Confidences[node], k, classes), nil
}

// RankByConfidence returns the labels of the k highest entries of conf,
// where conf is indexed by class index. Ties go to the lower class index.
func RankByConfidence(conf []float64, k int, classes *ClassMap) []int {
	order := make([]int, classes.NumClasses())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return confAt(conf, order[a]) > confAt(conf, order[b])
	})
	if k > len(order) {
		k = len(order)
	}
	out := make([]int, 0, k)
	for _, idx := range order[:k] {
		l, _ := classes.Label(idx)
		out = append(out, l)
	}
	return out
}

func confAt(conf []float64, i int) float64 {
	if i < len(conf) {
		return conf[i]
	}
	return 0
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
