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

import "github.com/RoaringBitmap/roaring/v2"

// Action is the set of nodes whose labels changed between a parent state
// and a child state. The zero Action is empty (root).
type Action struct {
	nodes *roaring.Bitmap
}

// NewAction creates an action over the given node indices.
func NewAction(nodes ...int) Action {
	bm := roaring.New()
	for _, n := range nodes {
		bm.Add(uint32(n))
	}
	return Action{nodes: bm}
}

// Contains reports whether node is part of the action.
func (a Action) Contains(node int) bool {
	if a.nodes == nil || node < 0 {
		return false
	}
	return a.nodes.Contains(uint32(node))
}

// Len returns the number of nodes in the action.
func (a Action) Len() int {
	if a.nodes == nil {
		return 0
	}
	return int(a.nodes.GetCardinality())
}

// IsEmpty reports whether the action changes no node.
func (a Action) IsEmpty() bool {
	return a.Len() == 0
}

// Nodes returns the node indices in ascending order.
func (a Action) Nodes() []int {
	if a.nodes == nil {
		return nil
	}
	raw := a.nodes.ToArray()
	out := make([]int, len(raw))
	for i, n := range raw {
		out[i] = int(n)
	}
	return out
}

// Candidate is a successor state proposed by a successor function.
type Candidate struct {
	Labeling *Labeling
	Action   Action
}

// Example is one input of a dataset: features, optional ground truth and an
// optional precomputed initial labeling.
type Example struct {
	Name    string
	X       *FeatureGraph
	Truth   *Labeling
	Initial *Labeling
}
