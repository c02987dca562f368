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

import "sort"

// Adjacency maps each node index to its sorted, duplicate-free neighbor list.
//
// The same type records both graph adjacency (symmetric) and the surviving
// edges of a cut. Iteration order is always ascending node index so that
// every consumer of randomness sees edges in a reproducible order.
type Adjacency [][]int

// NewAdjacency creates an adjacency over n nodes with no edges.
func NewAdjacency(n int) Adjacency {
	return make(Adjacency, n)
}

// Len returns the number of nodes.
func (a Adjacency) Len() int {
	return len(a)
}

// AddEdge inserts the undirected edge {i, j}.
func (a Adjacency) AddEdge(i, j int) {
	a.AddDirected(i, j)
	a.AddDirected(j, i)
}

// AddDirected inserts the directed entry j into i's neighbor list.
func (a Adjacency) AddDirected(i, j int) {
	list := a[i]
	pos := sort.SearchInts(list, j)
	if pos < len(list) && list[pos] == j {
		return
	}
	list = append(list, 0)
	copy(list[pos+1:], list[pos:])
	list[pos] = j
	a[i] = list
}

// Has reports whether j is in i's neighbor list.
func (a Adjacency) Has(i, j int) bool {
	if i < 0 || i >= len(a) {
		return false
	}
	list := a[i]
	pos := sort.SearchInts(list, j)
	return pos < len(list) && list[pos] == j
}

// Neighbors returns the neighbor list of node i. The slice must not be modified.
func (a Adjacency) Neighbors(i int) []int {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// NumDirected returns the number of directed adjacency entries.
func (a Adjacency) NumDirected() int {
	n := 0
	for _, list := range a {
		n += len(list)
	}
	return n
}

// Symmetric reports whether j ∈ a[i] ⇔ i ∈ a[j] holds for every entry.
func (a Adjacency) Symmetric() bool {
	for i, list := range a {
		for _, j := range list {
			if !a.Has(j, i) {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (a Adjacency) Clone() Adjacency {
	if a == nil {
		return nil
	}
	out := make(Adjacency, len(a))
	for i, list := range a {
		if len(list) > 0 {
			out[i] = append([]int(nil), list...)
		}
	}
	return out
}
