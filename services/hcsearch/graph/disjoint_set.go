// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the graph-partitioning primitives behind successor
// generation: a weighted union-find, label-connected components, and
// subgraphs induced by a cut relation.
//
// # Partition Invariant
//
// Every ComponentSet and SubgraphSet partitions its node set: each node is
// in exactly one component (subgraph), the parts are pairwise disjoint, and
// their union is the whole set.
//
// # Thread Safety
//
// Nothing in this package is safe for concurrent mutation. Sets are built
// once and then only read.
package graph

// DisjointSet is a union-find structure over node indices 0..n-1.
//
// Each entry is either a parent index or, at a root, the negated size of
// the tree rooted there.
type DisjointSet struct {
	data []int
}

// NewDisjointSet creates n singleton sets.
func NewDisjointSet(n int) *DisjointSet {
	data := make([]int, n)
	for i := range data {
		data[i] = -1
	}
	return &DisjointSet{data: data}
}

// Len returns the number of elements.
func (d *DisjointSet) Len() int {
	return len(d.data)
}

// FindSet returns the root of i's set, compressing the path so every visited
// node points directly at the root.
func (d *DisjointSet) FindSet(i int) int {
	root := i
	for d.data[root] >= 0 {
		root = d.data[root]
	}
	for i != root {
		next := d.data[i]
		d.data[i] = root
		i = next
	}
	return root
}

// Union merges the sets containing i and j. The smaller tree is attached
// under the root of the larger; on a tie j's root goes under i's root.
// Union of already-joined elements is a no-op.
func (d *DisjointSet) Union(i, j int) {
	ri, rj := d.FindSet(i), d.FindSet(j)
	if ri == rj {
		return
	}
	// sizes are stored negated: more negative means larger
	if d.data[rj] < d.data[ri] {
		d.data[rj] += d.data[ri]
		d.data[ri] = rj
		return
	}
	d.data[ri] += d.data[rj]
	d.data[rj] = ri
}

// SetSize returns the size of the set containing i.
func (d *DisjointSet) SetSize(i int) int {
	return -d.data[d.FindSet(i)]
}

// Groups returns the members of every set, each sorted ascending, ordered
// by smallest member.
func (d *DisjointSet) Groups() [][]int {
	slot := make(map[int]int)
	var groups [][]int
	for n := range d.data {
		r := d.FindSet(n)
		s, ok := slot[r]
		if !ok {
			s = len(groups)
			slot[r] = s
			groups = append(groups, nil)
		}
		groups[s] = append(groups[s], n)
	}
	return groups
}
