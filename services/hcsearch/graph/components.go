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
	"sort"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

// Component is a maximal set of adjacent nodes sharing one label.
type Component struct {
	nodes []int
	label int
	set   *ComponentSet
}

// Nodes returns the member nodes in ascending order. Must not be modified.
func (c *Component) Nodes() []int {
	return c.nodes
}

// Label returns the label shared by every member.
func (c *Component) Label() int {
	return c.label
}

// Size returns the number of members.
func (c *Component) Size() int {
	return len(c.nodes)
}

// Set returns the component set this component belongs to.
func (c *Component) Set() *ComponentSet {
	return c.set
}

// Contains reports whether node is a member.
func (c *Component) Contains(node int) bool {
	i := sort.SearchInts(c.nodes, node)
	return i < len(c.nodes) && c.nodes[i] == node
}

// NeighborLabels returns the distinct labels adjacent to any member,
// excluding the component's own label, in ascending order.
func (c *Component) NeighborLabels() []int {
	y := c.set.y
	seen := make(map[int]bool)
	for _, n := range c.nodes {
		for _, m := range y.Graph.Adj.Neighbors(n) {
			if l := y.Label(m); l != c.label {
				seen[l] = true
			}
		}
	}
	out := make([]int, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// HasExternalNeighbors reports whether some member has a neighbor outside
// the component.
func (c *Component) HasExternalNeighbors() bool {
	adj := c.set.y.Graph.Adj
	for _, n := range c.nodes {
		for _, m := range adj.Neighbors(n) {
			if !c.Contains(m) {
				return true
			}
		}
	}
	return false
}

// TopConfidentLabels returns up to k labels ranked by the member-averaged
// class confidence, excluding the component's own label. Ties go to the
// lower class index.
//
// Outputs:
//   - []int: Labels in rank order.
//   - error: labeling.ErrNegativeK, or labeling.ErrNoConfidences when the
//     labeling carries no confidences.
func (c *Component) TopConfidentLabels(k int) ([]int, error) {
	if k < 0 {
		return nil, labeling.ErrNegativeK
	}
	if k == 0 {
		return nil, nil
	}
	y := c.set.y
	if !y.ConfidencesAvailable() {
		return nil, labeling.ErrNoConfidences
	}
	classes := c.set.classes
	avg := make([]float64, classes.NumClasses())
	for _, n := range c.nodes {
		row := y.Confidences[n]
		for i := range avg {
			if i < len(row) {
				avg[i] += row[i]
			}
		}
	}
	for i := range avg {
		avg[i] /= float64(len(c.nodes))
	}

	ranked := labeling.RankByConfidence(avg, classes.NumClasses(), classes)
	out := make([]int, 0, k)
	for _, l := range ranked {
		if l == c.label {
			continue
		}
		out = append(out, l)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// ComponentSet partitions a node set into label-connected components.
type ComponentSet struct {
	y                  *labeling.Labeling
	classes            *labeling.ClassMap
	components         []*Component
	numPositive        int
	exactlyOnePositive bool
}

// NewComponentSet partitions every node of y into label-connected components.
func NewComponentSet(y *labeling.Labeling, classes *labeling.ClassMap) *ComponentSet {
	return NewSubsetComponentSet(y, nil, classes)
}

// NewSubsetComponentSet partitions the given nodes into label-connected
// components, considering only edges with both endpoints inside the subset.
// Work and memory scale with the subset and its edges, not with the graph.
//
// Inputs:
//   - y: The labeling. Adjacency is taken from y.Graph.Adj.
//   - nodes: Ascending node subset. Nil means every node.
//   - classes: Class map used to tell background from foreground.
func NewSubsetComponentSet(y *labeling.Labeling, nodes []int, classes *labeling.ClassMap) *ComponentSet {
	// local maps a graph node to its position in nodes; nil means identity.
	var local map[int]int
	if nodes == nil {
		nodes = make([]int, y.NumNodes())
		for i := range nodes {
			nodes[i] = i
		}
	} else {
		local = make(map[int]int, len(nodes))
		for i, v := range nodes {
			local[v] = i
		}
	}

	ds := NewDisjointSet(len(nodes))
	for i, v := range nodes {
		for _, w := range y.Graph.Adj.Neighbors(v) {
			j, ok := w, true
			if local != nil {
				j, ok = local[w]
			}
			if ok && y.Label(v) == y.Label(w) {
				ds.Union(i, j)
			}
		}
	}

	set := &ComponentSet{y: y, classes: classes}
	for _, group := range ds.Groups() {
		members := make([]int, len(group))
		for k, i := range group {
			members[k] = nodes[i]
		}
		c := &Component{nodes: members, label: y.Label(members[0]), set: set}
		set.components = append(set.components, c)
		if classes != nil && !classes.IsBackground(c.label) {
			set.numPositive++
		}
	}
	set.exactlyOnePositive = set.numPositive == 1
	return set
}

// Components returns the components ordered by smallest member.
func (s *ComponentSet) Components() []*Component {
	return s.components
}

// Len returns the number of components.
func (s *ComponentSet) Len() int {
	return len(s.components)
}

// NumPositive returns the number of components with a non-background label.
func (s *ComponentSet) NumPositive() int {
	return s.numPositive
}

// ExactlyOnePositive reports whether exactly one component carries a
// non-background label.
func (s *ComponentSet) ExactlyOnePositive() bool {
	return s.exactlyOnePositive
}

// Labeling returns the labeling the set was built from.
func (s *ComponentSet) Labeling() *labeling.Labeling {
	return s.y
}
