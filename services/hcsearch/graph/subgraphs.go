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

import "github.com/AleutianAI/hcsearch/services/hcsearch/labeling"

// Subgraph is a maximal group of nodes connected by surviving edges.
type Subgraph struct {
	nodes      []int
	components *ComponentSet
}

// Nodes returns the member nodes in ascending order. Must not be modified.
func (g *Subgraph) Nodes() []int {
	return g.nodes
}

// Size returns the number of members.
func (g *Subgraph) Size() int {
	return len(g.nodes)
}

// Components returns the label-connected components inside the subgraph.
func (g *Subgraph) Components() *ComponentSet {
	return g.components
}

// SubgraphSet partitions all nodes of a labeling by a cut relation.
type SubgraphSet struct {
	y         *labeling.Labeling
	cuts      labeling.Adjacency
	subgraphs []*Subgraph
	good      []*Subgraph
}

// NewSubgraphSet groups the nodes of y into subgraphs joined by the
// surviving edges in cuts, then splits each subgraph into label components
// using y's label adjacency restricted to the subgraph.
//
// Inputs:
//   - y: The labeling being partitioned.
//   - cuts: Surviving edges, node → neighbors still connected. Nodes with
//     no entry become singleton subgraphs.
//   - classes: Class map for the exactly-one-positive test.
//
// Outputs:
//   - *SubgraphSet: Subgraphs ordered by smallest member.
func NewSubgraphSet(y *labeling.Labeling, cuts labeling.Adjacency, classes *labeling.ClassMap) *SubgraphSet {
	n := y.NumNodes()
	ds := NewDisjointSet(n)
	for i, list := range cuts {
		if i >= n {
			break
		}
		for _, j := range list {
			if j >= 0 && j < n {
				ds.Union(i, j)
			}
		}
	}

	set := &SubgraphSet{y: y, cuts: cuts}
	for _, group := range ds.Groups() {
		sub := &Subgraph{
			nodes:      group,
			components: NewSubsetComponentSet(y, group, classes),
		}
		set.subgraphs = append(set.subgraphs, sub)
		if sub.components.ExactlyOnePositive() {
			set.good = append(set.good, sub)
		}
	}
	return set
}

// Subgraphs returns the subgraphs ordered by smallest member.
func (s *SubgraphSet) Subgraphs() []*Subgraph {
	return s.subgraphs
}

// Len returns the number of subgraphs.
func (s *SubgraphSet) Len() int {
	return len(s.subgraphs)
}

// Good returns the subgraphs containing exactly one positive component.
func (s *SubgraphSet) Good() []*Subgraph {
	return s.good
}

// Cuts returns the surviving-edge relation the set was built from.
func (s *SubgraphSet) Cuts() labeling.Adjacency {
	return s.cuts
}

// Components returns every component of every subgraph, in subgraph order.
func (s *SubgraphSet) Components() []*Component {
	var out []*Component
	for _, sub := range s.subgraphs {
		out = append(out, sub.components.Components()...)
	}
	return out
}
