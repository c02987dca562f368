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
	"fmt"
	"math"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
)

// mutexSlots orders the four relation slots of a class pair.
var mutexSlots = [...]labeling.Relation{labeling.RelLeft, labeling.RelRight, labeling.RelUp, labeling.RelDown}

// StandardPrune describes a candidate for the prune ranker rather than a
// full labeling. It concatenates:
//
//	hole     1       the action relabels a region whose neighbors all share one other label
//	mutex    4·pairs per class pair and relation, 1 when an action node sits in an exclusive arrangement
//	spread   2·nc    per-class sample standard deviation of x, then of y
//
// Requires locations on x. Without a table every differing arrangement
// counts as exclusive.
type StandardPrune struct {
	classes *labeling.ClassMap
	mutex   *labeling.Mutex
}

// NewStandardPrune creates prune features over the given table, which may
// be nil.
func NewStandardPrune(classes *labeling.ClassMap, mutex *labeling.Mutex) *StandardPrune {
	return &StandardPrune{classes: classes, mutex: mutex}
}

// SetMutex replaces the table.
func (p *StandardPrune) SetMutex(m *labeling.Mutex) { p.mutex = m }

// Name implements Function.
func (p *StandardPrune) Name() string { return "standard_prune" }

// Size implements Function.
func (p *StandardPrune) Size(_ *labeling.FeatureGraph) int {
	nc := p.classes.NumClasses()
	return 1 + len(mutexSlots)*NumPairs(nc) + 2*nc
}

// Compute implements Function.
func (p *StandardPrune) Compute(x *labeling.FeatureGraph, y *labeling.Labeling, action labeling.Action) (rank.Features, error) {
	if x.NumNodes() != y.NumNodes() {
		return nil, fmt.Errorf("%w: %d feature rows, %d labels",
			labeling.ErrSizeMismatch, x.NumNodes(), y.NumNodes())
	}
	if x.NumNodes() > 0 && !x.HasLocations() {
		return nil, labeling.ErrNoLocations
	}
	classOf, err := classIndices(y, p.classes)
	if err != nil {
		return nil, err
	}
	nc := p.classes.NumClasses()
	phi := make(rank.Features, p.Size(x))
	mutexLen := len(mutexSlots) * NumPairs(nc)

	phi[0] = p.hole(y, action)
	p.fillMutex(phi[1:1+mutexLen], x, y, action, classOf)
	fillSpread(phi[1+mutexLen:], x, classOf, nc)
	return phi, nil
}

func (p *StandardPrune) hole(y *labeling.Labeling, action labeling.Action) float64 {
	if action.IsEmpty() {
		return 0
	}
	neighbors := make(map[int]bool)
	actionLabel := 0
	for _, node := range action.Nodes() {
		for _, l := range y.NeighborLabels(node) {
			neighbors[l] = true
		}
		actionLabel = y.Label(node)
	}
	if len(neighbors) != 1 {
		return 0
	}
	for l := range neighbors {
		if l != actionLabel {
			return 1
		}
	}
	return 0
}

func (p *StandardPrune) fillMutex(phi []float64, x *labeling.FeatureGraph, y *labeling.Labeling, action labeling.Action, classOf []int) {
	nc := p.classes.NumClasses()
	for _, u := range action.Nodes() {
		for v := 0; v < y.NumNodes(); v++ {
			a, b := y.Label(u), y.Label(v)
			if u == v || a == b {
				continue
			}
			base := PairIndex(nc, classOf[u], classOf[v]) * len(mutexSlots)
			h, vert := labeling.Relations(x, u, v)
			for i, rel := range mutexSlots {
				if (rel == h || rel == vert) && p.mutex.Exclusive(a, b, rel) {
					phi[base+i] = 1
				}
			}
		}
	}
}

// fillSpread writes the per-class standard deviation of node positions.
// Classes with fewer than two nodes get zero.
func fillSpread(phi []float64, x *labeling.FeatureGraph, classOf []int, nc int) {
	count := make([]float64, nc)
	mean := make([][2]float64, nc)
	for node, c := range classOf {
		count[c]++
		mean[c][0] += x.Locations[node][0]
		mean[c][1] += x.Locations[node][1]
	}
	for c := range mean {
		if count[c] > 1 {
			mean[c][0] /= count[c]
			mean[c][1] /= count[c]
		}
	}
	for node, c := range classOf {
		if count[c] <= 1 {
			continue
		}
		dx := x.Locations[node][0] - mean[c][0]
		dy := x.Locations[node][1] - mean[c][1]
		phi[c] += dx * dx
		phi[nc+c] += dy * dy
	}
	for c := 0; c < nc; c++ {
		if count[c] <= 1 {
			continue
		}
		phi[c] = math.Sqrt(phi[c] / (count[c] - 1))
		phi[nc+c] = math.Sqrt(phi[nc+c] / (count[c] - 1))
	}
}
