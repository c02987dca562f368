// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package successor

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/graph"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/metrics"
)

// CutMode selects how edges are cut.
type CutMode string

const (
	// CutIndependent cuts each directed entry with probability 1 - w.
	CutIndependent CutMode = "independent"

	// CutState draws one threshold θ per call and cuts every entry with
	// w <= θ.
	CutState CutMode = "state"
)

// weightedEdge is one directed adjacency entry with its affinity weight.
type weightedEdge struct {
	u, v int
	w    float64
}

// KL returns the unnormalized discrete KL divergence Σ p·log(p/q) together
// with the number of degenerate terms skipped. Terms with p == 0 contribute
// nothing. Terms with q == 0, or where p/q is not positive, are degenerate.
func KL(p, q []float64) (float64, int) {
	n := min(len(p), len(q))
	var kl float64
	degenerate := 0
	for i := 0; i < n; i++ {
		if p[i] == 0 {
			continue
		}
		ratio := p[i] / q[i]
		if q[i] == 0 || ratio <= 0 || math.IsInf(ratio, 0) || math.IsNaN(ratio) {
			degenerate++
			continue
		}
		kl += p[i] * math.Log(ratio)
	}
	return kl, degenerate
}

// EdgeWeight returns exp(-(KL(a,b)+KL(b,a))·T/2) and the degenerate count.
func EdgeWeight(a, b []float64, temperature float64) (float64, int) {
	ab, d1 := KL(a, b)
	ba, d2 := KL(b, a)
	return math.Exp(-(ab + ba) * temperature / 2), d1 + d2
}

// edgeWeights computes the weight of every directed adjacency entry of y.
func edgeWeights(e *env.Env, x *labeling.FeatureGraph, y *labeling.Labeling, temperature float64) ([]weightedEdge, error) {
	if x.NumNodes() != y.NumNodes() {
		return nil, fmt.Errorf("%w: %d feature rows, %d labels",
			labeling.ErrSizeMismatch, x.NumNodes(), y.NumNodes())
	}
	adj := y.Graph.Adj
	edges := make([]weightedEdge, 0, adj.NumDirected())
	degenerate := 0
	for u := 0; u < adj.Len(); u++ {
		for _, v := range adj.Neighbors(u) {
			w, d := EdgeWeight(x.Features[u], x.Features[v], temperature)
			degenerate += d
			edges = append(edges, weightedEdge{u: u, v: v, w: w})
		}
	}
	if degenerate > 0 {
		metrics.RecordKLDegenerate(degenerate)
		e.Logger.Warn("skipped degenerate KL terms",
			slog.Int("terms", degenerate),
			slog.Int("edges", len(edges)))
	}
	return edges, nil
}

// cutEdges returns the surviving-edge relation. An undirected edge
// survives if either of its directed entries survives.
func cutEdges(e *env.Env, n int, edges []weightedEdge, mode CutMode, theta float64) labeling.Adjacency {
	kept := labeling.NewAdjacency(n)
	for _, edge := range edges {
		var cut bool
		if mode == CutState {
			cut = edge.w <= theta
		} else {
			cut = e.Rand.Float64() <= 1-edge.w
		}
		if !cut {
			kept.AddEdge(edge.u, edge.v)
		}
	}
	return kept
}

// componentLabels returns the relabeling targets of a component.
func componentLabels(e *env.Env, policy LabelPolicy, c *graph.Component) ([]int, error) {
	var labels []int
	switch policy {
	case NeighborLabels:
		if c.HasExternalNeighbors() {
			labels = c.NeighborLabels()
		} else {
			labels = e.Classes.Labels()
		}
	case ConfidencesNeighborLabels:
		top, err := c.TopConfidentLabels(topK(e.Classes))
		if err != nil {
			return nil, err
		}
		labels = top
		if c.HasExternalNeighbors() {
			labels = append(labels, c.NeighborLabels()...)
		}
	default:
		labels = e.Classes.Labels()
	}
	return finalizeLabels(labels, c.Label()), nil
}

// candidatesFromSubgraphs emits one candidate per (component, label) pair.
func candidatesFromSubgraphs(e *env.Env, policy LabelPolicy, y *labeling.Labeling, set *graph.SubgraphSet) ([]labeling.Candidate, error) {
	var cands []labeling.Candidate
	labelSum, units := 0, 0
	for _, c := range set.Components() {
		labels, err := componentLabels(e, policy, c)
		if err != nil {
			return nil, fmt.Errorf("component at node %d: %w", c.Nodes()[0], err)
		}
		labelSum += len(labels)
		units++
		cands = append(cands, relabelings(y, c.Nodes(), labels, set.Cuts())...)
	}
	if units > 0 {
		e.Logger.Debug("component labels",
			slog.Int("components", units),
			slog.Float64("avg_labels", float64(labelSum)/float64(units)))
	}
	return cands, nil
}

// Stochastic cuts edges at random and relabels label components of the
// resulting subgraphs.
type Stochastic struct {
	policy        LabelPolicy
	mode          CutMode
	temperature   float64
	maxCandidates int
}

// NewStochastic creates a stochastic function. A zero temperature selects
// DefaultTemperature.
func NewStochastic(policy LabelPolicy, mode CutMode, temperature float64, maxCandidates int) *Stochastic {
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	if mode == "" {
		mode = CutIndependent
	}
	return &Stochastic{policy: policy, mode: mode, temperature: temperature, maxCandidates: maxCandidates}
}

// Name implements Function.
func (s *Stochastic) Name() string {
	return "stochastic" + s.policy.suffix()
}

// Successors implements Function.
func (s *Stochastic) Successors(e *env.Env, x *labeling.FeatureGraph, y *labeling.Labeling) ([]labeling.Candidate, error) {
	theta := e.Rand.Float64()
	edges, err := edgeWeights(e, x, y, s.temperature)
	if err != nil {
		return nil, err
	}
	kept := cutEdges(e, y.NumNodes(), edges, s.mode, theta)
	set := graph.NewSubgraphSet(y, kept, e.Classes)
	e.Logger.Debug("edges cut",
		slog.String("mode", string(s.mode)),
		slog.Float64("threshold", theta),
		slog.Int("subgraphs", set.Len()))

	cands, err := candidatesFromSubgraphs(e, s.policy, y, set)
	if err != nil {
		return nil, err
	}
	return finish(e, s.Name(), cands, s.maxCandidates), nil
}
