// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package features computes joint feature vectors Φ(x, y) over a feature
// graph and a labeling, the input to the heuristic and cost models.
//
// The standard family concatenates a unary term (per-class statistics of
// node features) and a pairwise term (per-class-pair statistics of edges).
// Variants differ in how each term is filled:
//
//	unary:    raw (bias + features), confidence (1 - p(label)), none
//	pairwise: contrast-sensitive exp(-Δ²), co-occurrence counts, none
//
// DenseCRF, Global and StandardPrune sit outside the family: a fully
// connected pairwise term, a bag-of-words global term, and descriptors of
// a pruning candidate.
package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
	"gonum.org/v1/gonum/floats"
)

// ErrUnknownFunction is returned by ByName for an unknown name.
var ErrUnknownFunction = errors.New("unknown feature function")

// Function computes Φ(x, y).
type Function interface {
	// Compute returns the feature vector of labeling y over graph x. The
	// action that produced y is available for action-aware variants.
	Compute(x *labeling.FeatureGraph, y *labeling.Labeling, action labeling.Action) (rank.Features, error)

	// Size returns the length of vectors produced for graphs of x's dimension.
	Size(x *labeling.FeatureGraph) int

	// Name identifies the function in config and logs.
	Name() string
}

// UnaryKind selects the unary term.
type UnaryKind int

const (
	// UnaryRaw adds a bias and the node's features to its class slot.
	UnaryRaw UnaryKind = iota

	// UnaryConfidence adds 1 - confidence(label) to its class slot.
	UnaryConfidence
)

// PairwiseKind selects the pairwise term.
type PairwiseKind int

const (
	// PairwiseNone omits the pairwise term.
	PairwiseNone PairwiseKind = iota

	// PairwiseContrast adds exp(-Δ²) for differing labels and
	// 1 - exp(-Δ²) for equal labels, per feature dimension.
	PairwiseContrast

	// PairwiseCounts adds 1 per edge to the class pair's slot.
	PairwiseCounts
)

// Standard is the per-class unary plus per-class-pair pairwise family.
// Both terms are averaged: the unary term over nodes and the pairwise term
// over directed adjacency entries.
type Standard struct {
	classes  *labeling.ClassMap
	name     string
	unary    UnaryKind
	pairwise PairwiseKind
}

// NewStandard returns raw unary with contrast-sensitive pairwise.
func NewStandard(classes *labeling.ClassMap) *Standard {
	return &Standard{classes: classes, name: "standard", unary: UnaryRaw, pairwise: PairwiseContrast}
}

// NewStandardConf returns confidence unary with contrast-sensitive pairwise.
func NewStandardConf(classes *labeling.ClassMap) *Standard {
	return &Standard{classes: classes, name: "standard_conf", unary: UnaryConfidence, pairwise: PairwiseContrast}
}

// NewUnary returns the raw unary term alone.
func NewUnary(classes *labeling.ClassMap) *Standard {
	return &Standard{classes: classes, name: "unary", unary: UnaryRaw, pairwise: PairwiseNone}
}

// NewUnaryConf returns the confidence unary term alone.
func NewUnaryConf(classes *labeling.ClassMap) *Standard {
	return &Standard{classes: classes, name: "unary_conf", unary: UnaryConfidence, pairwise: PairwiseNone}
}

// NewStandardPairwiseCounts returns raw unary with co-occurrence counts.
func NewStandardPairwiseCounts(classes *labeling.ClassMap) *Standard {
	return &Standard{classes: classes, name: "standard_pairwise_counts", unary: UnaryRaw, pairwise: PairwiseCounts}
}

// NewStandardConfPairwiseCounts returns confidence unary with co-occurrence
// counts.
func NewStandardConfPairwiseCounts(classes *labeling.ClassMap) *Standard {
	return &Standard{classes: classes, name: "standard_conf_pairwise_counts", unary: UnaryConfidence, pairwise: PairwiseCounts}
}

// Name implements Function.
func (s *Standard) Name() string { return s.name }

func (s *Standard) unaryDim(featureDim int) int {
	if s.unary == UnaryConfidence {
		return 1
	}
	return 1 + featureDim
}

func (s *Standard) pairwiseDim(featureDim int) int {
	switch s.pairwise {
	case PairwiseContrast:
		return featureDim
	case PairwiseCounts:
		return 1
	default:
		return 0
	}
}

// NumPairs returns the number of unordered class pairs, including a class
// paired with itself.
func NumPairs(numClasses int) int {
	return numClasses * (numClasses + 1) / 2
}

// PairIndex maps two class indices to their unordered pair slot.
func PairIndex(numClasses, a, b int) int {
	i, j := min(a, b), max(a, b)
	return (numClasses*(numClasses+1)-(numClasses-i)*(numClasses-i+1))/2 + (numClasses - 1 - j)
}

// Size implements Function.
func (s *Standard) Size(x *labeling.FeatureGraph) int {
	nc := s.classes.NumClasses()
	d := x.Dim()
	return nc*s.unaryDim(d) + NumPairs(nc)*s.pairwiseDim(d)
}

// Compute implements Function.
func (s *Standard) Compute(x *labeling.FeatureGraph, y *labeling.Labeling, _ labeling.Action) (rank.Features, error) {
	if x.NumNodes() != y.NumNodes() {
		return nil, fmt.Errorf("%w: %d feature rows, %d labels",
			labeling.ErrSizeMismatch, x.NumNodes(), y.NumNodes())
	}
	nc := s.classes.NumClasses()
	d := x.Dim()
	phi := make(rank.Features, s.Size(x))

	classOf, err := classIndices(y, s.classes)
	if err != nil {
		return nil, err
	}

	unaryLen := nc * s.unaryDim(d)
	if err := s.fillUnary(phi[:unaryLen], x, y, classOf); err != nil {
		return nil, err
	}
	if s.pairwise != PairwiseNone {
		s.fillPairwise(phi[unaryLen:], x, y, classOf)
	}
	return phi, nil
}

func (s *Standard) fillUnary(phi []float64, x *labeling.FeatureGraph, y *labeling.Labeling, classOf []int) error {
	n := x.NumNodes()
	if n == 0 {
		return nil
	}
	d := x.Dim()
	ud := s.unaryDim(d)
	if s.unary == UnaryConfidence && !y.ConfidencesAvailable() {
		return labeling.ErrNoConfidences
	}
	for node := 0; node < n; node++ {
		c := classOf[node]
		switch s.unary {
		case UnaryConfidence:
			phi[c] += 1 - y.Confidences[node][c]
		default:
			phi[c*ud]++
			floats.Add(phi[c*ud+1:c*ud+1+d], x.Features[node])
		}
	}
	floats.Scale(1/float64(n), phi)
	return nil
}

func (s *Standard) fillPairwise(phi []float64, x *labeling.FeatureGraph, y *labeling.Labeling, classOf []int) {
	nc := s.classes.NumClasses()
	pd := s.pairwiseDim(x.Dim())
	edges := 0
	for u := 0; u < x.NumNodes(); u++ {
		for _, v := range x.Adj.Neighbors(u) {
			edges++
			slot := PairIndex(nc, classOf[u], classOf[v]) * pd
			if s.pairwise == PairwiseCounts {
				phi[slot]++
				continue
			}
			addContrast(phi[slot:slot+pd], x.Features[u], x.Features[v], y.Label(u) == y.Label(v))
		}
	}
	if edges > 0 {
		floats.Scale(1/float64(edges), phi)
	}
}

// addContrast adds the contrast-sensitive potential of one edge to dst.
func addContrast(dst, f1, f2 []float64, sameLabel bool) {
	for k := range dst {
		diff := f1[k] - f2[k]
		e := math.Exp(-diff * diff)
		if sameLabel {
			e = 1 - e
		}
		dst[k] += e
	}
}

func classIndices(y *labeling.Labeling, classes *labeling.ClassMap) ([]int, error) {
	out := make([]int, y.NumNodes())
	for i := range out {
		c, err := classes.Index(y.Label(i))
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// StandardAlt is the alternative formulation: unsummed raw unary and a
// pairwise term with one slot per class for same-label edges plus one
// shared slot for differing labels, halved to count each undirected edge
// once.
type StandardAlt struct {
	classes *labeling.ClassMap
}

// NewStandardAlt creates the alternative formulation.
func NewStandardAlt(classes *labeling.ClassMap) *StandardAlt {
	return &StandardAlt{classes: classes}
}

// Name implements Function.
func (s *StandardAlt) Name() string { return "standard_alt" }

// Size implements Function.
func (s *StandardAlt) Size(x *labeling.FeatureGraph) int {
	nc := s.classes.NumClasses()
	d := x.Dim()
	return nc*(1+d) + (nc+1)*d
}

// Compute implements Function.
func (s *StandardAlt) Compute(x *labeling.FeatureGraph, y *labeling.Labeling, _ labeling.Action) (rank.Features, error) {
	if x.NumNodes() != y.NumNodes() {
		return nil, fmt.Errorf("%w: %d feature rows, %d labels",
			labeling.ErrSizeMismatch, x.NumNodes(), y.NumNodes())
	}
	classOf, err := classIndices(y, s.classes)
	if err != nil {
		return nil, err
	}
	nc := s.classes.NumClasses()
	d := x.Dim()
	ud := 1 + d
	phi := make(rank.Features, s.Size(x))

	for node := 0; node < x.NumNodes(); node++ {
		c := classOf[node]
		phi[c*ud]++
		floats.Add(phi[c*ud+1:c*ud+1+d], x.Features[node])
	}

	pair := phi[nc*ud:]
	for u := 0; u < x.NumNodes(); u++ {
		for _, v := range x.Adj.Neighbors(u) {
			same := y.Label(u) == y.Label(v)
			slot := nc
			if same {
				slot = classOf[u]
			}
			addContrast(pair[slot*d:(slot+1)*d], x.Features[u], x.Features[v], same)
		}
	}
	floats.Scale(0.5, pair)
	return phi, nil
}

// Option configures ByName.
type Option func(*byNameOptions)

type byNameOptions struct {
	dictionary [][]float64
	mutex      *labeling.Mutex
}

// WithDictionary supplies the codebook for the global variants.
func WithDictionary(d [][]float64) Option {
	return func(o *byNameOptions) { o.dictionary = d }
}

// WithMutex supplies the label co-placement table for prune features.
func WithMutex(m *labeling.Mutex) Option {
	return func(o *byNameOptions) { o.mutex = m }
}

// ByName returns the feature function registered under name.
func ByName(name string, classes *labeling.ClassMap, opts ...Option) (Function, error) {
	var o byNameOptions
	for _, opt := range opts {
		opt(&o)
	}
	switch name {
	case "", "standard":
		return NewStandard(classes), nil
	case "standard_alt":
		return NewStandardAlt(classes), nil
	case "standard_conf":
		return NewStandardConf(classes), nil
	case "unary":
		return NewUnary(classes), nil
	case "unary_conf":
		return NewUnaryConf(classes), nil
	case "standard_pairwise_counts":
		return NewStandardPairwiseCounts(classes), nil
	case "standard_conf_pairwise_counts":
		return NewStandardConfPairwiseCounts(classes), nil
	case "dense_crf":
		return NewDenseCRF(classes), nil
	case "sum_global":
		return NewSumGlobal(classes, o.dictionary)
	case "max_global":
		return NewMaxGlobal(classes, o.dictionary)
	case "standard_prune":
		return NewStandardPrune(classes, o.mutex), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
}
