// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prune filters successor candidates before they reach the search
// frontier.
//
// NoPrune passes everything through. RankerPrune keeps the best-scoring
// share of candidates under a learned model. OraclePrune and
// SimulatedRankerPrune use ground truth to keep improving candidates and a
// random share of the rest; they exist for training and evaluation only.
// DomainKnowledgePrune drops candidates that place labels in arrangements
// a label co-placement table marks as exclusive.
package prune

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/features"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/loss"
	"github.com/AleutianAI/hcsearch/services/hcsearch/metrics"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
)

var (
	// ErrInvalidFraction is returned for a fraction outside [0, 1].
	ErrInvalidFraction = errors.New("fraction must be in [0, 1]")

	// ErrUnknownFunction is returned by New for an unknown name.
	ErrUnknownFunction = errors.New("unknown prune function")

	// ErrNoMutex is returned when domain-knowledge pruning has no table.
	ErrNoMutex = errors.New("domain knowledge prune needs a mutex table")
)

// Request carries everything a pruning function may consult.
type Request struct {
	// X is the feature graph of the example.
	X *labeling.FeatureGraph

	// Current is the labeling being expanded.
	Current *labeling.Labeling

	// Truth is the ground truth. Nil at inference time.
	Truth *labeling.Labeling

	// Candidates are the successors to filter.
	Candidates []labeling.Candidate
}

// Function filters candidates.
type Function interface {
	Prune(e *env.Env, req Request) ([]labeling.Candidate, error)
	Name() string
}

func checkFraction(name string, f float64) error {
	if f < 0 || f > 1 || math.IsNaN(f) {
		return fmt.Errorf("%w: %s=%v", ErrInvalidFraction, name, f)
	}
	return nil
}

// NoPrune returns the candidates unchanged.
type NoPrune struct{}

// Name implements Function.
func (NoPrune) Name() string { return "none" }

// Prune implements Function.
func (NoPrune) Prune(_ *env.Env, req Request) ([]labeling.Candidate, error) {
	return req.Candidates, nil
}

// RankerPrune keeps the K = ⌈(1-Fraction)·n⌉ lowest-scoring candidates.
type RankerPrune struct {
	// Model scores candidate feature vectors. Lower is better.
	Model rank.Model

	// Features computes candidate feature vectors.
	Features features.Function

	// Fraction is the share of candidates to remove.
	Fraction float64
}

// Name implements Function.
func (p *RankerPrune) Name() string { return "ranker" }

// Keep returns how many of n candidates survive.
func (p *RankerPrune) Keep(n int) int {
	k := int(math.Ceil((1 - p.Fraction) * float64(n)))
	return max(0, min(k, n))
}

// Prune implements Function. Candidates are returned ordered by score,
// ties in input order.
func (p *RankerPrune) Prune(e *env.Env, req Request) ([]labeling.Candidate, error) {
	if err := checkFraction("fraction", p.Fraction); err != nil {
		return nil, err
	}
	k := p.Keep(len(req.Candidates))
	h := newBoundedHeap(k)
	for i, c := range req.Candidates {
		phi, err := p.Features.Compute(req.X, c.Labeling, c.Action)
		if err != nil {
			return nil, fmt.Errorf("candidate %d features: %w", i, err)
		}
		h.Offer(scored{index: i, score: p.Model.Score(phi)})
	}
	kept := h.Sorted()
	out := make([]labeling.Candidate, len(kept))
	for i, s := range kept {
		out[i] = req.Candidates[s.index]
	}
	metrics.RecordPruned(p.Name(), len(req.Candidates)-len(out))
	e.Logger.Debug("ranker prune",
		slog.Int("candidates", len(req.Candidates)),
		slog.Int("kept", len(out)))
	return out, nil
}

// split partitions candidates by whether they lower the loss below the
// current labeling's loss.
func split(lf loss.Function, req Request) (good, bad []int, err error) {
	if req.Truth == nil {
		return nil, nil, loss.ErrMissingGroundTruth
	}
	current, err := lf.Compute(req.Current, req.Truth)
	if err != nil {
		return nil, nil, err
	}
	for i, c := range req.Candidates {
		l, err := lf.Compute(c.Labeling, req.Truth)
		if err != nil {
			return nil, nil, fmt.Errorf("candidate %d loss: %w", i, err)
		}
		if l < current {
			good = append(good, i)
		} else {
			bad = append(bad, i)
		}
	}
	return good, bad, nil
}

// sample returns ⌈fraction·len(idx)⌉ indices chosen uniformly at random.
func sample(e *env.Env, idx []int, fraction float64) []int {
	n := int(math.Ceil(fraction * float64(len(idx))))
	if n >= len(idx) {
		return idx
	}
	shuffled := slices.Clone(idx)
	e.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

// collect returns the candidates at the given indices in input order.
func collect(cands []labeling.Candidate, groups ...[]int) []labeling.Candidate {
	var idx []int
	for _, g := range groups {
		idx = append(idx, g...)
	}
	slices.Sort(idx)
	out := make([]labeling.Candidate, len(idx))
	for i, j := range idx {
		out[i] = cands[j]
	}
	return out
}

// OraclePrune keeps every improving candidate and a random BadFraction of
// the rest.
type OraclePrune struct {
	Loss        loss.Function
	BadFraction float64
}

// Name implements Function.
func (p *OraclePrune) Name() string { return "oracle" }

// Prune implements Function. Without ground truth it returns
// loss.ErrMissingGroundTruth.
func (p *OraclePrune) Prune(e *env.Env, req Request) ([]labeling.Candidate, error) {
	if err := checkFraction("bad_fraction", p.BadFraction); err != nil {
		return nil, err
	}
	good, bad, err := split(p.Loss, req)
	if err != nil {
		return nil, fmt.Errorf("oracle prune: %w", err)
	}
	out := collect(req.Candidates, good, sample(e, bad, p.BadFraction))
	metrics.RecordPruned(p.Name(), len(req.Candidates)-len(out))
	e.Logger.Debug("oracle prune",
		slog.Int("improving", len(good)),
		slog.Int("kept", len(out)))
	return out, nil
}

// SimulatedRankerPrune imitates an imperfect ranker: it keeps a random
// GoodFraction of improving candidates and a random BadFraction of the rest.
type SimulatedRankerPrune struct {
	Loss         loss.Function
	GoodFraction float64
	BadFraction  float64
}

// Name implements Function.
func (p *SimulatedRankerPrune) Name() string { return "simulated_ranker" }

// Prune implements Function. Without ground truth it returns
// loss.ErrMissingGroundTruth.
func (p *SimulatedRankerPrune) Prune(e *env.Env, req Request) ([]labeling.Candidate, error) {
	if err := checkFraction("good_fraction", p.GoodFraction); err != nil {
		return nil, err
	}
	if err := checkFraction("bad_fraction", p.BadFraction); err != nil {
		return nil, err
	}
	good, bad, err := split(p.Loss, req)
	if err != nil {
		return nil, fmt.Errorf("simulated ranker prune: %w", err)
	}
	out := collect(req.Candidates, sample(e, good, p.GoodFraction), sample(e, bad, p.BadFraction))
	metrics.RecordPruned(p.Name(), len(req.Candidates)-len(out))
	e.Logger.Debug("simulated ranker prune",
		slog.Int("improving", len(good)),
		slog.Int("kept", len(out)))
	return out, nil
}

// DomainKnowledgePrune keeps the candidates whose action nodes end up in
// the fewest exclusive arrangements with the rest of the labeling. When
// some candidate has none, only conflict-free candidates survive; the
// frontier is never emptied by this function alone.
type DomainKnowledgePrune struct {
	Mutex *labeling.Mutex
}

// Name implements Function.
func (p *DomainKnowledgePrune) Name() string { return "domain_knowledge" }

// Prune implements Function. Survivors keep their input order. Requires
// node locations.
func (p *DomainKnowledgePrune) Prune(e *env.Env, req Request) ([]labeling.Candidate, error) {
	if len(req.Candidates) == 0 {
		return req.Candidates, nil
	}
	if !req.X.HasLocations() {
		return nil, fmt.Errorf("domain knowledge prune: %w", labeling.ErrNoLocations)
	}
	conflicts := make([]int, len(req.Candidates))
	best := math.MaxInt
	for i, c := range req.Candidates {
		for _, node := range c.Action.Nodes() {
			conflicts[i] += p.Mutex.Violations(req.X, c.Labeling, node)
		}
		best = min(best, conflicts[i])
	}
	out := make([]labeling.Candidate, 0, len(req.Candidates))
	for i, c := range req.Candidates {
		if conflicts[i] == best {
			out = append(out, c)
		}
	}
	metrics.RecordPruned(p.Name(), len(req.Candidates)-len(out))
	e.Logger.Debug("domain knowledge prune",
		slog.Int("candidates", len(req.Candidates)),
		slog.Int("min_conflicts", best),
		slog.Int("kept", len(out)))
	return out, nil
}

// Option configures New.
type Option func(*options)

type options struct {
	mutex *labeling.Mutex
}

// WithMutex supplies the co-placement table for "domain_knowledge".
func WithMutex(m *labeling.Mutex) Option {
	return func(o *options) { o.mutex = m }
}

// Config selects and parameterizes a pruning function.
type Config struct {
	// Name is "none", "ranker", "oracle", "simulated_ranker" or
	// "domain_knowledge".
	Name string `json:"name" yaml:"name" validate:"omitempty,oneof=none ranker oracle simulated_ranker domain_knowledge"`

	// Fraction is the share removed by the ranker. Default: 0.5
	Fraction float64 `json:"fraction" yaml:"fraction" validate:"gte=0,lte=1"`

	// GoodFraction is the share of improving candidates kept by the
	// simulated ranker. Default: 0.9
	GoodFraction float64 `json:"good_fraction" yaml:"good_fraction" validate:"gte=0,lte=1"`

	// BadFraction is the share of non-improving candidates kept by the
	// oracle and simulated ranker. Default: 0.1
	BadFraction float64 `json:"bad_fraction" yaml:"bad_fraction" validate:"gte=0,lte=1"`
}

// DefaultConfig disables pruning.
func DefaultConfig() Config {
	return Config{
		Name:         "none",
		Fraction:     0.5,
		GoodFraction: 0.9,
		BadFraction:  0.1,
	}
}

// New builds the function named by cfg.Name.
//
// Inputs:
//   - cfg: Selection and fractions.
//   - model: Prune ranker, required for "ranker".
//   - feat: Feature function for the ranker.
//   - lf: Loss for the oracle variants.
//   - opts: WithMutex, required for "domain_knowledge".
func New(cfg Config, model rank.Model, feat features.Function, lf loss.Function, opts ...Option) (Function, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if lf == nil {
		lf = loss.Hamming{}
	}
	switch cfg.Name {
	case "", "none":
		return NoPrune{}, nil
	case "ranker":
		if model == nil || feat == nil {
			return nil, fmt.Errorf("ranker prune needs a model and a feature function")
		}
		if err := checkFraction("fraction", cfg.Fraction); err != nil {
			return nil, err
		}
		return &RankerPrune{Model: model, Features: feat, Fraction: cfg.Fraction}, nil
	case "oracle":
		if err := checkFraction("bad_fraction", cfg.BadFraction); err != nil {
			return nil, err
		}
		return &OraclePrune{Loss: lf, BadFraction: cfg.BadFraction}, nil
	case "simulated_ranker":
		if err := errors.Join(checkFraction("good_fraction", cfg.GoodFraction),
			checkFraction("bad_fraction", cfg.BadFraction)); err != nil {
			return nil, err
		}
		return &SimulatedRankerPrune{Loss: lf, GoodFraction: cfg.GoodFraction, BadFraction: cfg.BadFraction}, nil
	case "domain_knowledge":
		if o.mutex == nil {
			return nil, ErrNoMutex
		}
		return &DomainKnowledgePrune{Mutex: o.mutex}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, cfg.Name)
	}
}
