// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package space bundles the functions that define a search space: feature
// functions for the heuristic and cost, the initial state, successor
// generation, pruning and the loss.
package space

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/features"
	"github.com/AleutianAI/hcsearch/services/hcsearch/initial"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/loss"
	"github.com/AleutianAI/hcsearch/services/hcsearch/prune"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
	"github.com/AleutianAI/hcsearch/services/hcsearch/successor"
)

// ErrMissingFunction is returned when a required function is not set.
var ErrMissingFunction = errors.New("search space function not set")

// Space is a complete search space.
//
// Thread Safety: Safe for concurrent use when every function is; the
// bundled implementations keep no per-call state.
type Space struct {
	HeuristicFeatures features.Function
	CostFeatures      features.Function
	Initial           initial.Function
	Successor         successor.Function
	Prune             prune.Function
	Loss              loss.Function
}

// Validate checks that every function except Prune is set.
func (s *Space) Validate() error {
	var missing []error
	if s.HeuristicFeatures == nil {
		missing = append(missing, fmt.Errorf("%w: heuristic features", ErrMissingFunction))
	}
	if s.CostFeatures == nil {
		missing = append(missing, fmt.Errorf("%w: cost features", ErrMissingFunction))
	}
	if s.Initial == nil {
		missing = append(missing, fmt.Errorf("%w: initial state", ErrMissingFunction))
	}
	if s.Successor == nil {
		missing = append(missing, fmt.Errorf("%w: successor", ErrMissingFunction))
	}
	if s.Loss == nil {
		missing = append(missing, fmt.Errorf("%w: loss", ErrMissingFunction))
	}
	return errors.Join(missing...)
}

// InitialLabeling returns the root labeling for ex.
func (s *Space) InitialLabeling(e *env.Env, ex *labeling.Example) (*labeling.Labeling, error) {
	y, err := s.Initial.Initial(e, ex)
	if err != nil {
		return nil, fmt.Errorf("initial state %s: %w", ex.Name, err)
	}
	return y, nil
}

// Successors generates candidates for y and filters them through Prune.
//
// Inputs:
//   - e: Run context.
//   - x: Feature graph of the example.
//   - y: Labeling being expanded.
//   - truth: Ground truth or nil. Oracle pruning requires it.
//
// Outputs:
//   - []labeling.Candidate: Surviving candidates, possibly empty.
//   - error: Successor or prune failure.
func (s *Space) Successors(e *env.Env, x *labeling.FeatureGraph, y, truth *labeling.Labeling) ([]labeling.Candidate, error) {
	cands, err := s.Successor.Successors(e, x, y)
	if err != nil {
		return nil, fmt.Errorf("%s successors: %w", s.Successor.Name(), err)
	}
	if s.Prune == nil || len(cands) == 0 {
		return cands, nil
	}
	kept, err := s.Prune.Prune(e, prune.Request{X: x, Current: y, Truth: truth, Candidates: cands})
	if err != nil {
		return nil, fmt.Errorf("%s prune: %w", s.Prune.Name(), err)
	}
	return kept, nil
}

// Config names the functions of a search space.
type Config struct {
	// HeuristicFeatures names the heuristic feature function. Default: standard
	HeuristicFeatures string `json:"heuristic_features" yaml:"heuristic_features"`

	// CostFeatures names the cost feature function. Default: standard
	CostFeatures string `json:"cost_features" yaml:"cost_features"`

	// PruneFeatures names the feature function the prune ranker scores.
	// Default: the heuristic feature function.
	PruneFeatures string `json:"prune_features" yaml:"prune_features"`

	// Loss is "hamming" or "pixel_hamming".
	Loss string `json:"loss" yaml:"loss" validate:"omitempty,oneof=hamming pixel_hamming"`

	// Dictionary is the codebook file of the global feature functions.
	Dictionary string `json:"dictionary" yaml:"dictionary"`

	// Mutex is a label co-placement table file. When empty and a function
	// needs one, the caller supplies a table through WithMutex.
	Mutex string `json:"mutex" yaml:"mutex"`

	// MutexThreshold is the count at or below which an arrangement is
	// exclusive. Default: labeling.DefaultMutexThreshold
	MutexThreshold int `json:"mutex_threshold" yaml:"mutex_threshold" validate:"gte=0"`

	Initial   initial.Config   `json:"initial" yaml:"initial"`
	Successor successor.Config `json:"successor" yaml:"successor"`
	Prune     prune.Config     `json:"prune" yaml:"prune"`
}

// NeedsMutex reports whether any configured function consults a label
// co-placement table.
func (c Config) NeedsMutex() bool {
	for _, name := range []string{c.HeuristicFeatures, c.CostFeatures, c.PruneFeatures} {
		if name == "standard_prune" {
			return true
		}
	}
	return c.Initial.Name == "mutex_prediction" || c.Prune.Name == "domain_knowledge"
}

// Option configures New.
type Option func(*options)

type options struct {
	mutex *labeling.Mutex
}

// WithMutex supplies the co-placement table, taking precedence over
// Config.Mutex.
func WithMutex(m *labeling.Mutex) Option {
	return func(o *options) { o.mutex = m }
}

// DefaultConfig returns standard features, Hamming loss, prediction-file
// initialization, stochastic successors and no pruning.
func DefaultConfig() Config {
	return Config{
		HeuristicFeatures: "standard",
		CostFeatures:      "standard",
		Loss:              "hamming",
		MutexThreshold:    labeling.DefaultMutexThreshold,
		Initial:           initial.DefaultConfig(),
		Successor:         successor.DefaultConfig(),
		Prune:             prune.DefaultConfig(),
	}
}

// New builds a Space from cfg.
//
// Inputs:
//   - e: Supplies the class map and logger.
//   - cfg: Function names and parameters.
//   - pruneModel: Model for ranker pruning. Nil unless cfg.Prune.Name is
//     "ranker".
//   - opts: WithMutex.
//
// Outputs:
//   - *Space: Validated search space.
//   - error: Unknown names, invalid parameters or unreadable files.
func New(e *env.Env, cfg Config, pruneModel rank.Model, opts ...Option) (*Space, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.mutex == nil && cfg.Mutex != "" {
		m, err := labeling.LoadMutex(cfg.Mutex, cfg.MutexThreshold)
		if err != nil {
			return nil, fmt.Errorf("mutex table: %w", err)
		}
		o.mutex = m
	}
	if o.mutex == nil && cfg.NeedsMutex() {
		return nil, fmt.Errorf("%w: mutex table", ErrMissingFunction)
	}
	featOpts := []features.Option{features.WithMutex(o.mutex)}
	if cfg.Dictionary != "" {
		d, err := features.LoadDictionary(cfg.Dictionary)
		if err != nil {
			return nil, fmt.Errorf("dictionary: %w", err)
		}
		featOpts = append(featOpts, features.WithDictionary(d))
	}

	hf, err := features.ByName(cfg.HeuristicFeatures, e.Classes, featOpts...)
	if err != nil {
		return nil, fmt.Errorf("heuristic features: %w", err)
	}
	cf, err := features.ByName(cfg.CostFeatures, e.Classes, featOpts...)
	if err != nil {
		return nil, fmt.Errorf("cost features: %w", err)
	}
	pf := hf
	if cfg.PruneFeatures != "" {
		if pf, err = features.ByName(cfg.PruneFeatures, e.Classes, featOpts...); err != nil {
			return nil, fmt.Errorf("prune features: %w", err)
		}
	}
	lf, err := loss.ByName(cfg.Loss, e.Logger)
	if err != nil {
		return nil, err
	}
	start, err := initial.New(cfg.Initial, initial.WithMutex(o.mutex))
	if err != nil {
		return nil, err
	}
	succ, err := successor.New(cfg.Successor)
	if err != nil {
		return nil, err
	}
	pr, err := prune.New(cfg.Prune, pruneModel, pf, lf, prune.WithMutex(o.mutex))
	if err != nil {
		return nil, err
	}
	s := &Space{
		HeuristicFeatures: hf,
		CostFeatures:      cf,
		Initial:           start,
		Successor:         succ,
		Prune:             pr,
		Loss:              lf,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
