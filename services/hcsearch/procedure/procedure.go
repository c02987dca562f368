// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package procedure implements the search control loops.
//
// Every procedure starts from the space's initial labeling, expands nodes
// chosen by heuristic for at most TimeBound steps, and returns the
// lowest-cost labeling it visited. In learning modes the loops also hand
// ranking examples to the request's Learner.
//
// One search is sequential. Run independent searches in separate
// goroutines, each with its own env.Env.
package procedure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/metrics"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/observability"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
	"github.com/AleutianAI/hcsearch/services/hcsearch/space"
)

// Procedure is a search control loop.
type Procedure interface {
	// Search runs one search over req.Example.
	Search(ctx context.Context, req Request) (*Result, error)

	// Name returns the procedure's configuration name.
	Name() string
}

// Request carries everything one search needs.
type Request struct {
	Env     *env.Env
	Space   *space.Space
	Mode    node.Mode
	Example *labeling.Example

	// Models holds the learned models the mode consults.
	Models node.Models

	// Learner receives ranking examples in learning modes: heuristic
	// examples for ModeLearnH, cost examples for ModeLearnC and
	// ModeLearnCOracleH.
	Learner rank.Model

	// TimeBound is the maximum number of expansion steps.
	TimeBound int

	// Sink receives an anytime snapshot at the start of each step. Nil
	// disables snapshots.
	Sink SnapshotSink

	Meta Meta
}

// Result is the outcome of a search.
type Result struct {
	// Labeling is the lowest-cost labeling visited.
	Labeling *labeling.Labeling

	// Cost is Labeling's cost.
	Cost float64

	// Loss is Labeling's true loss when ground truth was available.
	Loss    float64
	HasLoss bool

	Steps      int
	Nodes      int
	Duplicates int
}

func (r *Request) validate() error {
	if r.Env == nil || r.Space == nil || r.Example == nil || r.Example.X == nil {
		return fmt.Errorf("%w: env, space and example are required", ErrInvalidRequest)
	}
	if r.TimeBound < 0 {
		return fmt.Errorf("%w: negative time bound %d", ErrInvalidRequest, r.TimeBound)
	}
	if r.Mode.Learning() && r.Learner == nil {
		return fmt.Errorf("%w: %s", ErrMissingLearner, r.Mode)
	}
	return nil
}

// Option configures a procedure.
type Option func(*settings)

type settings struct {
	duplicateCheck bool
	tracer         *observability.SearchTracer
}

func newSettings(opts []Option) settings {
	s := settings{duplicateCheck: true}
	for _, opt := range opts {
		opt(&s)
	}
	if s.tracer == nil {
		s.tracer = observability.NewSearchTracer(nil, false)
	}
	return s
}

// WithoutDuplicateCheck disables duplicate rejection of successors.
func WithoutDuplicateCheck() Option {
	return func(s *settings) {
		s.duplicateCheck = false
	}
}

// WithTracer sets the span tracer.
func WithTracer(t *observability.SearchTracer) Option {
	return func(s *settings) {
		s.tracer = t
	}
}

// Config selects a procedure.
type Config struct {
	// Name is "greedy", "breadthbeam" or "bestbeam".
	Name string `json:"name" yaml:"name" validate:"required,oneof=greedy breadthbeam bestbeam"`

	// BeamSize bounds the open set of the beam procedures.
	BeamSize int `json:"beam_size" yaml:"beam_size" validate:"gte=1"`

	// DuplicateCheck rejects successors whose labels were already seen.
	DuplicateCheck bool `json:"duplicate_check" yaml:"duplicate_check"`
}

// DefaultConfig returns breadth-first beam search with beam size one.
func DefaultConfig() Config {
	return Config{Name: "breadthbeam", BeamSize: 1, DuplicateCheck: true}
}

// New builds the procedure cfg names.
func New(cfg Config, opts ...Option) (Procedure, error) {
	if !cfg.DuplicateCheck {
		opts = append(opts, WithoutDuplicateCheck())
	}
	switch cfg.Name {
	case "greedy":
		return NewGreedy(opts...), nil
	case "breadthbeam", "":
		return NewBreadthBeam(cfg.BeamSize, opts...)
	case "bestbeam":
		return NewBestBeam(cfg.BeamSize, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcedure, cfg.Name)
	}
}

// run is the state shared by one search of any procedure.
type run struct {
	req      Request
	name     string
	settings settings
	tree     *node.Tree
	root     node.Handle
	steps    int
	dups     int
	logger   *slog.Logger
}

func start(req Request, name string, s settings) (*run, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := req.Space.Validate(); err != nil {
		return nil, err
	}
	tree, err := node.NewTree(req.Env, req.Space, req.Mode, req.Example.X, req.Example.Truth, req.Models)
	if err != nil {
		return nil, err
	}
	y0, err := req.Space.InitialLabeling(req.Env, req.Example)
	if err != nil {
		return nil, err
	}
	root, err := tree.AddRoot(y0)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	return &run{
		req:      req,
		name:     name,
		settings: s,
		tree:     tree,
		root:     root,
		logger:   req.Env.Logger.With(slog.String("procedure", name), slog.String("mode", req.Mode.String())),
	}, nil
}

// snapshot persists the current best-cost labeling.
func (r *run) snapshot(ctx context.Context, step int, best node.Handle) error {
	if r.req.Sink == nil {
		return nil
	}
	n := r.tree.Node(best)
	err := r.req.Sink.Save(ctx, Snapshot{
		RunID:    r.req.Env.RunID,
		Mode:     r.req.Mode,
		Meta:     r.req.Meta,
		TimeStep: step,
		Labeling: n.Labeling(),
		Cost:     n.Cost(),
	})
	if err != nil {
		return fmt.Errorf("snapshot at step %d: %w", step, err)
	}
	metrics.RecordSnapshot()
	return nil
}

// result builds the Result for the chosen node.
func (r *run) result(best node.Handle) (*Result, error) {
	n := r.tree.Node(best)
	res := &Result{
		Labeling:   n.Labeling(),
		Cost:       n.Cost(),
		Steps:      r.steps,
		Nodes:      r.tree.Len(),
		Duplicates: r.dups,
	}
	if l, ok := n.Loss(); ok {
		res.Loss, res.HasLoss = l, true
	} else if r.req.Example.Truth != nil {
		l, err := r.req.Space.Loss.Compute(n.Labeling(), r.req.Example.Truth)
		if err != nil {
			return nil, fmt.Errorf("final loss: %w", err)
		}
		res.Loss, res.HasLoss = l, true
	}
	r.logger.Info("search finished",
		slog.String("example", r.req.Example.Name),
		slog.Int("steps", res.Steps),
		slog.Int("nodes", res.Nodes),
		slog.Int("duplicates", res.Duplicates),
		slog.Float64("cost", res.Cost))
	return res, nil
}

// observe wraps a search with tracing and metrics.
func observe(ctx context.Context, s settings, name string, req Request, search func(context.Context) (*Result, error)) (*Result, error) {
	began := time.Now()
	exampleName := ""
	if req.Example != nil {
		exampleName = req.Example.Name
	}
	ctx, span := s.tracer.StartSearch(ctx, name, req.Mode.String(), exampleName, req.TimeBound)
	res, err := search(ctx)

	var summary observability.SearchSummary
	if res != nil {
		summary = observability.SearchSummary{Steps: res.Steps, Nodes: res.Nodes, Duplicates: res.Duplicates, Cost: res.Cost}
	}
	s.tracer.EndSearch(span, summary, err)
	metrics.RecordSearch(name, req.Mode.String(), err, time.Since(began))
	return res, err
}
