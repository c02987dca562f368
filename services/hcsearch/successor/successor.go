// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package successor generates candidate next states of a labeling.
//
// Two families exist:
//
//   - Flipbit: every node is its own unit and is relabeled alone.
//   - Stochastic: edges are cut at random with probability rising with
//     feature dissimilarity, the surviving edges group nodes into subgraphs,
//     and each label-connected component inside a subgraph is relabeled as
//     a whole. The cut-schedule variant raises a deterministic threshold
//     until enough subgraphs contain exactly one foreground component.
//
// Each family offers three label policies: all classes, neighbor labels
// only, and the most confident labels together with neighbor labels.
//
// # Thread Safety
//
// Functions are stateless after construction and safe for concurrent use,
// provided each goroutine passes its own env.Env.
package successor

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/metrics"
)

// TopConfidencesProportion is the share of classes taken from the most
// confident labels by the confidences policies, rounded up.
const TopConfidencesProportion = 0.5

// DefaultTemperature is the default edge-weight temperature T.
const DefaultTemperature = 0.5

var (
	// ErrUnknownFunction is returned by New for an unknown name.
	ErrUnknownFunction = errors.New("unknown successor function")

	// ErrInvalidConfig is returned by New for out-of-range parameters.
	ErrInvalidConfig = errors.New("invalid successor configuration")
)

// Function produces successor candidates of a labeling.
type Function interface {
	// Successors returns the candidates reachable from y in one step. An
	// empty result is not an error.
	Successors(e *env.Env, x *labeling.FeatureGraph, y *labeling.Labeling) ([]labeling.Candidate, error)

	// Name identifies the function in config, logs and metrics.
	Name() string
}

// LabelPolicy selects the labels a unit may be relabeled to.
type LabelPolicy int

const (
	// AllLabels offers every class.
	AllLabels LabelPolicy = iota

	// NeighborLabels offers labels of adjacent nodes, or every class for a
	// unit without neighbors.
	NeighborLabels

	// ConfidencesNeighborLabels offers the most confident labels together
	// with neighbor labels.
	ConfidencesNeighborLabels
)

// suffix returns the name suffix of the policy.
func (p LabelPolicy) suffix() string {
	switch p {
	case NeighborLabels:
		return "_neighbor"
	case ConfidencesNeighborLabels:
		return "_confidences_neighbor"
	default:
		return ""
	}
}

// topK returns ⌈TopConfidencesProportion · numClasses⌉.
func topK(classes *labeling.ClassMap) int {
	return int(math.Ceil(TopConfidencesProportion * float64(classes.NumClasses())))
}

// finalizeLabels removes own from labels and returns them ascending and
// deduplicated.
func finalizeLabels(labels []int, own int) []int {
	out := make([]int, 0, len(labels))
	for _, l := range labels {
		if l != own {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// relabelings emits one candidate per label, relabeling nodes in y.
func relabelings(y *labeling.Labeling, nodes []int, labels []int, cuts labeling.Adjacency) []labeling.Candidate {
	if len(labels) == 0 {
		return nil
	}
	action := labeling.NewAction(nodes...)
	out := make([]labeling.Candidate, 0, len(labels))
	for _, l := range labels {
		child := y.Relabel(nodes, l)
		child.Cuts = cuts
		out = append(out, labeling.Candidate{Labeling: child, Action: action})
	}
	return out
}

// finish applies the candidate bound, records metrics, and logs the result.
func finish(e *env.Env, name string, cands []labeling.Candidate, maxCandidates int) []labeling.Candidate {
	generated := len(cands)
	if maxCandidates > 0 && len(cands) > maxCandidates {
		e.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
		cands = cands[:maxCandidates]
	}
	metrics.RecordSuccessors(name, len(cands))
	if len(cands) == 0 {
		e.Logger.Debug("no successors generated", slog.String("successor", name))
		return []labeling.Candidate{}
	}
	e.Logger.Debug("successors generated",
		slog.String("successor", name),
		slog.Int("generated", generated),
		slog.Int("kept", len(cands)))
	return cands
}

// Config selects and parameterizes a successor function.
type Config struct {
	// Name is one of the registered function names, e.g. "stochastic" or
	// "cut_schedule_confidences_neighbor".
	Name string `json:"name" yaml:"name" validate:"required"`

	// MaxCandidates bounds the candidates per call by uniform subsampling.
	// Zero disables the bound.
	MaxCandidates int `json:"max_candidates" yaml:"max_candidates" validate:"gte=0"`

	// Temperature is T in w = exp(-(KL(u,v)+KL(v,u))·T/2).
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0"`

	// CutMode is "independent" or "state" for stochastic functions.
	CutMode CutMode `json:"cut_mode" yaml:"cut_mode" validate:"omitempty,oneof=independent state"`

	// Schedule parameterizes the cut-schedule functions.
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`
}

// DefaultConfig returns the stochastic function with independent cuts.
func DefaultConfig() Config {
	return Config{
		Name:          "stochastic",
		MaxCandidates: 1000,
		Temperature:   DefaultTemperature,
		CutMode:       CutIndependent,
		Schedule:      DefaultScheduleConfig(),
	}
}

// Names lists every registered function name.
func Names() []string {
	var out []string
	for _, fam := range []string{"flipbit", "stochastic", "cut_schedule"} {
		for _, p := range []LabelPolicy{AllLabels, NeighborLabels, ConfidencesNeighborLabels} {
			out = append(out, fam+p.suffix())
		}
	}
	return out
}

// New builds the function named by cfg.Name.
func New(cfg Config) (Function, error) {
	if cfg.MaxCandidates < 0 || cfg.Temperature < 0 {
		return nil, fmt.Errorf("%w: max_candidates=%d temperature=%v",
			ErrInvalidConfig, cfg.MaxCandidates, cfg.Temperature)
	}
	if cfg.CutMode == "" {
		cfg.CutMode = CutIndependent
	}
	if cfg.CutMode != CutIndependent && cfg.CutMode != CutState {
		return nil, fmt.Errorf("%w: cut mode %q", ErrInvalidConfig, cfg.CutMode)
	}
	for _, p := range []LabelPolicy{AllLabels, NeighborLabels, ConfidencesNeighborLabels} {
		switch cfg.Name {
		case "flipbit" + p.suffix():
			return NewFlipbit(p, cfg.MaxCandidates), nil
		case "stochastic" + p.suffix():
			return NewStochastic(p, cfg.CutMode, cfg.Temperature, cfg.MaxCandidates), nil
		case "cut_schedule" + p.suffix():
			if err := cfg.Schedule.validate(); err != nil {
				return nil, err
			}
			return NewCutSchedule(p, cfg.Temperature, cfg.MaxCandidates, cfg.Schedule), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, cfg.Name)
}
