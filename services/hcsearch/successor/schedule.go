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

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/graph"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

// ScheduleConfig parameterizes the threshold schedule.
type ScheduleConfig struct {
	// Start is the first threshold tried. Default: 0.025
	Start float64 `json:"start" yaml:"start" validate:"gte=0,lte=1"`

	// Step is the threshold increment. Default: 0.025
	Step float64 `json:"step" yaml:"step" validate:"gt=0,lte=1"`

	// Final is the ceiling; the cut at this threshold is used regardless
	// of how many good subgraphs it yields. Default: 0.975
	Final float64 `json:"final" yaml:"final" validate:"gte=0,lte=1"`

	// GoodSubgraphs is the count of exactly-one-positive subgraphs that
	// must be exceeded to stop early. Default: 8
	GoodSubgraphs int `json:"good_subgraphs" yaml:"good_subgraphs" validate:"gte=0"`
}

// DefaultScheduleConfig returns the default schedule.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Start:         0.025,
		Step:          0.025,
		Final:         0.975,
		GoodSubgraphs: 8,
	}
}

func (c ScheduleConfig) validate() error {
	if c.Step <= 0 || c.Start < 0 || c.Final < c.Start || c.GoodSubgraphs < 0 {
		return fmt.Errorf("%w: schedule start=%v step=%v final=%v good=%d",
			ErrInvalidConfig, c.Start, c.Step, c.Final, c.GoodSubgraphs)
	}
	return nil
}

// scheduleEpsilon absorbs float drift in start + k·step.
const scheduleEpsilon = 1e-9

// CutSchedule cuts edges by state with a rising threshold until more than
// GoodSubgraphs subgraphs hold exactly one foreground component.
type CutSchedule struct {
	policy        LabelPolicy
	temperature   float64
	maxCandidates int
	schedule      ScheduleConfig
}

// NewCutSchedule creates a cut-schedule function. Zero temperature selects
// DefaultTemperature; a zero schedule selects DefaultScheduleConfig.
func NewCutSchedule(policy LabelPolicy, temperature float64, maxCandidates int, schedule ScheduleConfig) *CutSchedule {
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	if schedule == (ScheduleConfig{}) {
		schedule = DefaultScheduleConfig()
	}
	return &CutSchedule{policy: policy, temperature: temperature, maxCandidates: maxCandidates, schedule: schedule}
}

// Name implements Function.
func (s *CutSchedule) Name() string {
	return "cut_schedule" + s.policy.suffix()
}

// Successors implements Function.
func (s *CutSchedule) Successors(e *env.Env, x *labeling.FeatureGraph, y *labeling.Labeling) ([]labeling.Candidate, error) {
	edges, err := edgeWeights(e, x, y, s.temperature)
	if err != nil {
		return nil, err
	}
	set, theta := s.cut(e, y, edges)
	e.Logger.Debug("schedule cut chosen",
		slog.Float64("threshold", theta),
		slog.Int("subgraphs", set.Len()),
		slog.Int("good_subgraphs", len(set.Good())))

	cands, err := candidatesFromSubgraphs(e, s.policy, y, set)
	if err != nil {
		return nil, err
	}
	return finish(e, s.Name(), cands, s.maxCandidates), nil
}

// cut walks the threshold schedule and returns the first acceptable cut.
func (s *CutSchedule) cut(e *env.Env, y *labeling.Labeling, edges []weightedEdge) (*graph.SubgraphSet, float64) {
	for k := 0; ; k++ {
		theta := s.schedule.Start + float64(k)*s.schedule.Step
		kept := cutEdges(e, y.NumNodes(), edges, CutState, theta)
		set := graph.NewSubgraphSet(y, kept, e.Classes)
		if len(set.Good()) > s.schedule.GoodSubgraphs {
			return set, theta
		}
		if theta >= s.schedule.Final-scheduleEpsilon || theta >= 1 {
			e.Logger.Debug("reached final threshold", slog.Float64("threshold", theta))
			return set, theta
		}
	}
}
