// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package initial produces the root labeling a search starts from.
package initial

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

// DefaultIslandThreshold is the confidence below which an isolated
// foreground node is reset to background.
const DefaultIslandThreshold = 0.75

var (
	// ErrNoInitialState is returned when an example has no precomputed
	// prediction and no prediction directory is configured.
	ErrNoInitialState = errors.New("no initial state available")

	// ErrUnknownFunction is returned by New for an unknown name.
	ErrUnknownFunction = errors.New("unknown initial state function")
)

// Function returns the initial labeling of an example.
type Function interface {
	Initial(e *env.Env, ex *labeling.Example) (*labeling.Labeling, error)
	Name() string
}

// Prediction starts from a classifier's per-node prediction with class
// confidences, then eliminates foreground islands.
//
// The prediction comes from ex.Initial when the dataset loader found one,
// otherwise from Dir/<name>.txt.
type Prediction struct {
	// Dir holds one prediction file per example. Optional.
	Dir string

	// IslandThreshold is the confidence below which islands are erased.
	IslandThreshold float64
}

// Name implements Function.
func (p *Prediction) Name() string { return "prediction" }

// Initial implements Function. The returned labeling never aliases
// ex.Initial's label slice.
func (p *Prediction) Initial(e *env.Env, ex *labeling.Example) (*labeling.Labeling, error) {
	var y *labeling.Labeling
	switch {
	case ex.Initial != nil:
		y = ex.Initial.Clone()
	case p.Dir != "":
		loaded, err := p.load(e, ex)
		if err != nil {
			return nil, err
		}
		y = loaded
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoInitialState, ex.Name)
	}
	if y.NumNodes() != ex.X.NumNodes() {
		return nil, fmt.Errorf("%w: initial state has %d nodes, features %d",
			labeling.ErrSizeMismatch, y.NumNodes(), ex.X.NumNodes())
	}
	erased := EliminateIslands(y, e.Classes, p.IslandThreshold)
	if erased > 0 {
		e.Logger.Debug("eliminated islands",
			slog.String("example", ex.Name),
			slog.Int("nodes", erased))
	}
	return y, nil
}

func (p *Prediction) load(e *env.Env, ex *labeling.Example) (*labeling.Labeling, error) {
	path := filepath.Join(p.Dir, ex.Name+".txt")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open initial state: %w", err)
	}
	defer f.Close()
	labels, conf, err := labeling.ReadInitialState(f, ex.X.NumNodes(), e.Classes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	y := labeling.NewLabeling(labels, ex.X.Adj)
	y.Confidences = conf
	return y, nil
}

// EliminateIslands resets to background every foreground node that has no
// foreground neighbor and whose confidence in its own label is below
// threshold. It returns the number of nodes changed.
//
// Nothing changes when the class map has no background or y carries no
// confidences. Nodes are visited in index order and a reset is visible to
// later nodes.
func EliminateIslands(y *labeling.Labeling, classes *labeling.ClassMap, threshold float64) int {
	if !classes.HasBackground() || !y.ConfidencesAvailable() {
		return 0
	}
	bg, err := classes.BackgroundLabel()
	if err != nil {
		return 0
	}
	erased := 0
	for node := 0; node < y.NumNodes(); node++ {
		label := y.Label(node)
		if classes.IsBackground(label) || hasForegroundNeighbor(y, node, classes) {
			continue
		}
		idx, err := classes.Index(label)
		if err != nil {
			continue
		}
		if y.Confidences[node][idx] < threshold {
			y.Graph.Labels[node] = bg
			erased++
		}
	}
	return erased
}

func hasForegroundNeighbor(y *labeling.Labeling, node int, classes *labeling.ClassMap) bool {
	for _, j := range y.Graph.Adj.Neighbors(node) {
		if !classes.IsBackground(y.Label(j)) {
			return true
		}
	}
	return false
}

// Background labels every node with the background class, or with the
// class at index 0 when the class map has none.
type Background struct{}

// Name implements Function.
func (Background) Name() string { return "background" }

// Initial implements Function.
func (Background) Initial(e *env.Env, ex *labeling.Example) (*labeling.Labeling, error) {
	label, err := e.Classes.BackgroundLabel()
	if err != nil {
		if label, err = e.Classes.Label(0); err != nil {
			return nil, err
		}
	}
	labels := make([]int, ex.X.NumNodes())
	for i := range labels {
		labels[i] = label
	}
	return labeling.NewLabeling(labels, ex.X.Adj), nil
}

// MutexPrediction starts from Prediction and then repairs label
// arrangements the co-placement table marks as exclusive. A node in such
// an arrangement moves to its next most confident label; passes repeat
// until no node changes. A node that has tried every label keeps its last
// one.
//
// Without a table it behaves exactly like Prediction.
type MutexPrediction struct {
	Prediction
	Mutex *labeling.Mutex
}

// Name implements Function.
func (m *MutexPrediction) Name() string { return "mutex_prediction" }

// Initial implements Function. Requires confidences on the prediction and
// locations on the example when a table is set.
func (m *MutexPrediction) Initial(e *env.Env, ex *labeling.Example) (*labeling.Labeling, error) {
	y, err := m.Prediction.Initial(e, ex)
	if err != nil || m.Mutex == nil {
		return y, err
	}
	if !ex.X.HasLocations() {
		return nil, fmt.Errorf("%s: %w", ex.Name, labeling.ErrNoLocations)
	}
	if !y.ConfidencesAvailable() {
		return nil, fmt.Errorf("%s: %w", ex.Name, labeling.ErrNoConfidences)
	}

	nc := e.Classes.NumClasses()
	ranked := make([][]int, y.NumNodes())
	for node := range ranked {
		if ranked[node], err = y.TopConfidentLabels(node, nc, e.Classes); err != nil {
			return nil, err
		}
	}
	next := make([]int, y.NumNodes())
	relabeled := 0
	for changed := true; changed; {
		changed = false
		for node := range ranked {
			if next[node]+1 >= len(ranked[node]) || m.Mutex.Violations(ex.X, y, node) == 0 {
				continue
			}
			next[node]++
			y.Graph.Labels[node] = ranked[node][next[node]]
			relabeled++
			changed = true
		}
	}
	if relabeled > 0 {
		e.Logger.Debug("repaired exclusive arrangements",
			slog.String("example", ex.Name),
			slog.Int("relabels", relabeled))
	}
	return y, nil
}

// Option configures New.
type Option func(*options)

type options struct {
	mutex *labeling.Mutex
}

// WithMutex supplies the co-placement table for "mutex_prediction".
func WithMutex(m *labeling.Mutex) Option {
	return func(o *options) { o.mutex = m }
}

// Config selects the initial state function.
type Config struct {
	// Name is "prediction", "mutex_prediction" or "background".
	Name string `json:"name" yaml:"name" validate:"omitempty,oneof=prediction mutex_prediction background"`

	// Dir holds prediction files when examples carry none.
	Dir string `json:"dir" yaml:"dir"`

	// IslandThreshold defaults to DefaultIslandThreshold.
	IslandThreshold float64 `json:"island_threshold" yaml:"island_threshold" validate:"gte=0,lte=1"`
}

// DefaultConfig selects prediction-file initialization.
func DefaultConfig() Config {
	return Config{Name: "prediction", IslandThreshold: DefaultIslandThreshold}
}

// New builds the function named by cfg.Name.
func New(cfg Config, opts ...Option) (Function, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	switch cfg.Name {
	case "", "prediction":
		return &Prediction{Dir: cfg.Dir, IslandThreshold: cfg.IslandThreshold}, nil
	case "mutex_prediction":
		return &MutexPrediction{
			Prediction: Prediction{Dir: cfg.Dir, IslandThreshold: cfg.IslandThreshold},
			Mutex:      o.mutex,
		}, nil
	case "background":
		return Background{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, cfg.Name)
	}
}
