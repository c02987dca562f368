// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package learning drives training and inference over a dataset.
//
// A run executes a schedule of search modes. Learning stages (learnh,
// learnc, learncoracle) search the training split, collect ranking
// examples per worker, and let the coordinator merge them and fit one
// model that every worker then loads. Inference stages (ll, hl, lc, hc)
// search the inference split and write the final labeling of every
// example.
//
// # Model Files
//
//	<models>/heuristic_model.txt      learned by learnh; used by hl, hc, learnc
//	<models>/cost_H_model.txt         learned by learnc; used by hc
//	<models>/cost_oracleH_model.txt   learned by learncoracle; used by lc
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/hcsearch/services/hcsearch/barrier"
	"github.com/AleutianAI/hcsearch/services/hcsearch/dataset"
	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/procedure"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
	"github.com/AleutianAI/hcsearch/services/hcsearch/space"
)

// Options configures a run.
type Options struct {
	// TimeBound is the number of search steps per example.
	TimeBound int `json:"time_bound" yaml:"time_bound"`

	// TrainIterations repeats every learning stage's pass over the
	// training split. Default: 1
	TrainIterations int `json:"train_iterations" yaml:"train_iterations"`

	// TestIterations repeats every inference stage's pass. Default: 1
	TestIterations int `json:"test_iterations" yaml:"test_iterations"`

	// InferSplit is the split inference stages search. Default: test
	InferSplit dataset.Split `json:"infer_split" yaml:"infer_split"`

	// Ranker selects the model implementation. Default: svmrank
	Ranker rank.Kind `json:"ranker" yaml:"ranker"`

	// SVMRank configures the external trainer.
	SVMRank rank.SVMRankConfig `json:"svmrank" yaml:"svmrank"`

	// Margin is the online model's ranking margin.
	Margin float64 `json:"margin" yaml:"margin"`

	// SaveAnytime writes the best labeling of every step of every
	// inference search to OutputDir.
	SaveAnytime bool `json:"save_anytime" yaml:"save_anytime"`

	ModelDir  string `json:"model_dir" yaml:"model_dir"`
	TempDir   string `json:"temp_dir" yaml:"temp_dir"`
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Workers is the number of data-parallel workers. Default: 1
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultOptions returns a single-worker run with svm_rank models.
func DefaultOptions() Options {
	return Options{
		TimeBound:       10,
		TrainIterations: 1,
		TestIterations:  1,
		InferSplit:      dataset.SplitTest,
		Ranker:          rank.KindSVMRank,
		SVMRank:         rank.DefaultSVMRankConfig(),
		Margin:          1,
		ModelDir:        "models",
		TempDir:         "tmp",
		OutputDir:       "results",
		Workers:         1,
	}
}

func (o *Options) normalize() error {
	if o.TrainIterations == 0 {
		o.TrainIterations = 1
	}
	if o.TestIterations == 0 {
		o.TestIterations = 1
	}
	if o.Workers == 0 {
		o.Workers = 1
	}
	if o.InferSplit == "" {
		o.InferSplit = dataset.SplitTest
	}
	kind, err := rank.ParseKind(string(o.Ranker))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	o.Ranker = kind
	switch {
	case o.TimeBound < 0:
		return fmt.Errorf("%w: negative time bound %d", ErrInvalidOptions, o.TimeBound)
	case o.TrainIterations < 0 || o.TestIterations < 0:
		return fmt.Errorf("%w: negative iteration count", ErrInvalidOptions)
	case o.Workers < 0:
		return fmt.Errorf("%w: %d workers", ErrInvalidOptions, o.Workers)
	case o.ModelDir == "" || o.TempDir == "" || o.OutputDir == "":
		return fmt.Errorf("%w: model, temp and output directories are required", ErrInvalidOptions)
	}
	return nil
}

// Outcome is the result of one inference search.
type Outcome struct {
	RunID      string        `json:"run_id" msgpack:"run_id"`
	Mode       node.Mode     `json:"mode" msgpack:"mode"`
	Example    string        `json:"example" msgpack:"example"`
	Set        string        `json:"set" msgpack:"set"`
	Iter       int           `json:"iter" msgpack:"iter"`
	Labels     []int         `json:"labels" msgpack:"labels"`
	Cost       float64       `json:"cost" msgpack:"cost"`
	Loss       float64       `json:"loss" msgpack:"loss"`
	HasLoss    bool          `json:"has_loss" msgpack:"has_loss"`
	Steps      int           `json:"steps" msgpack:"steps"`
	Nodes      int           `json:"nodes" msgpack:"nodes"`
	Duplicates int           `json:"duplicates" msgpack:"duplicates"`
	Elapsed    time.Duration `json:"elapsed" msgpack:"elapsed"`
}

// Recorder persists outcomes as they are produced.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// Driver runs schedules over one dataset.
//
// Thread Safety: Run may be called again after it returns. Concurrent
// runs must use distinct model, temp and output directories.
type Driver struct {
	data     *dataset.Dataset
	space    *space.Space
	proc     procedure.Procedure
	opts     Options
	sink     procedure.SnapshotSink
	recorder Recorder
	trainer  rank.Runner
	logger   *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithSink receives snapshots of every inference search in addition to
// the anytime files.
func WithSink(s procedure.SnapshotSink) Option {
	return func(d *Driver) {
		d.sink = s
	}
}

// WithRecorder receives every outcome.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) {
		d.recorder = r
	}
}

// WithTrainerRunner replaces the command runner of svm_rank models.
func WithTrainerRunner(r rank.Runner) Option {
	return func(d *Driver) {
		d.trainer = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Driver.
//
// Inputs:
//   - data: Loaded dataset.
//   - sp: Search space shared by every worker.
//   - proc: Search procedure.
//   - opts: Run options. Zero counts take defaults.
//
// Outputs:
//   - *Driver: The driver.
//   - error: ErrInvalidOptions.
func New(data *dataset.Dataset, sp *space.Space, proc procedure.Procedure, opts Options, options ...Option) (*Driver, error) {
	if data == nil || sp == nil || proc == nil {
		return nil, fmt.Errorf("%w: dataset, space and procedure are required", ErrInvalidOptions)
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	d := &Driver{
		data:   data,
		space:  sp,
		proc:   proc,
		opts:   opts,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// Options returns the normalized options.
func (d *Driver) Options() Options {
	return d.opts
}

// ParseSchedule parses a comma-separated list of modes.
func ParseSchedule(s string) ([]node.Mode, error) {
	var out []node.Mode
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		m, err := node.ParseMode(strings.ToLower(name))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, ErrEmptySchedule
	}
	return out, nil
}

// Run executes schedule on Options.Workers workers.
//
// Inputs:
//   - ctx: Cancels every worker.
//   - base: Run context; each worker forks it.
//   - schedule: Stages in order.
//
// Outputs:
//   - []Outcome: Every inference outcome, ordered by stage, example and
//     iteration.
//   - error: The first worker or coordinator failure.
func (d *Driver) Run(ctx context.Context, base *env.Env, schedule []node.Mode) ([]Outcome, error) {
	if len(schedule) == 0 {
		return nil, ErrEmptySchedule
	}
	started := time.Now()
	logger := d.logger.With(slog.String("run_id", base.RunID))
	logger.Info("run starting",
		slog.String("schedule", joinModes(schedule)),
		slog.String("procedure", d.proc.Name()),
		slog.Int("workers", d.opts.Workers),
		slog.Int("time_bound", d.opts.TimeBound))

	var mu sync.Mutex
	var outcomes []Outcome
	err := barrier.RunWorkers(ctx, base, d.opts.Workers, func(ctx context.Context, e *env.Env, b *barrier.Barrier) error {
		w := &worker{d: d, e: e, b: b, logger: logger.With(slog.Int("worker", e.Rank))}
		if err := b.Sync(ctx, e.Rank, barrier.PhasePrepare, d.prepare(base.RunID)); err != nil {
			return err
		}
		for i, mode := range schedule {
			if i > 0 {
				if err := b.Sync(ctx, e.Rank, barrier.PhaseStage, nil); err != nil {
					return err
				}
			}
			if mode.Learning() {
				if err := w.learn(ctx, mode); err != nil {
					return fmt.Errorf("%s: %w", mode, err)
				}
				continue
			}
			outs, err := w.infer(ctx, mode)
			if err != nil {
				return fmt.Errorf("%s: %w", mode, err)
			}
			mu.Lock()
			outcomes = append(outcomes, outs...)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		return nil, err
	}

	slices.SortStableFunc(outcomes, func(a, b Outcome) int {
		if c := slices.Index(schedule, a.Mode) - slices.Index(schedule, b.Mode); c != 0 {
			return c
		}
		if c := strings.Compare(a.Example, b.Example); c != 0 {
			return c
		}
		return a.Iter - b.Iter
	})
	logger.Info("run finished",
		slog.Int("outcomes", len(outcomes)),
		slog.Duration("elapsed", time.Since(started)))
	return outcomes, nil
}

// prepare returns the coordinator's setup step: create the run's
// directories.
func (d *Driver) prepare(runID string) func(context.Context) error {
	return func(context.Context) error {
		for _, dir := range []string{d.opts.ModelDir, d.runTempDir(runID), d.opts.OutputDir} {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
		return nil
	}
}

func (d *Driver) runTempDir(runID string) string {
	return filepath.Join(d.opts.TempDir, runID)
}

func (d *Driver) newModel(logger *slog.Logger) rank.Model {
	return newModel(d.opts, d.trainer, logger)
}

// MeanLoss averages the loss of the outcomes of mode that have one.
func MeanLoss(outcomes []Outcome, mode node.Mode) (mean float64, n int) {
	var sum float64
	for _, o := range outcomes {
		if o.Mode == mode && o.HasLoss {
			sum += o.Loss
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

func joinModes(modes []node.Mode) string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = m.String()
	}
	return strings.Join(names, ",")
}
