// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package learning

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/hcsearch/services/hcsearch/barrier"
	"github.com/AleutianAI/hcsearch/services/hcsearch/dataset"
	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/procedure"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
)

// target describes the model a learning mode produces.
type target struct {
	model    string
	features string
	phase    barrier.Phase
}

var targets = map[node.Mode]target{
	node.ModeLearnH:        {model: "heuristic_model.txt", features: "heuristic_features", phase: barrier.PhaseMergeH},
	node.ModeLearnC:        {model: "cost_H_model.txt", features: "cost_H_features", phase: barrier.PhaseMergeC},
	node.ModeLearnCOracleH: {model: "cost_oracleH_model.txt", features: "cost_oracleH_features", phase: barrier.PhaseMergeCOracleH},
}

// ModelFile returns the file name of the model learned by mode.
func ModelFile(mode node.Mode) (string, bool) {
	t, ok := targets[mode]
	return t.model, ok
}

// Requires returns the learning modes whose models mode searches with.
func Requires(mode node.Mode) []node.Mode {
	switch mode {
	case node.ModeHL, node.ModeLearnC:
		return []node.Mode{node.ModeLearnH}
	case node.ModeLC:
		return []node.Mode{node.ModeLearnCOracleH}
	case node.ModeHC:
		return []node.Mode{node.ModeLearnH, node.ModeLearnC}
	default:
		return nil
	}
}

// worker is one rank's view of a run. Models are private to the worker.
type worker struct {
	d      *Driver
	e      *env.Env
	b      *barrier.Barrier
	logger *slog.Logger
	models Models
}

// shard returns this worker's slice of split.
func (w *worker) shard(split dataset.Split) []*labeling.Example {
	all := w.d.data.Split(split)
	start, end := barrier.TaskRange(w.e.Rank, len(all), w.e.NumWorkers)
	return all[start:end]
}

// modelsFor resolves the models mode searches with, loading any not
// learned in this run from the model directory.
func (w *worker) modelsFor(mode node.Mode) (node.Models, error) {
	if w.models == nil {
		w.models = make(Models)
	}
	for _, need := range Requires(mode) {
		if w.models[need] != nil {
			continue
		}
		path := filepath.Join(w.d.opts.ModelDir, targets[need].model)
		m := w.d.newModel(w.logger)
		if err := m.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return node.Models{}, fmt.Errorf("%w: %s needs %s", ErrModelMissing, mode, path)
			}
			return node.Models{}, err
		}
		w.logger.Debug("model loaded", slog.String("path", path))
		w.models[need] = m
	}
	return w.models.For(mode)
}

func (w *worker) search(ctx context.Context, mode node.Mode, ex *labeling.Example, models node.Models, learner rank.Model, meta procedure.Meta, sink procedure.SnapshotSink) (*procedure.Result, error) {
	return w.d.proc.Search(ctx, procedure.Request{
		Env:       w.e,
		Space:     w.d.space,
		Mode:      mode,
		Example:   ex,
		Models:    models,
		Learner:   learner,
		TimeBound: w.d.opts.TimeBound,
		Sink:      sink,
		Meta:      meta,
	})
}

// learn runs a learning stage: search the worker's training shard,
// publish its ranking examples, let the coordinator fit the model, and
// load the result.
func (w *worker) learn(ctx context.Context, mode node.Mode) error {
	t := targets[mode]
	models, err := w.modelsFor(mode)
	if err != nil {
		return err
	}
	modelPath := filepath.Join(w.d.opts.ModelDir, t.model)
	learner := w.d.newModel(w.logger)
	svm, batch := learner.(*rank.SVMRank)
	if batch {
		if err := svm.StartTraining(w.rankingPath(t, w.e.Rank), modelPath); err != nil {
			return err
		}
	}

	exs := w.shard(dataset.SplitTrain)
	w.logger.Info("learning stage",
		slog.String("mode", mode.String()),
		slog.Int("examples", len(exs)),
		slog.Int("iterations", w.d.opts.TrainIterations))
	err = w.each(ctx, exs, w.d.opts.TrainIterations, func(ex *labeling.Example, iter int) error {
		meta := procedure.Meta{Example: ex.Name, Set: string(dataset.SplitTrain), Iter: iter}
		_, err := w.search(ctx, mode, ex, models, learner, meta, nil)
		return err
	})

	var shared func(context.Context) error
	if batch {
		_, _, closeErr := svm.CloseTraining()
		err = errors.Join(err, closeErr)
		shared = w.mergeSVMRank(t, modelPath)
	} else {
		if err == nil {
			err = learner.Save(w.workerModelPath(t, w.e.Rank))
		}
		shared = w.mergeOnline(t, modelPath)
	}
	if err != nil {
		return err
	}

	if err := w.b.Sync(ctx, w.e.Rank, t.phase, shared); err != nil {
		return err
	}
	model := w.d.newModel(w.logger)
	if err := model.Load(modelPath); err != nil {
		return fmt.Errorf("load merged model: %w", err)
	}
	if w.models == nil {
		w.models = make(Models)
	}
	w.models[mode] = model
	return nil
}

func (w *worker) rankingPath(t target, r int) string {
	return filepath.Join(w.d.runTempDir(w.e.RunID), fmt.Sprintf("%s_rank%d.txt", t.features, r))
}

func (w *worker) workerModelPath(t target, r int) string {
	return filepath.Join(w.d.runTempDir(w.e.RunID), fmt.Sprintf("%s_rank%d.txt", strings.TrimSuffix(t.model, ".txt"), r))
}

// mergeSVMRank returns the coordinator step that merges every worker's
// ranking file and trains one model on the result.
func (w *worker) mergeSVMRank(t target, modelPath string) func(context.Context) error {
	return func(ctx context.Context) error {
		inputs := make([]string, w.b.Size())
		for r := range inputs {
			inputs[r] = w.rankingPath(t, r)
		}
		merged := filepath.Join(w.d.runTempDir(w.e.RunID), t.features+"_merged.txt")
		queries, err := rank.MergeRankingFiles(merged, inputs...)
		if err != nil {
			return fmt.Errorf("merge ranking files: %w", err)
		}
		if queries == 0 {
			return fmt.Errorf("%w: %s", ErrNoTrainingExamples, t.features)
		}
		w.logger.Info("ranking files merged",
			slog.String("path", merged),
			slog.Int("files", len(inputs)),
			slog.Int("queries", queries))
		trainer := rank.NewSVMRank(w.d.opts.SVMRank, rank.WithRunner(w.d.trainer), rank.WithLogger(w.logger))
		return trainer.TrainFile(ctx, merged, modelPath, queries)
	}
}

// mergeOnline returns the coordinator step that averages every worker's
// online model. Workers without updates are skipped.
func (w *worker) mergeOnline(t target, modelPath string) func(context.Context) error {
	return func(context.Context) error {
		var merged *rank.OnlinePA
		for r := range w.b.Size() {
			m := rank.NewOnlinePA(w.d.opts.Margin)
			if err := m.Load(w.workerModelPath(t, r)); err != nil {
				return err
			}
			switch {
			case m.Updates() == 0:
			case merged == nil:
				merged = m
			default:
				merged.Merge(m)
			}
		}
		if merged == nil {
			return fmt.Errorf("%w: %s", ErrNoTrainingExamples, t.model)
		}
		return merged.Save(modelPath)
	}
}

// infer runs an inference stage over the worker's shard of the
// inference split and writes each final labeling.
func (w *worker) infer(ctx context.Context, mode node.Mode) ([]Outcome, error) {
	models, err := w.modelsFor(mode)
	if err != nil {
		return nil, err
	}
	split := w.d.opts.InferSplit
	exs := w.shard(split)

	var sink procedure.SnapshotSink
	switch {
	case w.d.opts.SaveAnytime:
		sink = procedure.MultiSink{procedure.FileSink{Dir: w.d.opts.OutputDir}, w.d.sink}
	case w.d.sink != nil:
		sink = w.d.sink
	}

	w.logger.Info("inference stage",
		slog.String("mode", mode.String()),
		slog.String("split", string(split)),
		slog.Int("examples", len(exs)))
	var outcomes []Outcome
	err = w.each(ctx, exs, w.d.opts.TestIterations, func(ex *labeling.Example, iter int) error {
		meta := procedure.Meta{Example: ex.Name, Set: string(split), Iter: iter}
		began := time.Now()
		res, err := w.search(ctx, mode, ex, models, nil, meta, sink)
		if err != nil {
			return err
		}
		path := filepath.Join(w.d.opts.OutputDir, procedure.FileName("final", mode, meta, w.d.opts.TimeBound))
		if err := labeling.SaveLabels(path, res.Labeling); err != nil {
			return fmt.Errorf("save final labeling: %w", err)
		}
		o := Outcome{
			RunID:      w.e.RunID,
			Mode:       mode,
			Example:    ex.Name,
			Set:        string(split),
			Iter:       iter,
			Labels:     res.Labeling.Labels(),
			Cost:       res.Cost,
			Loss:       res.Loss,
			HasLoss:    res.HasLoss,
			Steps:      res.Steps,
			Nodes:      res.Nodes,
			Duplicates: res.Duplicates,
			Elapsed:    time.Since(began),
		}
		if w.d.recorder != nil {
			if err := w.d.recorder.RecordOutcome(ctx, o); err != nil {
				return fmt.Errorf("record outcome: %w", err)
			}
		}
		outcomes = append(outcomes, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (w *worker) each(ctx context.Context, exs []*labeling.Example, iterations int, fn func(*labeling.Example, int) error) error {
	for iter := range iterations {
		for _, ex := range exs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ex, iter); err != nil {
				return fmt.Errorf("%s iter %d: %w", ex.Name, iter, err)
			}
		}
	}
	return nil
}
