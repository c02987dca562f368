// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hcsearch/services/hcsearch/dataset"
	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/learning"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/observability"
	"github.com/AleutianAI/hcsearch/services/hcsearch/procedure"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
	"github.com/AleutianAI/hcsearch/services/hcsearch/server"
	"github.com/AleutianAI/hcsearch/services/hcsearch/space"
	"github.com/AleutianAI/hcsearch/services/hcsearch/store"
)

// errNoDataset is returned when neither --dataset nor paths.dataset is set.
var errNoDataset = errors.New("no dataset directory: set --dataset or paths.dataset")

// execute runs schedule over the configured dataset and records the run
// in the store.
func execute(ctx context.Context, schedule []node.Mode) error {
	if cfg.Paths.Dataset == "" {
		return errNoDataset
	}
	log := logger.Slog()

	data, err := dataset.Load(ctx, cfg.Paths.Dataset,
		dataset.WithLogger(log),
		dataset.WithConcurrency(cfg.Parallel.LoadConcurrency))
	if err != nil {
		return err
	}
	classes := data.Classes
	if len(cfg.Classes.Labels) > 0 {
		if classes, err = cfg.ClassMap(); err != nil {
			return err
		}
	}

	base := env.New(classes, env.WithLogger(log), env.WithSeed(cfg.Search.Seed))
	sp, err := buildSpace(base, data.Split(dataset.SplitTrain))
	if err != nil {
		return err
	}
	proc, err := buildProcedure()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	names := make([]string, len(schedule))
	for i, m := range schedule {
		names[i] = m.String()
	}
	if err := st.CreateRun(ctx, store.RunRecord{
		ID:        base.RunID,
		Schedule:  names,
		Procedure: proc.Name(),
		Dataset:   cfg.Paths.Dataset,
		Workers:   cfg.Parallel.Workers,
	}); err != nil {
		return err
	}

	options := []learning.Option{learning.WithRecorder(st), learning.WithLogger(log)}
	if cfg.Search.RecordSnapshots {
		options = append(options, learning.WithSink(store.Sink{Store: st}))
	}
	driver, err := learning.New(data, sp, proc, cfg.LearningOptions(), options...)
	if err != nil {
		return err
	}

	outcomes, runErr := driver.Run(ctx, base, schedule)
	// The run may have been cancelled; the record is still written.
	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.FinishRun(finishCtx, base.RunID, runErr); err != nil {
		log.Warn("failed to record run status", slog.String("error", err.Error()))
	}
	if runErr != nil {
		return runErr
	}

	for _, mode := range schedule {
		if mode.Learning() {
			continue
		}
		mean, n := learning.MeanLoss(outcomes, mode)
		if n == 0 {
			log.Info("inference stage finished", slog.String("mode", mode.String()))
			continue
		}
		log.Info("inference stage finished",
			slog.String("mode", mode.String()),
			slog.Int("examples", n),
			slog.Float64("mean_loss", mean))
	}
	log.Info("run recorded", slog.String("run_id", base.RunID), slog.String("store", storeLocation()))
	return nil
}

// buildSpace assembles the configured search space. When a function needs
// a label co-placement table and no file is configured, the table is
// counted from train.
func buildSpace(e *env.Env, train []*labeling.Example) (*space.Space, error) {
	sc := cfg.SpaceConfig()
	var opts []space.Option
	if sc.NeedsMutex() && sc.Mutex == "" && len(train) > 0 {
		m := labeling.NewMutex(sc.MutexThreshold)
		for _, ex := range train {
			if err := m.Add(ex.X, ex.Truth); err != nil {
				return nil, fmt.Errorf("count mutex table on %s: %w", ex.Name, err)
			}
		}
		e.Logger.Info("counted mutex table",
			slog.Int("examples", len(train)),
			slog.Int("entries", len(m.Counts)))
		opts = append(opts, space.WithMutex(m))
	}

	var pruneModel rank.Model
	if cfg.Prune.Name == "ranker" {
		m := learning.NewModel(cfg.LearningOptions(), e.Logger)
		if err := m.Load(cfg.Paths.PruneModel); err != nil {
			return nil, fmt.Errorf("load prune model: %w", err)
		}
		pruneModel = m
	}
	return space.New(e, sc, pruneModel, opts...)
}

func buildProcedure() (procedure.Procedure, error) {
	tracer := observability.NewSearchTracer(logger.Slog(), cfg.Observability.Enabled())
	return procedure.New(cfg.Search.Procedure, procedure.WithTracer(tracer))
}

func storeLocation() string {
	if cfg.Store.InMemory {
		return "memory"
	}
	return cfg.Store.Path
}

func runMergeRankings(cmd *cobra.Command, args []string) error {
	queries, err := rank.MergeRankingFiles(args[0], args[1:]...)
	if err != nil {
		return err
	}
	logger.Info("ranking files merged",
		slog.String("path", args[0]),
		slog.Int("files", len(args)-1),
		slog.Int("queries", queries))
	fmt.Fprintf(cmd.OutOrStdout(), "%d queries written to %s\n", queries, args[0])
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := logger.Slog()
	classes, err := cfg.ClassMap()
	if err != nil {
		return err
	}
	e := env.New(classes, env.WithLogger(log))
	sp, err := buildSpace(e, nil)
	if err != nil {
		return err
	}
	proc, err := buildProcedure()
	if err != nil {
		return err
	}
	models, err := learning.LoadModels(cfg.LearningOptions(), log)
	if err != nil {
		return err
	}
	srv := server.New(classes, sp, proc, models, server.Options{
		MaxNodes:         cfg.Server.MaxNodes,
		DefaultTimeBound: cfg.Search.TimeBound,
		MaxTimeBound:     cfg.Server.MaxTimeBound,
		RequestTimeout:   cfg.Server.RequestTimeout,
		ServiceName:      cfg.Observability.ServiceName,
	}, log)
	return srv.ListenAndServe(cmd.Context(), cfg.Server.Addr)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
