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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/hcsearch/pkg/logging"
	"github.com/AleutianAI/hcsearch/services/hcsearch/config"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/observability"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	configPath    string
	datasetDir    string
	scheduleFlag  string
	workersFlag   int
	timeBoundFlag int
	procedureFlag string
	seedFlag      uint64
	serveAddr     string

	cfg       config.Config
	logger    *logging.Logger
	telemetry func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "hcsearch",
		Short: "Learned HC-Search over structured labelings",
		Long: `hcsearch learns heuristic and cost ranking functions and uses them
to search for low-cost labelings of graph-structured inputs.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a schedule of learning and inference stages over a dataset",
		Example: `  hcsearch run --dataset data/stanford --schedule learnh,learnc,hc
  hcsearch run --config hcsearch.yaml --workers 8`,
		Args: cobra.NoArgs,
		RunE: runSchedule,
	}

	learnCmd = &cobra.Command{
		Use:       "learn h|c|coracle",
		Short:     "Learn one model over the training split",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"h", "c", "coracle"},
		RunE:      runLearn,
	}

	inferCmd = &cobra.Command{
		Use:       "infer ll|hl|lc|hc",
		Short:     "Search the inference split with saved models",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"ll", "hl", "lc", "hc"},
		RunE:      runInfer,
	}

	mergeCmd = &cobra.Command{
		Use:   "merge-rankings <out> <in>...",
		Short: "Concatenate ranking files, renumbering query ids",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runMergeRankings,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve inference over HTTP with saved models",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hcsearch %s\n", version)
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "hcsearch.yaml", "Configuration file (YAML or JSON); missing means defaults")
	pf.StringVar(&datasetDir, "dataset", "", "Dataset directory (overrides paths.dataset)")
	pf.IntVar(&workersFlag, "workers", 0, "Data-parallel workers (overrides parallel.workers)")
	pf.IntVar(&timeBoundFlag, "time-bound", -1, "Search steps per example (overrides search.time_bound)")
	pf.StringVar(&procedureFlag, "procedure", "", "greedy, breadthbeam or bestbeam (overrides search.procedure.name)")
	pf.Uint64Var(&seedFlag, "seed", 0, "Random seed (overrides search.seed)")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&scheduleFlag, "schedule", "", "Comma-separated modes, e.g. learnh,learnc,hc")

	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(inferCmd)
	rootCmd.AddCommand(mergeCmd)

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")

	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration, applies flag overrides and starts
// logging and telemetry.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd {
		return nil
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("dataset") {
		loaded.Paths.Dataset = datasetDir
	}
	if flags.Changed("workers") {
		loaded.Parallel.Workers = workersFlag
	}
	if flags.Changed("time-bound") {
		loaded.Search.TimeBound = timeBoundFlag
	}
	if flags.Changed("procedure") {
		loaded.Search.Procedure.Name = procedureFlag
	}
	if flags.Changed("seed") {
		loaded.Search.Seed = seedFlag
	}
	if cmd == runCmd && scheduleFlag != "" {
		loaded.Search.Schedule = splitList(scheduleFlag)
	}
	if cmd == serveCmd && serveAddr != "" {
		loaded.Server.Addr = serveAddr
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	logger = logging.New(cfg.LoggerConfig())
	slog.SetDefault(logger.Slog())

	cfg.Observability.ServiceVersion = version
	shutdown, err := observability.Init(cmd.Context(), cfg.Observability)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	telemetry = shutdown
	logger.Debug("configuration loaded", "config", configPath, "command", cmd.Name())
	return nil
}

func teardown(cmd *cobra.Command, _ []string) error {
	var errs []error
	if telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, telemetry(ctx))
		telemetry = nil
	}
	if logger != nil {
		errs = append(errs, logger.Close())
	}
	return errors.Join(errs...)
}

// learnModes maps "hcsearch learn" arguments to learning modes.
var learnModes = map[string]node.Mode{
	"h":       node.ModeLearnH,
	"c":       node.ModeLearnC,
	"coracle": node.ModeLearnCOracleH,
}

func runLearn(cmd *cobra.Command, args []string) error {
	return execute(cmd.Context(), []node.Mode{learnModes[args[0]]})
}

func runInfer(cmd *cobra.Command, args []string) error {
	mode, err := node.ParseMode(args[0])
	if err != nil {
		return err
	}
	return execute(cmd.Context(), []node.Mode{mode})
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}
	return execute(cmd.Context(), schedule)
}
