// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the hcsearch configuration file.
//
// Configuration is layered: Default, then the YAML (or JSON) file, then
// HCSEARCH_* environment variables, then validation. A missing file is
// not an error.
//
// Example hcsearch.yaml:
//
//	classes:
//	  labels: [1, 0, -1]
//	  background: [-1]
//	search:
//	  procedure: {name: greedy, beam_size: 1, duplicate_check: true}
//	  time_bound: 20
//	  schedule: [learnh, learnc, hc]
//	successor:
//	  name: stochastic
//	  cut_mode: state
//	rank:
//	  kind: svmrank
//	paths:
//	  dataset: data/stanford
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/hcsearch/pkg/logging"
	"github.com/AleutianAI/hcsearch/services/hcsearch/dataset"
	"github.com/AleutianAI/hcsearch/services/hcsearch/initial"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/learning"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/observability"
	"github.com/AleutianAI/hcsearch/services/hcsearch/procedure"
	"github.com/AleutianAI/hcsearch/services/hcsearch/prune"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
	"github.com/AleutianAI/hcsearch/services/hcsearch/space"
	"github.com/AleutianAI/hcsearch/services/hcsearch/store"
	"github.com/AleutianAI/hcsearch/services/hcsearch/successor"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// Config is the complete hcsearch configuration.
type Config struct {
	Classes       ClassesConfig        `json:"classes" yaml:"classes"`
	Search        SearchConfig         `json:"search" yaml:"search"`
	Space         SpaceConfig          `json:"space" yaml:"space"`
	Successor     successor.Config     `json:"successor" yaml:"successor"`
	Prune         prune.Config         `json:"prune" yaml:"prune"`
	Rank          RankConfig           `json:"rank" yaml:"rank"`
	Parallel      ParallelConfig       `json:"parallel" yaml:"parallel"`
	Paths         PathsConfig          `json:"paths" yaml:"paths"`
	Store         store.Config         `json:"store" yaml:"store"`
	Observability observability.Config `json:"observability" yaml:"observability"`
	Logging       LoggingConfig        `json:"logging" yaml:"logging"`
	Server        ServerConfig         `json:"server" yaml:"server"`
}

// ClassesConfig lists the class labels. Empty labels mean the default
// map {1, 0, -1} with background -1.
type ClassesConfig struct {
	Labels     []int `json:"labels" yaml:"labels"`
	Background []int `json:"background" yaml:"background"`
}

// SearchConfig selects the procedure and the run schedule.
type SearchConfig struct {
	Procedure procedure.Config `json:"procedure" yaml:"procedure"`

	// TimeBound is the number of steps per search.
	TimeBound int `json:"time_bound" yaml:"time_bound" validate:"gte=0"`

	// Schedule is the ordered list of modes "hcsearch run" executes.
	Schedule []string `json:"schedule" yaml:"schedule"`

	TrainIterations int    `json:"train_iterations" yaml:"train_iterations" validate:"gte=1"`
	TestIterations  int    `json:"test_iterations" yaml:"test_iterations" validate:"gte=1"`
	InferSplit      string `json:"infer_split" yaml:"infer_split"`

	// SaveAnytime writes nodes_/edges_ files for every step.
	SaveAnytime bool `json:"save_anytime" yaml:"save_anytime"`

	// RecordSnapshots stores every inference step in the run store.
	RecordSnapshots bool `json:"record_snapshots" yaml:"record_snapshots"`

	// Seed fixes the random generator. Zero seeds from the clock.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// SpaceConfig names the feature and loss functions and the initial
// state.
type SpaceConfig struct {
	HeuristicFeatures string         `json:"heuristic_features" yaml:"heuristic_features" validate:"required"`
	CostFeatures      string         `json:"cost_features" yaml:"cost_features" validate:"required"`
	PruneFeatures     string         `json:"prune_features" yaml:"prune_features"`
	Loss              string         `json:"loss" yaml:"loss" validate:"omitempty,oneof=hamming pixel_hamming"`
	Initial           initial.Config `json:"initial" yaml:"initial"`

	// Dictionary is the codebook for sum_global and max_global.
	Dictionary string `json:"dictionary" yaml:"dictionary"`

	// Mutex is a label co-placement table file. When a function needs a
	// table and none is given, one is counted from the training split.
	Mutex          string `json:"mutex" yaml:"mutex"`
	MutexThreshold int    `json:"mutex_threshold" yaml:"mutex_threshold" validate:"gte=0"`
}

// RankConfig selects the ranking model.
type RankConfig struct {
	// Kind is "svmrank" or "online".
	Kind    string             `json:"kind" yaml:"kind" validate:"omitempty,oneof=svmrank online"`
	SVMRank rank.SVMRankConfig `json:"svmrank" yaml:"svmrank"`
	Margin  float64            `json:"margin" yaml:"margin" validate:"gt=0"`
}

// ParallelConfig sets the number of data-parallel workers.
type ParallelConfig struct {
	Workers int `json:"workers" yaml:"workers" validate:"gte=1,lte=1024"`

	// LoadConcurrency bounds concurrent example file reads.
	LoadConcurrency int `json:"load_concurrency" yaml:"load_concurrency" validate:"gte=1"`
}

// PathsConfig locates inputs and outputs.
type PathsConfig struct {
	Dataset string `json:"dataset" yaml:"dataset"`
	Models  string `json:"models" yaml:"models" validate:"required"`
	Temp    string `json:"temp" yaml:"temp" validate:"required"`
	Output  string `json:"output" yaml:"output" validate:"required"`

	// PruneModel is the ranker read by "ranker" pruning.
	PruneModel string `json:"prune_model" yaml:"prune_model"`
}

// LoggingConfig mirrors logging.Config for files.
type LoggingConfig struct {
	Level   string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format  string `json:"format" yaml:"format" validate:"omitempty,oneof=auto text json"`
	Dir     string `json:"dir" yaml:"dir"`
	Service string `json:"service" yaml:"service"`
	Quiet   bool   `json:"quiet" yaml:"quiet"`
}

// ServerConfig configures "hcsearch serve".
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" validate:"required"`

	// MaxNodes bounds the size of a request graph.
	MaxNodes int `json:"max_nodes" yaml:"max_nodes" validate:"gte=1"`

	// MaxTimeBound caps a request's time_bound.
	MaxTimeBound int `json:"max_time_bound" yaml:"max_time_bound" validate:"gte=0"`

	// RequestTimeout bounds one search.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	sp := space.DefaultConfig()
	return Config{
		Search: SearchConfig{
			Procedure:       procedure.DefaultConfig(),
			TimeBound:       10,
			Schedule:        []string{"learnh", "learnc", "hc"},
			TrainIterations: 1,
			TestIterations:  1,
			InferSplit:      string(dataset.SplitTest),
			RecordSnapshots: true,
		},
		Space: SpaceConfig{
			HeuristicFeatures: sp.HeuristicFeatures,
			CostFeatures:      sp.CostFeatures,
			Loss:              sp.Loss,
			Initial:           sp.Initial,
			MutexThreshold:    sp.MutexThreshold,
		},
		Successor: sp.Successor,
		Prune:     sp.Prune,
		Rank: RankConfig{
			Kind:    string(rank.KindSVMRank),
			SVMRank: rank.DefaultSVMRankConfig(),
			Margin:  rank.DefaultMargin,
		},
		Parallel: ParallelConfig{Workers: 1, LoadConcurrency: 8},
		Paths: PathsConfig{
			Models: "models",
			Temp:   "tmp",
			Output: "results",
		},
		Store:         store.DefaultConfig(),
		Observability: observability.DefaultConfig(),
		Logging:       LoggingConfig{Level: "info", Format: "auto", Service: "hcsearch"},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxNodes:       100000,
			MaxTimeBound:   1000,
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// applyEnv overrides the most commonly changed settings from the
// environment. Malformed numbers are errors.
func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"HCSEARCH_DATASET":        &cfg.Paths.Dataset,
		"HCSEARCH_MODEL_DIR":      &cfg.Paths.Models,
		"HCSEARCH_TEMP_DIR":       &cfg.Paths.Temp,
		"HCSEARCH_OUTPUT_DIR":     &cfg.Paths.Output,
		"HCSEARCH_PROCEDURE":      &cfg.Search.Procedure.Name,
		"HCSEARCH_SUCCESSOR":      &cfg.Successor.Name,
		"HCSEARCH_RANKER":         &cfg.Rank.Kind,
		"HCSEARCH_SVM_RANK_LEARN": &cfg.Rank.SVMRank.Binary,
		"HCSEARCH_STORE_PATH":     &cfg.Store.Path,
		"HCSEARCH_LOG_LEVEL":      &cfg.Logging.Level,
		"HCSEARCH_LOG_FORMAT":     &cfg.Logging.Format,
		"HCSEARCH_LOG_DIR":        &cfg.Logging.Dir,
		"HCSEARCH_SERVER_ADDR":    &cfg.Server.Addr,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HCSEARCH_WORKERS":    &cfg.Parallel.Workers,
		"HCSEARCH_TIME_BOUND": &cfg.Search.TimeBound,
		"HCSEARCH_BEAM_SIZE":  &cfg.Search.Procedure.BeamSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
			}
			*dst = i
		}
	}

	if v := os.Getenv("HCSEARCH_SCHEDULE"); v != "" {
		cfg.Search.Schedule = strings.Split(v, ",")
	}
	if v := os.Getenv("HCSEARCH_STORE_IN_MEMORY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: HCSEARCH_STORE_IN_MEMORY=%q: %v", ErrInvalidConfig, v, err)
		}
		cfg.Store.InMemory = b
	}
	return nil
}

// Validate checks struct tags and the constraints between sections.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.ClassMap(); err != nil {
		return fmt.Errorf("%w: classes: %v", ErrInvalidConfig, err)
	}
	if _, err := learning.ParseSchedule(strings.Join(c.Search.Schedule, ",")); err != nil {
		return fmt.Errorf("%w: schedule: %v", ErrInvalidConfig, err)
	}
	if _, err := dataset.ParseSplit(c.Search.InferSplit); err != nil {
		return fmt.Errorf("%w: infer_split: %v", ErrInvalidConfig, err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required unless store.in_memory is set", ErrInvalidConfig)
	}
	if c.Prune.Name == "ranker" && c.Paths.PruneModel == "" {
		return fmt.Errorf("%w: ranker pruning needs paths.prune_model", ErrInvalidConfig)
	}
	if c.Server.MaxTimeBound > 0 && c.Search.TimeBound > c.Server.MaxTimeBound {
		return fmt.Errorf("%w: search.time_bound %d exceeds server.max_time_bound %d",
			ErrInvalidConfig, c.Search.TimeBound, c.Server.MaxTimeBound)
	}
	return nil
}

// ClassMap builds the class map. Empty labels select the default map.
func (c Config) ClassMap() (*labeling.ClassMap, error) {
	if len(c.Classes.Labels) == 0 {
		return labeling.DefaultClassMap(), nil
	}
	return labeling.NewClassMap(c.Classes.Labels, c.Classes.Background)
}

// SpaceConfig assembles the search space configuration.
func (c Config) SpaceConfig() space.Config {
	return space.Config{
		HeuristicFeatures: c.Space.HeuristicFeatures,
		CostFeatures:      c.Space.CostFeatures,
		PruneFeatures:     c.Space.PruneFeatures,
		Loss:              c.Space.Loss,
		Dictionary:        c.Space.Dictionary,
		Mutex:             c.Space.Mutex,
		MutexThreshold:    c.Space.MutexThreshold,
		Initial:           c.Space.Initial,
		Successor:         c.Successor,
		Prune:             c.Prune,
	}
}

// LearningOptions assembles the run options.
func (c Config) LearningOptions() learning.Options {
	split, _ := dataset.ParseSplit(c.Search.InferSplit)
	return learning.Options{
		TimeBound:       c.Search.TimeBound,
		TrainIterations: c.Search.TrainIterations,
		TestIterations:  c.Search.TestIterations,
		InferSplit:      split,
		Ranker:          rank.Kind(c.Rank.Kind),
		SVMRank:         c.Rank.SVMRank,
		Margin:          c.Rank.Margin,
		SaveAnytime:     c.Search.SaveAnytime,
		ModelDir:        c.Paths.Models,
		TempDir:         c.Paths.Temp,
		OutputDir:       c.Paths.Output,
		Workers:         c.Parallel.Workers,
	}
}

// Schedule returns the parsed run schedule.
func (c Config) Schedule() ([]node.Mode, error) {
	return learning.ParseSchedule(strings.Join(c.Search.Schedule, ","))
}

// LoggerConfig converts the logging section. The exporter is left for
// the caller.
func (c Config) LoggerConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: c.Logging.Service,
		Format:  logging.Format(c.Logging.Format),
		Quiet:   c.Logging.Quiet,
	}
}
