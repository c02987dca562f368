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
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
)

// Models holds learned models keyed by the learning mode that produced
// them.
type Models map[node.Mode]rank.Model

// For returns the models mode searches with.
//
// Outputs:
//   - node.Models: Heuristic and cost models. Unused slots are nil.
//   - error: ErrModelMissing when a required model is absent.
func (m Models) For(mode node.Mode) (node.Models, error) {
	for _, need := range Requires(mode) {
		if m[need] == nil {
			return node.Models{}, fmt.Errorf("%w: %s needs %s", ErrModelMissing, mode, targets[need].model)
		}
	}
	var out node.Models
	switch mode {
	case node.ModeHL, node.ModeLearnC:
		out.Heuristic = m[node.ModeLearnH]
	case node.ModeLC:
		out.Cost = m[node.ModeLearnCOracleH]
	case node.ModeHC:
		out.Heuristic = m[node.ModeLearnH]
		out.Cost = m[node.ModeLearnC]
	}
	return out, nil
}

// LoadModels loads every model file present in opts.ModelDir. Absent
// files are skipped; callers find out through Models.For.
func LoadModels(opts Options, logger *slog.Logger) (Models, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	out := make(Models)
	for _, mode := range []node.Mode{node.ModeLearnH, node.ModeLearnC, node.ModeLearnCOracleH} {
		path := filepath.Join(opts.ModelDir, targets[mode].model)
		m := newModel(opts, nil, logger)
		if err := m.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		logger.Info("model loaded", slog.String("mode", mode.String()), slog.String("path", path))
		out[mode] = m
	}
	return out, nil
}

// NewModel returns an untrained model of the kind opts.Ranker selects.
func NewModel(opts Options, logger *slog.Logger) rank.Model {
	return newModel(opts, nil, logger)
}

func newModel(opts Options, runner rank.Runner, logger *slog.Logger) rank.Model {
	if opts.Ranker == rank.KindOnlinePA {
		return rank.NewOnlinePA(opts.Margin)
	}
	return rank.NewSVMRank(opts.SVMRank, rank.WithRunner(runner), rank.WithLogger(logger))
}
