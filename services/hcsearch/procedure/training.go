// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package procedure

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
)

// trainHeuristic forwards one step's heuristic ranking examples: the
// chosen successors rank ahead of the candidates left behind.
func (r *run) trainHeuristic(chosen, rest []node.Handle) error {
	if r.req.Mode != node.ModeLearnH {
		return nil
	}
	better, err := features(r.tree, chosen, (*node.Node).HeuristicFeatures)
	if err != nil {
		return err
	}
	worse, err := features(r.tree, rest, (*node.Node).HeuristicFeatures)
	if err != nil {
		return err
	}
	return r.train("heuristic", better, worse)
}

// trainCost forwards the cost ranking examples at the end of a search.
// Handles must be sorted by cost ascending. Nodes tied with the best cost
// rank ahead of all others.
func (r *run) trainCost(sorted []node.Handle) error {
	if r.req.Mode != node.ModeLearnC && r.req.Mode != node.ModeLearnCOracleH {
		return nil
	}
	if len(sorted) == 0 {
		return nil
	}
	best := r.tree.Node(sorted[0]).Cost()
	split := 0
	for split < len(sorted) && r.tree.Node(sorted[split]).Cost() <= best {
		split++
	}
	better, err := features(r.tree, sorted[:split], (*node.Node).CostFeatures)
	if err != nil {
		return err
	}
	worse, err := features(r.tree, sorted[split:], (*node.Node).CostFeatures)
	if err != nil {
		return err
	}
	return r.train("cost", better, worse)
}

// train skips groups that express no preference.
func (r *run) train(kind string, better, worse []rank.Features) error {
	if len(better) == 0 || len(worse) == 0 {
		r.logger.Debug("no ranking preference to train",
			slog.String("kind", kind),
			slog.Int("better", len(better)),
			slog.Int("worse", len(worse)))
		return nil
	}
	if err := r.req.Learner.Train(better, worse); err != nil {
		return fmt.Errorf("train %s: %w", kind, err)
	}
	return nil
}

func features(t *node.Tree, handles []node.Handle, get func(*node.Node) (rank.Features, error)) ([]rank.Features, error) {
	out := make([]rank.Features, 0, len(handles))
	for _, h := range handles {
		f, err := get(t.Node(h))
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", h, err)
		}
		out = append(out, f)
	}
	return out, nil
}
