// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package node

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/loss"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
	"github.com/AleutianAI/hcsearch/services/hcsearch/space"
)

// Models holds the learned models a mode may consult.
type Models struct {
	Heuristic rank.Model
	Cost      rank.Model
}

// Tree owns every node of one search as an arena.
//
// Thread Safety: Not safe for concurrent use. One search is sequential.
type Tree struct {
	e      *env.Env
	space  *space.Space
	mode   Mode
	x      *labeling.FeatureGraph
	truth  *labeling.Labeling
	models Models
	nodes  []*Node
}

// NewTree creates an empty tree.
//
// Inputs:
//   - e: Run context.
//   - sp: Search space. Must be valid.
//   - mode: Search mode.
//   - x: Feature graph of the example.
//   - truth: Ground truth. Required by every mode except ModeHC.
//   - models: Models required by the mode.
//
// Outputs:
//   - *Tree: Empty tree; call AddRoot next.
//   - error: ErrUnknownMode, loss.ErrMissingGroundTruth or ErrMissingModel.
func NewTree(e *env.Env, sp *space.Space, mode Mode, x *labeling.FeatureGraph, truth *labeling.Labeling, models Models) (*Tree, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if mode.NeedsTruth() && truth == nil {
		return nil, fmt.Errorf("%s search: %w", mode, loss.ErrMissingGroundTruth)
	}
	if mode.LearnedHeuristic() && models.Heuristic == nil {
		return nil, fmt.Errorf("%w: %s needs a heuristic model", ErrMissingModel, mode)
	}
	if mode.LearnedCost() && models.Cost == nil {
		return nil, fmt.Errorf("%w: %s needs a cost model", ErrMissingModel, mode)
	}
	return &Tree{e: e, space: sp, mode: mode, x: x, truth: truth, models: models}, nil
}

// Mode returns the tree's search mode.
func (t *Tree) Mode() Mode { return t.mode }

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node at h, or nil for an invalid handle.
func (t *Tree) Node(h Handle) *Node {
	if h < 0 || int(h) >= len(t.nodes) {
		return nil
	}
	return t.nodes[h]
}

// AddRoot adds the root state with an empty action.
func (t *Tree) AddRoot(y *labeling.Labeling) (Handle, error) {
	return t.add(NoParent, y, labeling.Action{})
}

// Add adds a child of parent built from c.
func (t *Tree) Add(parent Handle, c labeling.Candidate) (Handle, error) {
	if t.Node(parent) == nil {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHandle, parent)
	}
	return t.add(parent, c.Labeling, c.Action)
}

func (t *Tree) add(parent Handle, y *labeling.Labeling, action labeling.Action) (Handle, error) {
	n := &Node{y: y, action: action, parent: parent, mode: t.mode}
	if p := t.Node(parent); p != nil {
		n.depth = p.depth + 1
	}

	var err error
	if t.mode.KeepsHeuristicFeatures() {
		if n.heuristicFeatures, err = t.space.HeuristicFeatures.Compute(t.x, y, action); err != nil {
			return 0, fmt.Errorf("heuristic features: %w", err)
		}
	}
	if t.mode.KeepsCostFeatures() {
		if n.costFeatures, err = t.space.CostFeatures.Compute(t.x, y, action); err != nil {
			return 0, fmt.Errorf("cost features: %w", err)
		}
	}
	if t.mode.NeedsTruth() {
		if n.loss, err = t.space.Loss.Compute(y, t.truth); err != nil {
			return 0, fmt.Errorf("loss: %w", err)
		}
		n.hasLoss = true
	}

	n.heuristic = n.loss
	if t.mode.LearnedHeuristic() {
		n.heuristic = t.models.Heuristic.Score(n.heuristicFeatures)
	}
	n.cost = n.loss
	if t.mode.LearnedCost() {
		n.cost = t.models.Cost.Score(n.costFeatures)
	}

	t.nodes = append(t.nodes, n)
	return Handle(len(t.nodes) - 1), nil
}

// Expand generates, prunes and adds the successors of h.
//
// Outputs:
//   - []Handle: One child per surviving candidate, possibly empty.
//   - error: ctx error, ErrInvalidHandle, or a successor, prune or
//     feature failure.
func (t *Tree) Expand(ctx context.Context, h Handle) ([]Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parent := t.Node(h)
	if parent == nil {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	cands, err := t.space.Successors(t.e, t.x, parent.y, t.truth)
	if err != nil {
		return nil, err
	}
	children := make([]Handle, 0, len(cands))
	for _, c := range cands {
		child, err := t.add(h, c.Labeling, c.Action)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	t.e.Logger.Debug("expanded node",
		slog.Int("handle", int(h)),
		slog.Float64("heuristic", parent.heuristic),
		slog.Float64("cost", parent.cost),
		slog.Int("children", len(children)))
	return children, nil
}

// Path returns the handles from the root to h.
func (t *Tree) Path(h Handle) []Handle {
	var path []Handle
	for n := t.Node(h); n != nil; n = t.Node(h) {
		path = append(path, h)
		h = n.parent
	}
	slices.Reverse(path)
	return path
}
