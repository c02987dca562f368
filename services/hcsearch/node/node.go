// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package node implements search states and the tree that owns them.
//
// A Node is immutable: its heuristic, cost and feature vectors are fixed
// when the Tree constructs it. Parents are referenced by Handle into the
// Tree's arena, so no node outlives the tree that holds its parent.
package node

import (
	"errors"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
)

var (
	// ErrUndefinedForMode is returned when a node is asked for features its
	// mode does not keep.
	ErrUndefinedForMode = errors.New("undefined for search mode")

	// ErrUnknownMode is returned for an unrecognized mode name.
	ErrUnknownMode = errors.New("unknown search mode")

	// ErrMissingModel is returned when a mode needs a model that was not
	// supplied.
	ErrMissingModel = errors.New("search mode requires a model")

	// ErrInvalidHandle is returned for a handle outside the tree.
	ErrInvalidHandle = errors.New("invalid node handle")
)

// Handle indexes a node in its Tree.
type Handle int

// NoParent is the parent handle of a root.
const NoParent Handle = -1

// Node is one search state.
type Node struct {
	y      *labeling.Labeling
	action labeling.Action
	parent Handle
	depth  int
	mode   Mode

	heuristic float64
	cost      float64
	loss      float64
	hasLoss   bool

	heuristicFeatures rank.Features
	costFeatures      rank.Features
}

// Labeling returns the node's labeling. It must not be modified.
func (n *Node) Labeling() *labeling.Labeling { return n.y }

// Action returns the nodes changed from the parent. Empty at the root.
func (n *Node) Action() labeling.Action { return n.action }

// Parent returns the parent handle, NoParent at the root.
func (n *Node) Parent() Handle { return n.parent }

// Depth returns the number of edges from the root.
func (n *Node) Depth() int { return n.depth }

// Mode returns the node's search mode.
func (n *Node) Mode() Mode { return n.mode }

// Heuristic returns the value used to choose which node to expand.
// Lower is better.
func (n *Node) Heuristic() float64 { return n.heuristic }

// Cost returns the value used to choose the output. Lower is better.
func (n *Node) Cost() float64 { return n.cost }

// Loss returns the true loss and whether it was computed.
func (n *Node) Loss() (float64, bool) { return n.loss, n.hasLoss }

// HeuristicFeatures returns the heuristic feature vector, or
// ErrUndefinedForMode when the mode keeps none.
func (n *Node) HeuristicFeatures() (rank.Features, error) {
	if !n.mode.KeepsHeuristicFeatures() {
		return nil, ErrUndefinedForMode
	}
	return n.heuristicFeatures, nil
}

// CostFeatures returns the cost feature vector, or ErrUndefinedForMode
// when the mode keeps none.
func (n *Node) CostFeatures() (rank.Features, error) {
	if !n.mode.KeepsCostFeatures() {
		return nil, ErrUndefinedForMode
	}
	return n.costFeatures, nil
}
