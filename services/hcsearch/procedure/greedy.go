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
	"context"
	"log/slog"

	"github.com/AleutianAI/hcsearch/services/hcsearch/metrics"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
)

// Greedy follows the single best-heuristic successor at every step.
//
// Each step expands the current node, discards successors whose labels
// were already visited, and moves to the fresh successor with the lowest
// heuristic. The search stops at the time bound or when a node has no
// fresh successor. The output is the lowest-cost node visited.
//
// Thread Safety: Safe for concurrent use; each Search is independent.
type Greedy struct {
	settings settings
}

// NewGreedy creates a greedy procedure.
func NewGreedy(opts ...Option) *Greedy {
	return &Greedy{settings: newSettings(opts)}
}

// Name implements Procedure.
func (g *Greedy) Name() string { return "greedy" }

// Search implements Procedure.
func (g *Greedy) Search(ctx context.Context, req Request) (*Result, error) {
	return observe(ctx, g.settings, g.Name(), req, func(ctx context.Context) (*Result, error) {
		return g.search(ctx, req)
	})
}

func (g *Greedy) search(ctx context.Context, req Request) (*Result, error) {
	r, err := start(req, g.Name(), g.settings)
	if err != nil {
		return nil, err
	}
	tree := r.tree
	visited := newLabelIndex(tree)
	visited.add(r.root)
	all := []node.Handle{r.root}
	current, best := r.root, r.root

	for r.steps < req.TimeBound {
		if err := r.snapshot(ctx, r.steps, best); err != nil {
			return nil, err
		}
		stepCtx, span := g.settings.tracer.TraceStep(ctx, r.steps, 1)
		children, err := tree.Expand(stepCtx, current)
		if err != nil {
			g.settings.tracer.EndStep(stepCtx, span, 1, 0, err)
			return nil, err
		}

		fresh := make([]node.Handle, 0, len(children))
		dups := 0
		for _, c := range children {
			if g.settings.duplicateCheck {
				if visited.contains(tree.Node(c).Labeling()) {
					dups++
					continue
				}
				visited.add(c)
			}
			fresh = append(fresh, c)
		}
		r.dups += dups
		r.steps++
		metrics.RecordDuplicates(dups)
		metrics.RecordStep(g.Name())
		g.settings.tracer.EndStep(stepCtx, span, 1, len(fresh), nil)

		if len(fresh) == 0 {
			r.logger.Debug("no fresh successors",
				slog.Int("step", r.steps),
				slog.Int("handle", int(current)))
			break
		}

		q := newQueue(byHeuristic(tree))
		for _, h := range fresh {
			q.push(h)
		}
		order := q.drain()
		if err := r.trainHeuristic(order[:1], order[1:]); err != nil {
			return nil, err
		}
		for _, h := range fresh {
			if tree.Node(h).Cost() < tree.Node(best).Cost() {
				best = h
			}
		}
		all = append(all, fresh...)
		current = order[0]
	}

	costs := newQueue(byCost(tree))
	for _, h := range all {
		costs.push(h)
	}
	sorted := costs.drain()
	if len(sorted) == 0 {
		return nil, ErrEmptyCostSet
	}
	if err := r.trainCost(sorted); err != nil {
		return nil, err
	}
	return r.result(sorted[0])
}
