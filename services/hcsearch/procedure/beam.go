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
	"fmt"

	"github.com/AleutianAI/hcsearch/services/hcsearch/metrics"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
)

// Beam is a beam search over an open set bounded by Size.
//
// Breadth-first beam expands every open node each step. Best-first beam
// expands only the best one and re-ranks the rest together with the new
// successors. In both, the best Size candidates (plus any tied with the
// last of them) become the next open set, and every accepted candidate
// joins the cost set from which the output is chosen.
//
// Thread Safety: Safe for concurrent use; each Search is independent.
type Beam struct {
	size      int
	bestFirst bool
	settings  settings
}

// NewBreadthBeam creates a breadth-first beam procedure.
//
// Outputs:
//   - *Beam: The procedure.
//   - error: ErrInvalidBeam if size < 1.
func NewBreadthBeam(size int, opts ...Option) (*Beam, error) {
	return newBeam(size, false, opts)
}

// NewBestBeam creates a best-first beam procedure.
func NewBestBeam(size int, opts ...Option) (*Beam, error) {
	return newBeam(size, true, opts)
}

func newBeam(size int, bestFirst bool, opts []Option) (*Beam, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBeam, size)
	}
	return &Beam{size: size, bestFirst: bestFirst, settings: newSettings(opts)}, nil
}

// Name implements Procedure.
func (b *Beam) Name() string {
	if b.bestFirst {
		return "bestbeam"
	}
	return "breadthbeam"
}

// Size returns the beam size.
func (b *Beam) Size() int { return b.size }

// Search implements Procedure.
func (b *Beam) Search(ctx context.Context, req Request) (*Result, error) {
	return observe(ctx, b.settings, b.Name(), req, func(ctx context.Context) (*Result, error) {
		return b.search(ctx, req)
	})
}

func (b *Beam) search(ctx context.Context, req Request) (*Result, error) {
	r, err := start(req, b.Name(), b.settings)
	if err != nil {
		return nil, err
	}
	tree := r.tree

	open := newQueue(byHeuristic(tree))
	costSet := newQueue(byCost(tree))
	inCost := make(map[node.Handle]bool)
	seen := newLabelIndex(tree)
	addCost := func(h node.Handle) {
		if inCost[h] {
			return
		}
		inCost[h] = true
		costSet.push(h)
		seen.add(h)
	}

	open.push(r.root)
	addCost(r.root)

	for open.Len() > 0 && r.steps < req.TimeBound {
		if err := r.snapshot(ctx, r.steps, costSet.top()); err != nil {
			return nil, err
		}
		stepCtx, span := b.settings.tracer.TraceStep(ctx, r.steps, open.Len())

		var expand []node.Handle
		if b.bestFirst {
			expand = []node.Handle{open.pop()}
		} else {
			expand = open.drain()
		}

		pool := newQueue(byHeuristic(tree))
		inPool := newLabelIndex(tree)
		dups := 0
		for _, h := range expand {
			children, err := tree.Expand(stepCtx, h)
			if err != nil {
				b.settings.tracer.EndStep(stepCtx, span, len(expand), 0, err)
				return nil, err
			}
			for _, c := range children {
				y := tree.Node(c).Labeling()
				if b.settings.duplicateCheck && (inPool.contains(y) || seen.contains(y)) {
					dups++
					continue
				}
				pool.push(c)
				inPool.add(c)
			}
		}
		// Unexpanded open nodes were deduplicated when first accepted and
		// already sit in the cost set.
		for _, h := range open.drain() {
			pool.push(h)
		}

		chosen, rest := b.choose(pool)
		for _, h := range chosen {
			open.push(h)
			addCost(h)
		}
		if err := r.trainHeuristic(chosen, rest); err != nil {
			b.settings.tracer.EndStep(stepCtx, span, len(expand), len(chosen), err)
			return nil, err
		}
		for _, h := range rest {
			addCost(h)
		}

		r.dups += dups
		r.steps++
		metrics.RecordDuplicates(dups)
		metrics.RecordStep(b.Name())
		b.settings.tracer.EndStep(stepCtx, span, len(expand), len(chosen), nil)
	}

	sorted := costSet.drain()
	if len(sorted) == 0 {
		return nil, ErrEmptyCostSet
	}
	if err := r.trainCost(sorted); err != nil {
		return nil, err
	}
	return r.result(sorted[0])
}

// choose splits the pool into the best Size handles, extended by any
// handles tied with the last kept heuristic, and the rest.
func (b *Beam) choose(pool *queue) (chosen, rest []node.Handle) {
	order := pool.drain()
	k := min(b.size, len(order))
	for k > 0 && k < len(order) && pool.key(order[k]) == pool.key(order[k-1]) {
		k++
	}
	return order[:k], order[k:]
}
