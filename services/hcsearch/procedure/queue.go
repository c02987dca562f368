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
	"container/heap"

	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
)

// Compile time check to ensure queue satisfies the heap interface.
var _ heap.Interface = (*queue)(nil)

// queue is a min-heap of node handles. The lowest key is on top; equal
// keys pop in handle order, which is creation order.
type queue struct {
	handles []node.Handle
	key     func(node.Handle) float64
}

func newQueue(key func(node.Handle) float64) *queue {
	return &queue{key: key}
}

// byHeuristic and byCost build keys over a tree.
func byHeuristic(t *node.Tree) func(node.Handle) float64 {
	return func(h node.Handle) float64 { return t.Node(h).Heuristic() }
}

func byCost(t *node.Tree) func(node.Handle) float64 {
	return func(h node.Handle) float64 { return t.Node(h).Cost() }
}

func (q *queue) Len() int { return len(q.handles) }

func (q *queue) Less(i, j int) bool {
	ki, kj := q.key(q.handles[i]), q.key(q.handles[j])
	if ki != kj {
		return ki < kj
	}
	return q.handles[i] < q.handles[j]
}

func (q *queue) Swap(i, j int) { q.handles[i], q.handles[j] = q.handles[j], q.handles[i] }

func (q *queue) Push(x any) { q.handles = append(q.handles, x.(node.Handle)) }

func (q *queue) Pop() any {
	old := q.handles
	n := len(old)
	h := old[n-1]
	q.handles = old[:n-1]
	return h
}

func (q *queue) push(h node.Handle) { heap.Push(q, h) }

func (q *queue) pop() node.Handle { return heap.Pop(q).(node.Handle) }

// top returns the best handle. The queue must not be empty.
func (q *queue) top() node.Handle { return q.handles[0] }

// drain pops every handle in priority order.
func (q *queue) drain() []node.Handle {
	out := make([]node.Handle, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, q.pop())
	}
	return out
}
