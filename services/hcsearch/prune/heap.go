// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prune

import (
	"container/heap"
	"sort"
)

// scored is a candidate index with its model score.
type scored struct {
	index int
	score float64
}

// maxHeap orders by score descending so the worst kept item is on top.
// Among equal scores the later input is on top, so it is evicted first.
type maxHeap []scored

var _ heap.Interface = (*maxHeap)(nil)

func (h maxHeap) Len() int { return len(h) }

func (h maxHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	return h[i].index > h[j].index
}

func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) { *h = append(*h, x.(scored)) }

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// boundedHeap keeps the k lowest-scoring items seen.
type boundedHeap struct {
	k     int
	items maxHeap
}

func newBoundedHeap(k int) *boundedHeap {
	return &boundedHeap{k: k, items: make(maxHeap, 0, k)}
}

// Offer adds s. Once full, s replaces the current maximum only if it
// scores no worse.
func (b *boundedHeap) Offer(s scored) {
	if b.k <= 0 {
		return
	}
	if b.items.Len() < b.k {
		heap.Push(&b.items, s)
		return
	}
	if s.score <= b.items[0].score {
		b.items[0] = s
		heap.Fix(&b.items, 0)
	}
}

// Len returns the number of kept items.
func (b *boundedHeap) Len() int {
	return b.items.Len()
}

// Sorted returns the kept items by score ascending, ties by input index.
func (b *boundedHeap) Sorted() []scored {
	out := append([]scored(nil), b.items...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].index < out[j].index
	})
	return out
}
