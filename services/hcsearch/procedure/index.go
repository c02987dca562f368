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
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
)

// labelIndex finds tree nodes by label vector. Hash buckets are confirmed
// with a full label comparison, so collisions never cause false matches.
type labelIndex struct {
	tree    *node.Tree
	buckets map[uint64][]node.Handle
}

func newLabelIndex(t *node.Tree) *labelIndex {
	return &labelIndex{tree: t, buckets: make(map[uint64][]node.Handle)}
}

func hashLabels(labels []int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, l := range labels {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(l)))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// add records h under its labeling.
func (ix *labelIndex) add(h node.Handle) {
	key := hashLabels(ix.tree.Node(h).Labeling().Labels())
	ix.buckets[key] = append(ix.buckets[key], h)
}

// contains reports whether some recorded node has y's labels.
func (ix *labelIndex) contains(y *labeling.Labeling) bool {
	for _, h := range ix.buckets[hashLabels(y.Labels())] {
		if ix.tree.Node(h).Labeling().SameLabels(y) {
			return true
		}
	}
	return false
}
