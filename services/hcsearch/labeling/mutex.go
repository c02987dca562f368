// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package labeling

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

// DefaultMutexThreshold is the count at or below which a label pair in a
// spatial relation is treated as mutually exclusive.
const DefaultMutexThreshold = 100

// Relation is the spatial relation of a first node to a second.
type Relation byte

const (
	// RelNone means the two nodes share the coordinate.
	RelNone Relation = 0

	// RelLeft means the first node has the smaller x.
	RelLeft Relation = 'L'

	// RelRight means the first node has the larger x.
	RelRight Relation = 'R'

	// RelUp means the first node has the smaller y.
	RelUp Relation = 'U'

	// RelDown means the first node has the larger y.
	RelDown Relation = 'D'
)

// String returns the one-letter code used in mutex files.
func (r Relation) String() string {
	if r == RelNone {
		return "-"
	}
	return string(rune(r))
}

func parseRelation(s string) (Relation, error) {
	switch s {
	case "L":
		return RelLeft, nil
	case "R":
		return RelRight, nil
	case "U":
		return RelUp, nil
	case "D":
		return RelDown, nil
	default:
		return RelNone, fmt.Errorf("%w: relation %q", ErrMalformedFile, s)
	}
}

// Relations returns the horizontal and vertical relation of node i to
// node j. Locations must be available.
func Relations(x *FeatureGraph, i, j int) (horizontal, vertical Relation) {
	a, b := x.Locations[i], x.Locations[j]
	switch {
	case a[0] < b[0]:
		horizontal = RelLeft
	case a[0] > b[0]:
		horizontal = RelRight
	}
	switch {
	case a[1] < b[1]:
		vertical = RelUp
	case a[1] > b[1]:
		vertical = RelDown
	}
	return horizontal, vertical
}

// MutexKey identifies an ordered label pair in a spatial relation.
type MutexKey struct {
	First, Second int
	Rel           Relation
}

// Mutex counts how often ordered label pairs appear in each spatial
// relation across ground-truth labelings. A pair counted at most Threshold
// times is exclusive: the labels are not expected in that arrangement.
//
// A nil *Mutex has no counts, so every pair is exclusive.
type Mutex struct {
	Counts    map[MutexKey]int
	Threshold int
}

// NewMutex returns an empty table.
func NewMutex(threshold int) *Mutex {
	return &Mutex{Counts: make(map[MutexKey]int), Threshold: threshold}
}

// Add counts every ordered pair of differently labeled nodes of y.
func (m *Mutex) Add(x *FeatureGraph, y *Labeling) error {
	if !x.HasLocations() {
		return ErrNoLocations
	}
	if x.NumNodes() != y.NumNodes() {
		return fmt.Errorf("%w: %d nodes, %d labels", ErrSizeMismatch, x.NumNodes(), y.NumNodes())
	}
	for i := 0; i < y.NumNodes(); i++ {
		for j := 0; j < y.NumNodes(); j++ {
			a, b := y.Label(i), y.Label(j)
			if i == j || a == b {
				continue
			}
			h, v := Relations(x, i, j)
			if h != RelNone {
				m.Counts[MutexKey{a, b, h}]++
			}
			if v != RelNone {
				m.Counts[MutexKey{a, b, v}]++
			}
		}
	}
	return nil
}

// Count returns the count of k.
func (m *Mutex) Count(k MutexKey) int {
	if m == nil {
		return 0
	}
	return m.Counts[k]
}

// Exclusive reports whether first in relation rel to second is exclusive.
// RelNone is never exclusive.
func (m *Mutex) Exclusive(first, second int, rel Relation) bool {
	if rel == RelNone {
		return false
	}
	threshold := DefaultMutexThreshold
	if m != nil {
		threshold = m.Threshold
	}
	return m.Count(MutexKey{first, second, rel}) <= threshold
}

// Violations counts the other nodes whose placement relative to node is
// exclusive under y's labels. Equal labels never conflict.
func (m *Mutex) Violations(x *FeatureGraph, y *Labeling, node int) int {
	n := 0
	a := y.Label(node)
	for j := 0; j < y.NumNodes(); j++ {
		b := y.Label(j)
		if j == node || a == b {
			continue
		}
		h, v := Relations(x, node, j)
		if m.Exclusive(a, b, h) || m.Exclusive(a, b, v) {
			n++
		}
	}
	return n
}

// WriteMutex writes one "first second relation count" line per key, in
// key order.
func WriteMutex(w io.Writer, m *Mutex) error {
	keys := make([]MutexKey, 0, len(m.Counts))
	for k := range m.Counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b MutexKey) int {
		return cmp.Or(cmp.Compare(a.First, b.First), cmp.Compare(a.Second, b.Second), cmp.Compare(a.Rel, b.Rel))
	})
	bw := bufio.NewWriter(w)
	for _, k := range keys {
		fmt.Fprintf(bw, "%d %d %s %d\n", k.First, k.Second, k.Rel, m.Counts[k])
	}
	return bw.Flush()
}

// ReadMutex parses the format written by WriteMutex. Blank lines are
// skipped and repeated keys accumulate.
func ReadMutex(r io.Reader, threshold int) (*Mutex, error) {
	m := NewMutex(threshold)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: line %d: want 4 fields, got %d", ErrMalformedFile, line, len(fields))
		}
		first, err1 := strconv.Atoi(fields[0])
		second, err2 := strconv.Atoi(fields[1])
		count, err3 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || err3 != nil || count < 0 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedFile, line, sc.Text())
		}
		rel, err := parseRelation(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		m.Counts[MutexKey{first, second, rel}] += count
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadMutex reads a mutex file.
func LoadMutex(path string, threshold int) (*Mutex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ReadMutex(f, threshold)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// SaveMutex writes m to path atomically.
func SaveMutex(path string, m *Mutex) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		return WriteMutex(w, m)
	})
}
