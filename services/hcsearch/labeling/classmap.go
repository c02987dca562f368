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
	"fmt"
	"sort"
)

// DefaultBackgroundLabel is the background class of the default class map.
const DefaultBackgroundLabel = -1

// ClassMap is a bijection between class labels and dense class indices,
// plus the set of labels treated as background.
//
// Class indices follow the order labels were given to NewClassMap. Feature
// vectors and confidence columns are laid out by class index.
//
// Thread Safety: Immutable after construction, safe for concurrent reads.
type ClassMap struct {
	labels          []int
	index           map[int]int
	background      map[int]bool
	backgroundLabel int
	hasBackground   bool
}

// NewClassMap builds a class map.
//
// Inputs:
//   - labels: Class labels in class-index order. Must be non-empty and unique.
//   - background: Labels treated as background. Each must appear in labels.
//     The first one is returned by BackgroundLabel.
//
// Outputs:
//   - *ClassMap: The class map.
//   - error: ErrDuplicateClass or ErrUnknownClass on invalid input.
func NewClassMap(labels []int, background []int) (*ClassMap, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no classes given", ErrUnknownClass)
	}
	m := &ClassMap{
		labels:     append([]int(nil), labels...),
		index:      make(map[int]int, len(labels)),
		background: make(map[int]bool, len(background)),
	}
	for i, l := range labels {
		if _, dup := m.index[l]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateClass, l)
		}
		m.index[l] = i
	}
	for i, l := range background {
		if _, ok := m.index[l]; !ok {
			return nil, fmt.Errorf("%w: background %d", ErrUnknownClass, l)
		}
		m.background[l] = true
		if i == 0 {
			m.backgroundLabel = l
			m.hasBackground = true
		}
	}
	return m, nil
}

// DefaultClassMap returns the three-class map {1, 0, -1} with -1 as background.
func DefaultClassMap() *ClassMap {
	m, _ := NewClassMap([]int{1, 0, DefaultBackgroundLabel}, []int{DefaultBackgroundLabel})
	return m
}

// NumClasses returns the number of classes.
func (m *ClassMap) NumClasses() int {
	return len(m.labels)
}

// Index returns the class index of a label.
func (m *ClassMap) Index(label int) (int, error) {
	i, ok := m.index[label]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownClass, label)
	}
	return i, nil
}

// Label returns the label at a class index.
func (m *ClassMap) Label(index int) (int, error) {
	if index < 0 || index >= len(m.labels) {
		return 0, fmt.Errorf("%w: index %d", ErrUnknownClass, index)
	}
	return m.labels[index], nil
}

// Labels returns all labels in ascending label order.
func (m *ClassMap) Labels() []int {
	out := append([]int(nil), m.labels...)
	sort.Ints(out)
	return out
}

// IndexOrder returns all labels in class-index order.
func (m *ClassMap) IndexOrder() []int {
	return append([]int(nil), m.labels...)
}

// Contains reports whether label is a known class.
func (m *ClassMap) Contains(label int) bool {
	_, ok := m.index[label]
	return ok
}

// IsBackground reports whether label is a background class.
func (m *ClassMap) IsBackground(label int) bool {
	return m.background[label]
}

// HasBackground reports whether any background class exists.
func (m *ClassMap) HasBackground() bool {
	return m.hasBackground
}

// BackgroundLabel returns the primary background label.
func (m *ClassMap) BackgroundLabel() (int, error) {
	if !m.hasBackground {
		return 0, ErrNoBackground
	}
	return m.backgroundLabel, nil
}

// ForegroundLabels returns the non-background labels in ascending order.
func (m *ClassMap) ForegroundLabels() []int {
	var out []int
	for _, l := range m.Labels() {
		if !m.background[l] {
			out = append(out, l)
		}
	}
	return out
}

// BackgroundLabels returns the background labels in ascending order.
func (m *ClassMap) BackgroundLabels() []int {
	var out []int
	for _, l := range m.Labels() {
		if m.background[l] {
			out = append(out, l)
		}
	}
	return out
}
