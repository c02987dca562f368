// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package labeling provides the state representation searched by HC-Search.
//
// A Labeling assigns one discrete class label to every node of a graph. The
// graph is shared with a FeatureGraph holding one numeric feature vector per
// node. Successor functions produce Candidates, each pairing a new Labeling
// with the Action (set of changed nodes) that produced it.
//
// # Ownership Model
//
// Labelings are copy-on-write: Relabel returns a new Labeling with its own
// label slice, while the adjacency, confidences, and node weights are shared
// with the parent. None of the shared parts may be mutated after a Labeling
// has been handed to a successor function.
//
// # Text Formats
//
// The package reads and writes the on-disk formats used by datasets and
// predictions: one label per line, one "node1 node2 weight" line per directed
// edge (1-based), libsvm-style node files, and initial-state prediction files.
package labeling

import "errors"

// Sentinel errors for labeling operations.
var (
	// ErrMalformedFile is returned when a labels, edges, nodes, or initial
	// state file cannot be parsed.
	ErrMalformedFile = errors.New("malformed file")

	// ErrNodeOutOfRange is returned when a node index lies outside [0, N).
	ErrNodeOutOfRange = errors.New("node index out of range")

	// ErrUnknownClass is returned when a label is not part of the class map.
	ErrUnknownClass = errors.New("unknown class label")

	// ErrDuplicateClass is returned when a class map lists a label twice.
	ErrDuplicateClass = errors.New("duplicate class label")

	// ErrNoBackground is returned when a background label is requested from a
	// class map that has none.
	ErrNoBackground = errors.New("class map has no background label")

	// ErrNegativeK is returned when a negative top-K size is requested.
	ErrNegativeK = errors.New("top-k size must not be negative")

	// ErrSizeMismatch is returned when two structures that must describe the
	// same node set have different sizes.
	ErrSizeMismatch = errors.New("node count mismatch")

	// ErrNoConfidences is returned when confidences are required but the
	// labeling carries none.
	ErrNoConfidences = errors.New("labeling has no class confidences")

	// ErrNoLocations is returned when node positions are required but the
	// feature graph carries none.
	ErrNoLocations = errors.New("feature graph has no node locations")
)
