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
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
)

// Meta identifies the example a search runs on, for output naming.
type Meta struct {
	// Example is the example name.
	Example string `json:"example" msgpack:"example"`

	// Set is the dataset split, "train", "validation" or "test".
	Set string `json:"set" msgpack:"set"`

	// Iter is the cross-validation fold.
	Iter int `json:"iter" msgpack:"iter"`
}

// Snapshot is the best-cost labeling at one time step.
type Snapshot struct {
	RunID    string
	Mode     node.Mode
	Meta     Meta
	TimeStep int
	Labeling *labeling.Labeling
	Cost     float64
}

// SnapshotSink persists anytime snapshots.
type SnapshotSink interface {
	Save(ctx context.Context, s Snapshot) error
}

// FileName builds an output name such as
// "nodes_hc_test_time3_fold0_img12.txt".
func FileName(prefix string, mode node.Mode, meta Meta, timeStep int) string {
	return fmt.Sprintf("%s_%s_%s_time%d_fold%d_%s.txt",
		prefix, mode, meta.Set, timeStep, meta.Iter, meta.Example)
}

// FileSink writes each snapshot as a nodes file with the labels and an
// edges file with the surviving-edge record. A labeling without a cut
// record writes its full adjacency.
type FileSink struct {
	Dir string
}

// Save writes both files atomically.
func (s FileSink) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	y := snap.Labeling
	nodesPath := filepath.Join(s.Dir, FileName("nodes", snap.Mode, snap.Meta, snap.TimeStep))
	if err := labeling.SaveLabels(nodesPath, y); err != nil {
		return fmt.Errorf("save anytime labels: %w", err)
	}

	cuts := y.Cuts
	if cuts == nil {
		cuts = y.Graph.Adj
	}
	edgesPath := filepath.Join(s.Dir, FileName("edges", snap.Mode, snap.Meta, snap.TimeStep))
	err := labeling.WriteFileAtomic(edgesPath, func(w io.Writer) error {
		return labeling.WriteEdges(w, cuts)
	})
	if err != nil {
		return fmt.Errorf("save anytime edges: %w", err)
	}
	return nil
}

// MultiSink saves to every sink and joins their errors.
type MultiSink []SnapshotSink

// Save forwards s to each sink.
func (m MultiSink) Save(ctx context.Context, s Snapshot) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		errs = append(errs, sink.Save(ctx, s))
	}
	return errors.Join(errs...)
}
