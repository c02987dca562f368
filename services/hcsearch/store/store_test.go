// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/learning"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/procedure"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func snapshot(runID, example string, step int, labels []int) procedure.Snapshot {
	adj := labeling.NewAdjacency(len(labels))
	if len(labels) > 1 {
		adj.AddEdge(0, 1)
	}
	return procedure.Snapshot{
		RunID:    runID,
		Mode:     node.ModeHC,
		Meta:     procedure.Meta{Example: example, Set: "test"},
		TimeStep: step,
		Labeling: labeling.NewLabeling(labels, adj),
		Cost:     float64(-step),
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, RunRecord{
		ID:        "r1",
		Schedule:  []string{"learnh", "hl"},
		Procedure: "greedy",
		Started:   time.Now().Add(-time.Hour),
	}))
	require.NoError(t, s.CreateRun(ctx, RunRecord{ID: "r2", Procedure: "bestbeam"}))

	r, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, r.Status)
	assert.Equal(t, []string{"learnh", "hl"}, r.Schedule)

	require.NoError(t, s.FinishRun(ctx, "r1", errors.New("trainer failed")))
	r, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunFailed, r.Status)
	assert.Equal(t, "trainer failed", r.Error)
	assert.False(t, r.Finished.IsZero())

	require.NoError(t, s.FinishRun(ctx, "r2", nil))
	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID, "most recent first")
	assert.Equal(t, RunSucceeded, runs[0].Status)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.CreateRun(ctx, RunRecord{}), ErrInvalidRecord)
}

func TestStore_Snapshots(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	sink := Sink{Store: s}

	for step := range 12 {
		require.NoError(t, sink.Save(ctx, snapshot("r1", "img1", step, []int{1, -1})))
	}
	require.NoError(t, sink.Save(ctx, snapshot("r1", "img2", 0, []int{0})))
	require.NoError(t, sink.Save(ctx, snapshot("r10", "img1", 0, []int{1})))

	recs, err := s.Snapshots(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, recs, 13, "prefix must not match run r10")
	assert.Equal(t, 0, recs[0].TimeStep)
	assert.Equal(t, 11, recs[11].TimeStep, "steps sort numerically")
	assert.Equal(t, []int{1, -1}, recs[0].Labels)
	assert.True(t, recs[0].Cuts == nil || recs[0].Cuts.Len() == 0)

	latest, err := s.LatestSnapshot(ctx, "r1", node.ModeHC, procedure.Meta{Example: "img1", Set: "test"})
	require.NoError(t, err)
	assert.Equal(t, 11, latest.TimeStep)
	assert.Equal(t, -11.0, latest.Cost)

	_, err = s.LatestSnapshot(ctx, "r1", node.ModeLL, procedure.Meta{Example: "img1", Set: "test"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = sink.Save(ctx, procedure.Snapshot{RunID: "r1"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestStore_Outcomes(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	var rec learning.Recorder = s

	for _, ex := range []string{"b", "a"} {
		require.NoError(t, rec.RecordOutcome(ctx, learning.Outcome{
			RunID:   "r1",
			Mode:    node.ModeHC,
			Example: ex,
			Set:     "test",
			Labels:  []int{1, 0},
			Loss:    0.5,
			HasLoss: true,
			Elapsed: 3 * time.Millisecond,
		}))
	}
	outs, err := s.Outcomes(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, "a", outs[0].Example)
	assert.Equal(t, []int{1, 0}, outs[0].Labels)
	assert.Equal(t, 3*time.Millisecond, outs[0].Elapsed)
	assert.True(t, outs[0].HasLoss)

	assert.ErrorIs(t, rec.RecordOutcome(ctx, learning.Outcome{RunID: "r1"}), ErrInvalidRecord)
}

func TestStore_DeleteRun(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, RunRecord{ID: "r1"}))
	require.NoError(t, s.PutSnapshot(ctx, snapshot("r1", "img1", 0, []int{1})))
	require.NoError(t, s.RecordOutcome(ctx, learning.Outcome{RunID: "r1", Example: "img1", Mode: node.ModeLL}))

	require.NoError(t, s.DeleteRun(ctx, "r1"))
	_, err := s.GetRun(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	snaps, err := s.Snapshots(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, snaps)
	outs, err := s.Outcomes(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, outs)

	assert.ErrorIs(t, s.DeleteRun(ctx, "r1"), ErrNotFound)
}

func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 10 * time.Millisecond

	s, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateRun(context.Background(), RunRecord{ID: "persist"}))
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, s.Close())

	s, err = Open(cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	r, err := s.GetRun(context.Background(), "persist")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, r.Status)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestStore_CancelledContext(t *testing.T) {
	s := openMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.CreateRun(ctx, RunRecord{ID: "x"}), context.Canceled)
	_, err := s.Snapshots(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
