// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists runs, anytime snapshots and inference outcomes
// in BadgerDB.
//
// # Key Layout
//
//	run/<run>                                          RunRecord
//	snap/<run>/<mode>/<set>/<example>/<iter>/<step>    SnapshotRecord
//	out/<run>/<mode>/<set>/<example>/<iter>            learning.Outcome
//
// Iterations and steps are zero-padded so that keys sort numerically.
// Values are msgpack encoded.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/learning"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/procedure"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNoPath is returned when a persistent store has no path.
	ErrNoPath = errors.New("path is required for a persistent store")

	// ErrInvalidRecord is returned for a record missing its identifiers.
	ErrInvalidRecord = errors.New("invalid record")
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord describes one run.
type RunRecord struct {
	ID        string    `msgpack:"id" json:"id"`
	Schedule  []string  `msgpack:"schedule" json:"schedule"`
	Procedure string    `msgpack:"procedure" json:"procedure"`
	Dataset   string    `msgpack:"dataset" json:"dataset"`
	Workers   int       `msgpack:"workers" json:"workers"`
	Status    RunStatus `msgpack:"status" json:"status"`
	Error     string    `msgpack:"error,omitempty" json:"error,omitempty"`
	Started   time.Time `msgpack:"started" json:"started"`
	Finished  time.Time `msgpack:"finished,omitempty" json:"finished,omitempty"`
}

// SnapshotRecord is a stored anytime snapshot.
type SnapshotRecord struct {
	RunID    string             `msgpack:"run_id" json:"run_id"`
	Mode     node.Mode          `msgpack:"mode" json:"mode"`
	Meta     procedure.Meta     `msgpack:"meta" json:"meta"`
	TimeStep int                `msgpack:"time_step" json:"time_step"`
	Labels   []int              `msgpack:"labels" json:"labels"`
	Cuts     labeling.Adjacency `msgpack:"cuts,omitempty" json:"cuts,omitempty"`
	Cost     float64            `msgpack:"cost" json:"cost"`
	Saved    time.Time          `msgpack:"saved" json:"saved"`
}

// Store is a BadgerDB-backed record store.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}
}

// Open opens a store.
//
// Inputs:
//   - cfg: Database settings. Path is required unless InMemory.
//   - logger: Receives badger and GC logs. Nil disables them.
//
// Outputs:
//   - *Store: The store. Caller must Close it.
//   - error: ErrNoPath or an open failure.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go gcLoop(db, cfg.GCInterval, cfg.GCDiscardRatio, logger, s.stop, s.done)
	}
	return s, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
	return s.db.Close()
}

func runKey(id string) []byte {
	return []byte("run/" + id)
}

func snapshotPrefix(runID string) []byte {
	return []byte("snap/" + runID + "/")
}

func snapshotKey(runID string, mode node.Mode, meta procedure.Meta, step int) []byte {
	return fmt.Appendf(nil, "snap/%s/%s/%s/%s/%06d/%06d", runID, mode, meta.Set, meta.Example, meta.Iter, step)
}

func outcomePrefix(runID string) []byte {
	return []byte("out/" + runID + "/")
}

func outcomeKey(o learning.Outcome) []byte {
	return fmt.Appendf(nil, "out/%s/%s/%s/%s/%06d", o.RunID, o.Mode, o.Set, o.Example, o.Iter)
}

func (s *Store) put(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) get(ctx context.Context, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, v)
		})
	})
}

// scan decodes every value under prefix, in key order.
func scan[T any](ctx context.Context, db *badger.DB, prefix []byte) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var v T
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &v)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRun stores r with status running.
func (s *Store) CreateRun(ctx context.Context, r RunRecord) error {
	if r.ID == "" {
		return fmt.Errorf("%w: run without id", ErrInvalidRecord)
	}
	r.Status = RunRunning
	if r.Started.IsZero() {
		r.Started = time.Now().UTC()
	}
	return s.put(ctx, runKey(r.ID), r)
}

// FinishRun marks a run succeeded, or failed with runErr.
func (s *Store) FinishRun(ctx context.Context, id string, runErr error) error {
	r, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	r.Finished = time.Now().UTC()
	r.Status = RunSucceeded
	if runErr != nil {
		r.Status = RunFailed
		r.Error = runErr.Error()
	}
	return s.put(ctx, runKey(id), r)
}

// GetRun returns the run with id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var r RunRecord
	if err := s.get(ctx, runKey(id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns every run, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	runs, err := scan[RunRecord](ctx, s.db, []byte("run/"))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Started.After(runs[j].Started)
	})
	return runs, nil
}

// DeleteRun removes a run with its snapshots and outcomes.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}
	keys := [][]byte{runKey(id)}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{snapshotPrefix(id), outcomePrefix(id)} {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	s.logger.Debug("run deleted", slog.String("run_id", id), slog.Int("keys", len(keys)))
	return nil
}

// PutSnapshot stores an anytime snapshot.
func (s *Store) PutSnapshot(ctx context.Context, snap procedure.Snapshot) error {
	if snap.RunID == "" || snap.Labeling == nil {
		return fmt.Errorf("%w: snapshot needs a run id and a labeling", ErrInvalidRecord)
	}
	rec := SnapshotRecord{
		RunID:    snap.RunID,
		Mode:     snap.Mode,
		Meta:     snap.Meta,
		TimeStep: snap.TimeStep,
		Labels:   snap.Labeling.Labels(),
		Cuts:     snap.Labeling.Cuts,
		Cost:     snap.Cost,
		Saved:    time.Now().UTC(),
	}
	return s.put(ctx, snapshotKey(snap.RunID, snap.Mode, snap.Meta, snap.TimeStep), rec)
}

// Snapshots returns every snapshot of a run in key order.
func (s *Store) Snapshots(ctx context.Context, runID string) ([]SnapshotRecord, error) {
	return scan[SnapshotRecord](ctx, s.db, snapshotPrefix(runID))
}

// LatestSnapshot returns the snapshot with the highest time step for one
// search.
func (s *Store) LatestSnapshot(ctx context.Context, runID string, mode node.Mode, meta procedure.Meta) (*SnapshotRecord, error) {
	prefix := fmt.Appendf(nil, "snap/%s/%s/%s/%s/%06d/", runID, mode, meta.Set, meta.Example, meta.Iter)
	recs, err := scan[SnapshotRecord](ctx, s.db, prefix)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: snapshots of %s", ErrNotFound, prefix)
	}
	return &recs[len(recs)-1], nil
}

// RecordOutcome implements learning.Recorder.
func (s *Store) RecordOutcome(ctx context.Context, o learning.Outcome) error {
	if o.RunID == "" || o.Example == "" {
		return fmt.Errorf("%w: outcome needs a run id and an example", ErrInvalidRecord)
	}
	return s.put(ctx, outcomeKey(o), o)
}

// Outcomes returns every outcome of a run in key order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]learning.Outcome, error) {
	return scan[learning.Outcome](ctx, s.db, outcomePrefix(runID))
}

// Sink adapts a Store to procedure.SnapshotSink.
type Sink struct {
	Store *Store
}

// Save implements procedure.SnapshotSink.
func (k Sink) Save(ctx context.Context, snap procedure.Snapshot) error {
	return k.Store.PutSnapshot(ctx, snap)
}
