// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package env

import "testing"

func TestNew_Defaults(t *testing.T) {
	e := New(nil)

	if e.Classes == nil || e.Classes.NumClasses() != 3 {
		t.Error("nil classes should select the default class map")
	}
	if e.RunID == "" {
		t.Error("RunID should be generated")
	}
	if e.Seed() == 0 {
		t.Error("zero seed should be replaced by a clock seed")
	}
	if e.NumWorkers != 1 {
		t.Errorf("NumWorkers = %d, want 1", e.NumWorkers)
	}
}

func TestNew_SameSeedSameStream(t *testing.T) {
	a := New(nil, WithSeed(42))
	b := New(nil, WithSeed(42))

	for i := 0; i < 10; i++ {
		x, y := a.Rand.Float64(), b.Rand.Float64()
		if x != y {
			t.Fatalf("draw %d: %v != %v", i, x, y)
		}
	}
}

func TestFork_IndependentStreams(t *testing.T) {
	base := New(nil, WithSeed(9), WithRunID("run-1"), WithWorker(0, 2))
	w1 := base.Fork(1)
	w1again := base.Fork(1)

	if w1.RunID != "run-1" || w1.Rank != 1 {
		t.Errorf("fork = %s/%d, want run-1/1", w1.RunID, w1.Rank)
	}
	if w1.Rand.Uint64() != w1again.Rand.Uint64() {
		t.Error("forks of the same rank should be reproducible")
	}
	if base.Rand.Uint64() == base.Fork(0).Rand.Uint64() {
		t.Error("fork stream should differ from the base stream")
	}
}
