// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package initial

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

func testEnv() *env.Env {
	return env.New(nil, env.WithSeed(1), env.WithLogger(slog.New(slog.DiscardHandler)))
}

// chain returns a 4-node path graph 0-1-2-3.
func chain() labeling.Adjacency {
	adj := labeling.NewAdjacency(4)
	adj.AddEdge(0, 1)
	adj.AddEdge(1, 2)
	adj.AddEdge(2, 3)
	return adj
}

func example(adj labeling.Adjacency) *labeling.Example {
	return &labeling.Example{
		Name: "img",
		X:    &labeling.FeatureGraph{Features: make([][]float64, adj.Len()), Adj: adj},
	}
}

func TestEliminateIslands(t *testing.T) {
	classes := labeling.DefaultClassMap()
	// Class index order is [1, 0, -1].
	y := labeling.NewLabeling([]int{1, -1, 0, -1}, chain())
	y.Confidences = [][]float64{
		{0.5, 0.2, 0.3},
		{0.1, 0.1, 0.8},
		{0.1, 0.9, 0.0},
		{0.2, 0.2, 0.6},
	}

	got := EliminateIslands(y, classes, DefaultIslandThreshold)
	if got != 1 {
		t.Errorf("EliminateIslands = %d, want 1", got)
	}
	// Node 0 is isolated and unsure; node 2 is confident.
	if want := []int{-1, -1, 0, -1}; !reflect.DeepEqual(y.Labels(), want) {
		t.Errorf("labels = %v, want %v", y.Labels(), want)
	}
}

func TestEliminateIslands_KeepsConnectedForeground(t *testing.T) {
	y := labeling.NewLabeling([]int{1, 0, -1, -1}, chain())
	y.Confidences = [][]float64{
		{0.4, 0.3, 0.3},
		{0.3, 0.4, 0.3},
		{0, 0, 1},
		{0, 0, 1},
	}
	if got := EliminateIslands(y, labeling.DefaultClassMap(), DefaultIslandThreshold); got != 0 {
		t.Errorf("EliminateIslands = %d, want 0", got)
	}
}

func TestEliminateIslands_NoConfidences(t *testing.T) {
	y := labeling.NewLabeling([]int{1, -1, -1, -1}, chain())
	if got := EliminateIslands(y, labeling.DefaultClassMap(), 1); got != 0 {
		t.Errorf("EliminateIslands = %d, want 0", got)
	}
}

func TestPrediction_FromExample(t *testing.T) {
	ex := example(chain())
	ex.Initial = labeling.NewLabeling([]int{1, -1, -1, 0}, ex.X.Adj)
	ex.Initial.Confidences = [][]float64{
		{0.9, 0.1, 0},
		{0, 0, 1},
		{0, 0, 1},
		{0.1, 0.5, 0.4},
	}

	y, err := (&Prediction{IslandThreshold: DefaultIslandThreshold}).Initial(testEnv(), ex)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if want := []int{1, -1, -1, -1}; !reflect.DeepEqual(y.Labels(), want) {
		t.Errorf("labels = %v, want %v", y.Labels(), want)
	}
	if ex.Initial.Label(3) != 0 {
		t.Error("Initial modified the example's precomputed labeling")
	}
}

func TestPrediction_FromDir(t *testing.T) {
	dir := t.TempDir()
	content := "labels 1 0 -1\n1 0.9 0.1 0\n1 0.8 0.1 0.1\n-1 0 0 1\n-1 0 0 1\n"
	if err := os.WriteFile(filepath.Join(dir, "img.txt"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	y, err := (&Prediction{Dir: dir, IslandThreshold: DefaultIslandThreshold}).Initial(testEnv(), example(chain()))
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if want := []int{1, 1, -1, -1}; !reflect.DeepEqual(y.Labels(), want) {
		t.Errorf("labels = %v, want %v", y.Labels(), want)
	}
	if !y.ConfidencesAvailable() {
		t.Error("confidences should be loaded")
	}
}

func TestPrediction_Missing(t *testing.T) {
	_, err := (&Prediction{}).Initial(testEnv(), example(chain()))
	if !errors.Is(err, ErrNoInitialState) {
		t.Errorf("err = %v, want ErrNoInitialState", err)
	}
}

func TestBackground(t *testing.T) {
	y, err := Background{}.Initial(testEnv(), example(chain()))
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if want := []int{-1, -1, -1, -1}; !reflect.DeepEqual(y.Labels(), want) {
		t.Errorf("labels = %v, want %v", y.Labels(), want)
	}

	classes, _ := labeling.NewClassMap([]int{3, 5}, nil)
	e := env.New(classes, env.WithSeed(1))
	y, err = Background{}.Initial(e, example(chain()))
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if y.Label(0) != 3 {
		t.Errorf("label = %d, want 3", y.Label(0))
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"prediction", "mutex_prediction", "background"} {
		f, err := New(Config{Name: name}, WithMutex(labeling.NewMutex(0)))
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if f.Name() != name {
			t.Errorf("Name = %q, want %q", f.Name(), name)
		}
	}
	if _, err := New(Config{Name: "crystal_ball"}); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("err = %v, want ErrUnknownFunction", err)
	}
}

// cornerExample places node 0 at the origin with node 1 to its right and
// node 2 below, carrying a prediction of the given labels.
func cornerExample(labels ...int) *labeling.Example {
	adj := labeling.NewAdjacency(3)
	adj.AddEdge(0, 1)
	adj.AddEdge(0, 2)
	ex := &labeling.Example{
		Name: "corner",
		X: &labeling.FeatureGraph{
			Features:  [][]float64{{0}, {0}, {0}},
			Adj:       adj,
			Locations: [][2]float64{{0, 0}, {1, 0}, {0, 1}},
		},
	}
	ex.Initial = labeling.NewLabeling(labels, adj)
	// Class index order is [1, 0, -1].
	ex.Initial.Confidences = [][]float64{
		{0.1, 0.3, 0.6},
		{0.7, 0.2, 0.1},
		{0.7, 0.2, 0.1},
	}
	return ex
}

func TestMutexPrediction_RepairsExclusiveArrangements(t *testing.T) {
	ex := cornerExample(-1, 1, 1)
	m := labeling.NewMutex(0)
	truth := labeling.NewLabeling([]int{0, 1, 1}, ex.X.Adj)
	if err := m.Add(ex.X, truth); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f := &MutexPrediction{Mutex: m}
	y, err := f.Initial(testEnv(), ex)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if !reflect.DeepEqual(y.Labels(), []int{0, 1, 1}) {
		t.Errorf("labels = %v, want [0 1 1]", y.Labels())
	}
	if !reflect.DeepEqual(ex.Initial.Labels(), []int{-1, 1, 1}) {
		t.Errorf("prediction modified: %v", ex.Initial.Labels())
	}
}

func TestMutexPrediction_EmptyTableConverges(t *testing.T) {
	f := &MutexPrediction{Mutex: labeling.NewMutex(0)}
	y, err := f.Initial(testEnv(), cornerExample(-1, 1, 1))
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if !reflect.DeepEqual(y.Labels(), []int{0, 0, 0}) {
		t.Errorf("labels = %v, want [0 0 0]", y.Labels())
	}
}

func TestMutexPrediction_WithoutTable(t *testing.T) {
	y, err := (&MutexPrediction{}).Initial(testEnv(), cornerExample(-1, 1, 1))
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if !reflect.DeepEqual(y.Labels(), []int{-1, 1, 1}) {
		t.Errorf("labels = %v, want the prediction unchanged", y.Labels())
	}

	ex := cornerExample(-1, 1, 1)
	ex.X.Locations = nil
	if _, err := (&MutexPrediction{Mutex: labeling.NewMutex(0)}).Initial(testEnv(), ex); !errors.Is(err, labeling.ErrNoLocations) {
		t.Errorf("without locations err = %v, want ErrNoLocations", err)
	}
}
