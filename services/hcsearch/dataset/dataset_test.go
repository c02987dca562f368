// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fixture writes a dataset with two training images and one test image.
func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "metadata.txt", "# toy dataset\nclasses=1,0,-1\nbackgrounds=-1\nfeatures=2\n")
	writeFile(t, dir, "splits/Train.txt", "a\nb.txt\n\n")
	writeFile(t, dir, "splits/Test.txt", "c\n")
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, dir, "nodes/"+name+".txt", "1 1:0.5 2:1\n-1 2:0.25\n0 1:1\n")
		writeFile(t, dir, "edges/"+name+".txt", "1 2 1\n2 1 1\n2 3\n3 2\n")
	}
	writeFile(t, dir, "nodelocations/a.txt", "0 0 10\n1 0 30\n2 0 60\n")
	writeFile(t, dir, "initstates/c.txt", "labels -1 1 0\n-1 0.7 0.2 0.1\n1 0.1 0.8 0.1\n-1 0.5 0.25 0.25\n")
	return dir
}

func quiet() Option {
	return WithLogger(slog.New(slog.DiscardHandler))
}

func TestLoad(t *testing.T) {
	dir := fixture(t)
	d, err := Load(context.Background(), dir, quiet(), WithConcurrency(2))
	require.NoError(t, err)

	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 2, d.Meta.NumFeatures)
	assert.Equal(t, []int{1, 0, -1}, d.Classes.Labels())
	assert.Empty(t, d.Split(SplitValidation))

	train := d.Split(SplitTrain)
	require.Len(t, train, 2)
	assert.Equal(t, "a", train[0].Name)
	assert.Equal(t, "b", train[1].Name)

	a := train[0]
	assert.Equal(t, []int{1, -1, 0}, a.Truth.Labels())
	assert.Equal(t, [][]float64{{0.5, 1}, {0, 0.25}, {1, 0}}, a.X.Features)
	assert.True(t, a.X.Adj.Has(0, 1))
	assert.True(t, a.X.Adj.Has(2, 1))
	assert.False(t, a.X.Adj.Has(0, 2))
	assert.InDeltaSlice(t, []float64{0.1, 0.3, 0.6}, a.Truth.NodeWeights, 1e-12)
	assert.Equal(t, [][2]float64{{0, 0}, {1, 0}, {2, 0}}, a.X.Locations)
	assert.True(t, a.X.HasLocations())
	assert.Nil(t, a.Initial)
	assert.Nil(t, train[1].Truth.NodeWeights)
	assert.False(t, train[1].X.HasLocations())

	c := d.Split(SplitTest)[0]
	require.NotNil(t, c.Initial)
	assert.Equal(t, []int{-1, 1, -1}, c.Initial.Labels())
	// Confidence columns follow class-index order {1, 0, -1}.
	assert.Equal(t, []float64{0.2, 0.1, 0.7}, c.Initial.Confidences[0])
}

func TestLoad_WithSplits(t *testing.T) {
	d, err := Load(context.Background(), fixture(t), quiet(), WithSplits(SplitTest))
	require.NoError(t, err)
	assert.Empty(t, d.Split(SplitTrain))
	assert.Len(t, d.Split(SplitTest), 1)
}

func TestLoad_MissingMetadataUsesDefaultClasses(t *testing.T) {
	dir := fixture(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "metadata.txt")))
	d, err := Load(context.Background(), dir, quiet())
	require.NoError(t, err)
	assert.Equal(t, labeling.DefaultClassMap().Labels(), d.Classes.Labels())
	assert.Equal(t, 0, d.Meta.NumFeatures)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("not a directory", func(t *testing.T) {
		dir := fixture(t)
		_, err := Load(context.Background(), filepath.Join(dir, "metadata.txt"), quiet())
		assert.ErrorIs(t, err, ErrNotADirectory)
	})
	t.Run("missing nodes file", func(t *testing.T) {
		dir := fixture(t)
		require.NoError(t, os.Remove(filepath.Join(dir, "nodes", "b.txt")))
		_, err := Load(context.Background(), dir, quiet())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("edge out of range", func(t *testing.T) {
		dir := fixture(t)
		writeFile(t, dir, "edges/a.txt", "1 4\n")
		_, err := Load(context.Background(), dir, quiet())
		assert.ErrorIs(t, err, labeling.ErrNodeOutOfRange)
	})
	t.Run("weights count mismatch", func(t *testing.T) {
		dir := fixture(t)
		writeFile(t, dir, "nodelocations/a.txt", "1\n2\n")
		_, err := Load(context.Background(), dir, quiet())
		assert.ErrorIs(t, err, labeling.ErrSizeMismatch)
	})
	t.Run("bad metadata", func(t *testing.T) {
		dir := fixture(t)
		writeFile(t, dir, "metadata.txt", "classes 1 2\n")
		_, err := Load(context.Background(), dir, quiet())
		assert.ErrorIs(t, err, ErrMalformedMetadata)
	})
	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Load(ctx, fixture(t), quiet())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestReadNodeLocations(t *testing.T) {
	locs, weights, err := ReadNodeLocations(strings.NewReader("0.25 0.5 1\n\n0.75 0 3\n"), 2)
	require.NoError(t, err)
	assert.Equal(t, [][2]float64{{0.25, 0.5}, {0.75, 0}}, locs)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, weights, 1e-12)

	locs, weights, err = ReadNodeLocations(strings.NewReader("1\n0.5 0.5 1\n"), 2)
	require.NoError(t, err)
	assert.Nil(t, locs, "a weight-only line drops locations")
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, weights, 1e-12)

	_, _, err = ReadNodeLocations(strings.NewReader("a 0 1\n"), 1)
	assert.ErrorIs(t, err, labeling.ErrMalformedFile)
}

func TestReadMetadata(t *testing.T) {
	m, err := ReadMetadata(strings.NewReader("\n# comment\nclasses = 2, 1\nbackground=1\nnumfeatures=7\nextra=ignored\n"))
	require.NoError(t, err)
	assert.Equal(t, Metadata{Classes: []int{2, 1}, Backgrounds: []int{1}, NumFeatures: 7}, m)

	cm, err := m.ClassMap()
	require.NoError(t, err)
	assert.True(t, cm.IsBackground(1))

	_, err = ReadMetadata(strings.NewReader("features=x\n"))
	assert.ErrorIs(t, err, ErrMalformedMetadata)
}

func TestParseSplit(t *testing.T) {
	sp, err := ParseSplit("Validation")
	require.NoError(t, err)
	assert.Equal(t, SplitValidation, sp)

	_, err = ParseSplit("dev")
	assert.ErrorIs(t, err, ErrUnknownSplit)
}
