// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

// fixture writes a two-node dataset and a config that keeps everything
// under root.
func fixture(t *testing.T) (root, configFile string) {
	t.Helper()
	root = t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("data/splits/Train.txt", "t0\nt1\n")
	write("data/splits/Test.txt", "s0\n")
	for _, name := range []string{"t0", "t1", "s0"} {
		write("data/nodes/"+name+".txt", "1 1:0.5\n0 1:-0.5\n")
		write("data/edges/"+name+".txt", "1 2\n2 1\n")
	}
	write("hcsearch.yaml", `
search:
  procedure: {name: greedy, beam_size: 1, duplicate_check: true}
  time_bound: 3
  seed: 7
space:
  heuristic_features: standard
  cost_features: standard
  initial: {name: background}
successor:
  name: flipbit
rank:
  kind: online
  margin: 1
paths:
  dataset: `+filepath.Join(root, "data")+`
  models: `+filepath.Join(root, "models")+`
  temp: `+filepath.Join(root, "tmp")+`
  output: `+filepath.Join(root, "results")+`
store:
  in_memory: true
logging:
  quiet: true
observability:
  trace_exporter: none
  metric_exporter: none
`)
	return root, filepath.Join(root, "hcsearch.yaml")
}

func execCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "hcsearch dev\n", out)
}

func TestInferLL(t *testing.T) {
	root, cfgFile := fixture(t)
	_, err := execCLI(t, "--config", cfgFile, "infer", "ll")
	require.NoError(t, err)

	final := filepath.Join(root, "results", "final_ll_test_time3_fold0_s0.txt")
	labels, err := labeling.LoadLabels(final)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, labels, "ll search reaches the truth")
}

func TestInferLL_DomainKnowledgePrune(t *testing.T) {
	root, cfgFile := fixture(t)
	for _, name := range []string{"t0", "t1", "s0"} {
		path := filepath.Join(root, "data", "nodelocations", name+".txt")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("0 0 1\n1 0 1\n"), 0o644))
	}
	raw, err := os.ReadFile(cfgFile)
	require.NoError(t, err)
	yaml := strings.Replace(string(raw), "  initial: {name: background}\n",
		"  initial: {name: background}\n  mutex_threshold: 0\n", 1)
	yaml += "prune:\n  name: domain_knowledge\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(yaml), 0o644))

	// The table is counted from the training split.
	_, err = execCLI(t, "--config", cfgFile, "infer", "ll")
	require.NoError(t, err)

	labels, err := labeling.LoadLabels(filepath.Join(root, "results", "final_ll_test_time3_fold0_s0.txt"))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, labels)
}

func TestLearnThenInfer(t *testing.T) {
	root, cfgFile := fixture(t)
	_, err := execCLI(t, "--config", cfgFile, "learn", "h")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "models", "heuristic_model.txt"))

	_, err = execCLI(t, "--config", cfgFile, "infer", "hl")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "results", "final_hl_test_time3_fold0_s0.txt"))
}

func TestInfer_MissingModel(t *testing.T) {
	_, cfgFile := fixture(t)
	_, err := execCLI(t, "--config", cfgFile, "infer", "hc")
	assert.Error(t, err)
}

func TestInfer_RejectsUnknownMode(t *testing.T) {
	_, cfgFile := fixture(t)
	_, err := execCLI(t, "--config", cfgFile, "infer", "learnh")
	assert.Error(t, err)
}

func TestMergeRankings(t *testing.T) {
	_, cfgFile := fixture(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("1 qid:1 1:1\n2 qid:1 1:2\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("1 qid:1 1:3\n2 qid:1 1:4\n"), 0o644))
	merged := filepath.Join(dir, "merged.txt")

	out, err := execCLI(t, "--config", cfgFile, "merge-rankings", merged, a, b)
	require.NoError(t, err)
	assert.Contains(t, out, "2 queries written")

	data, err := os.ReadFile(merged)
	require.NoError(t, err)
	assert.Contains(t, string(data), "qid:2")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"learnh", "hc"}, splitList(" learnh, ,hc "))
	assert.Nil(t, splitList(""))
}
