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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLabelsRoundTrip(t *testing.T) {
	labels := []int{1, 1, 0, -1, 1}

	var buf bytes.Buffer
	if err := WriteLabels(&buf, labels); err != nil {
		t.Fatalf("WriteLabels: %v", err)
	}
	if buf.String() != "1\n1\n0\n-1\n1\n" {
		t.Errorf("written = %q", buf.String())
	}

	got, err := ReadLabels(&buf)
	if err != nil {
		t.Fatalf("ReadLabels: %v", err)
	}
	if !reflect.DeepEqual(got, labels) {
		t.Errorf("ReadLabels = %v, want %v", got, labels)
	}
}

func TestReadLabels_Malformed(t *testing.T) {
	_, err := ReadLabels(strings.NewReader("1\nx\n"))
	if !errors.Is(err, ErrMalformedFile) {
		t.Errorf("err = %v, want ErrMalformedFile", err)
	}
}

func TestEdgesRoundTrip(t *testing.T) {
	adj := NewAdjacency(3)
	adj.AddEdge(0, 1)
	adj.AddDirected(2, 1)

	var buf bytes.Buffer
	if err := WriteEdges(&buf, adj); err != nil {
		t.Fatalf("WriteEdges: %v", err)
	}
	if buf.String() != "1 2 1\n2 1 1\n3 2 1\n" {
		t.Errorf("written = %q", buf.String())
	}

	got, err := ReadEdges(&buf, 3)
	if err != nil {
		t.Fatalf("ReadEdges: %v", err)
	}
	if !reflect.DeepEqual(got, adj) {
		t.Errorf("ReadEdges = %v, want %v", got, adj)
	}
}

func TestReadEdges_OutOfRange(t *testing.T) {
	_, err := ReadEdges(strings.NewReader("1 4 1\n"), 3)
	if !errors.Is(err, ErrNodeOutOfRange) {
		t.Errorf("err = %v, want ErrNodeOutOfRange", err)
	}
}

func TestNodesRoundTrip(t *testing.T) {
	labels := []int{1, 0}
	features := [][]float64{{0.5, 0, 2}, {0, 1.25, 0}}

	var buf bytes.Buffer
	if err := WriteNodes(&buf, labels, features); err != nil {
		t.Fatalf("WriteNodes: %v", err)
	}
	gotLabels, gotFeatures, err := ReadNodes(&buf, 3)
	if err != nil {
		t.Fatalf("ReadNodes: %v", err)
	}
	if !reflect.DeepEqual(gotLabels, labels) {
		t.Errorf("labels = %v, want %v", gotLabels, labels)
	}
	if !reflect.DeepEqual(gotFeatures, features) {
		t.Errorf("features = %v, want %v", gotFeatures, features)
	}
}

func TestReadInitialState_ReordersColumns(t *testing.T) {
	m := DefaultClassMap()
	src := "labels -1 0 1\n1 0.1 0.2 0.7\n-1 0.8 0.1 0.1\n"

	labels, conf, err := ReadInitialState(strings.NewReader(src), 2, m)
	if err != nil {
		t.Fatalf("ReadInitialState: %v", err)
	}
	if !reflect.DeepEqual(labels, []int{1, -1}) {
		t.Errorf("labels = %v, want [1 -1]", labels)
	}
	// class-index order is 1, 0, -1
	want := [][]float64{{0.7, 0.2, 0.1}, {0.1, 0.1, 0.8}}
	if !reflect.DeepEqual(conf, want) {
		t.Errorf("confidences = %v, want %v", conf, want)
	}
}

func TestReadInitialState_BadHeader(t *testing.T) {
	_, _, err := ReadInitialState(strings.NewReader("classes 1 0\n"), 1, DefaultClassMap())
	if !errors.Is(err, ErrMalformedFile) {
		t.Errorf("err = %v, want ErrMalformedFile", err)
	}
}

func TestSaveLabelsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "labels.txt")
	y := NewLabeling([]int{0, 1}, NewAdjacency(2))

	if err := SaveLabels(path, y); err != nil {
		t.Fatalf("SaveLabels: %v", err)
	}
	got, err := LoadLabels(path)
	if err != nil {
		t.Fatalf("LoadLabels: %v", err)
	}
	if !reflect.DeepEqual(got, []int{0, 1}) {
		t.Errorf("LoadLabels = %v", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (no temp files left)", len(entries))
	}
}
