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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WriteLabels writes one label per line in node order.
func WriteLabels(w io.Writer, labels []int) error {
	bw := bufio.NewWriter(w)
	for _, l := range labels {
		if _, err := fmt.Fprintf(bw, "%d\n", l); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadLabels reads one integer label per line. Blank lines are skipped.
func ReadLabels(r io.Reader) ([]int, error) {
	var labels []int
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		l, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedFile, line, text)
		}
		labels = append(labels, l)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

// WriteEdges writes one "node1 node2 1" line per directed adjacency entry,
// using 1-based node ids.
func WriteEdges(w io.Writer, adj Adjacency) error {
	bw := bufio.NewWriter(w)
	for i, list := range adj {
		for _, j := range list {
			if _, err := fmt.Fprintf(bw, "%d %d 1\n", i+1, j+1); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// ReadEdges reads a 1-based "node1 node2 [weight]" edge list into an
// adjacency over numNodes nodes. Entries are added as written (directed).
func ReadEdges(r io.Reader, numNodes int) (Adjacency, error) {
	adj := NewAdjacency(numNodes)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("%w: line %d: want 2 or 3 fields, got %d", ErrMalformedFile, line, len(fields))
		}
		i, err1 := strconv.Atoi(fields[0])
		j, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: line %d: bad node id", ErrMalformedFile, line)
		}
		if len(fields) == 3 {
			if _, err := strconv.ParseFloat(fields[2], 64); err != nil {
				return nil, fmt.Errorf("%w: line %d: bad weight %q", ErrMalformedFile, line, fields[2])
			}
		}
		i--
		j--
		if i < 0 || i >= numNodes || j < 0 || j >= numNodes {
			return nil, fmt.Errorf("%w: line %d: edge %d-%d with %d nodes", ErrNodeOutOfRange, line, i+1, j+1, numNodes)
		}
		adj.AddDirected(i, j)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return adj, nil
}

// ReadNodes reads a libsvm-style nodes file: "label idx:val idx:val ..." per
// node with 1-based feature indices. Missing features are zero.
//
// Inputs:
//   - r: Source.
//   - dim: Feature dimension. When 0, the largest index seen is used.
//
// Outputs:
//   - []int: Ground truth label per node.
//   - [][]float64: Feature rows, each of length dim.
//   - error: ErrMalformedFile on parse failure.
func ReadNodes(r io.Reader, dim int) ([]int, [][]float64, error) {
	type entry struct {
		idx int
		val float64
	}
	var labels []int
	var rows [][]entry
	maxIdx := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		label, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: bad label %q", ErrMalformedFile, line, fields[0])
		}
		var row []entry
		for _, tok := range fields[1:] {
			k, v, ok := strings.Cut(tok, ":")
			if !ok {
				return nil, nil, fmt.Errorf("%w: line %d: bad token %q", ErrMalformedFile, line, tok)
			}
			idx, err1 := strconv.Atoi(k)
			val, err2 := strconv.ParseFloat(v, 64)
			if err1 != nil || err2 != nil || idx < 1 {
				return nil, nil, fmt.Errorf("%w: line %d: bad token %q", ErrMalformedFile, line, tok)
			}
			if idx > maxIdx {
				maxIdx = idx
			}
			row = append(row, entry{idx: idx, val: val})
		}
		labels = append(labels, label)
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if dim == 0 {
		dim = maxIdx
	} else if maxIdx > dim {
		return nil, nil, fmt.Errorf("%w: feature index %d exceeds dimension %d", ErrMalformedFile, maxIdx, dim)
	}
	features := make([][]float64, len(rows))
	for i, row := range rows {
		features[i] = make([]float64, dim)
		for _, e := range row {
			features[i][e.idx-1] = e.val
		}
	}
	return labels, features, nil
}

// WriteNodes writes labels and features in the format read by ReadNodes.
// Zero features are omitted.
func WriteNodes(w io.Writer, labels []int, features [][]float64) error {
	if len(labels) != len(features) {
		return ErrSizeMismatch
	}
	bw := bufio.NewWriter(w)
	for i, l := range labels {
		fmt.Fprintf(bw, "%d", l)
		for j, v := range features[i] {
			if v != 0 {
				fmt.Fprintf(bw, " %d:%s", j+1, strconv.FormatFloat(v, 'g', -1, 64))
			}
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadInitialState reads a classifier prediction file: a header line
// "labels l1 l2 ..." followed by one "predicted p1 p2 ..." line per node.
//
// Confidence columns are reordered to class-index order. A header with no
// labels yields a labeling without confidences.
func ReadInitialState(r io.Reader, numNodes int, classes *ClassMap) (labels []int, confidences [][]float64, err error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: empty initial state file", ErrMalformedFile)
	}
	header := strings.Fields(sc.Text())
	if len(header) == 0 || header[0] != "labels" {
		return nil, nil, fmt.Errorf("%w: initial state header must start with \"labels\"", ErrMalformedFile)
	}
	columns := make([]int, 0, len(header)-1)
	for _, tok := range header[1:] {
		l, err := strconv.Atoi(tok)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad header label %q", ErrMalformedFile, tok)
		}
		idx, err := classes.Index(l)
		if err != nil {
			return nil, nil, err
		}
		columns = append(columns, idx)
	}
	if len(columns) != 0 && len(columns) != classes.NumClasses() {
		return nil, nil, fmt.Errorf("%w: header lists %d classes, want %d", ErrMalformedFile, len(columns), classes.NumClasses())
	}

	labels = make([]int, 0, numNodes)
	if len(columns) > 0 {
		confidences = make([][]float64, 0, numNodes)
	}
	line := 1
	for sc.Scan() && len(labels) < numNodes {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		l, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: bad label", ErrMalformedFile, line)
		}
		labels = append(labels, l)
		if len(columns) == 0 {
			continue
		}
		if len(fields)-1 != len(columns) {
			return nil, nil, fmt.Errorf("%w: line %d: want %d confidences", ErrMalformedFile, line, len(columns))
		}
		row := make([]float64, len(columns))
		for c, tok := range fields[1:] {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: line %d: bad confidence %q", ErrMalformedFile, line, tok)
			}
			row[columns[c]] = v
		}
		confidences = append(confidences, row)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if len(labels) != numNodes {
		return nil, nil, fmt.Errorf("%w: %d rows, want %d", ErrSizeMismatch, len(labels), numNodes)
	}
	return labels, confidences, nil
}

// WriteFileAtomic writes a file through a temporary sibling and renames it
// into place, so readers never observe a partial file.
func WriteFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// SaveLabels writes y's labels to path.
func SaveLabels(path string, y *Labeling) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		return WriteLabels(w, y.Labels())
	})
}

// SaveCuts writes y's surviving-edge record to path. A labeling without a
// cut record produces an empty file.
func SaveCuts(path string, y *Labeling) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		return WriteEdges(w, y.Cuts)
	})
}

// LoadLabels reads a labels file.
func LoadLabels(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	labels, err := ReadLabels(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return labels, nil
}
