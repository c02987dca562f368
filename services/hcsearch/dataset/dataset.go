// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset loads example graphs from a dataset directory.
//
// # Layout
//
//	<dir>/metadata.txt              key=value lines: classes, backgrounds, features
//	<dir>/splits/Train.txt          one example name per line
//	<dir>/splits/Validation.txt
//	<dir>/splits/Test.txt
//	<dir>/nodes/<name>.txt          "label idx:val ..." per node (ground truth + features)
//	<dir>/edges/<name>.txt          "node1 node2 weight" per directed edge, 1-based
//	<dir>/nodelocations/<name>.txt  optional, "x y weight" per node (x y normalized)
//	<dir>/initstates/<name>.txt     optional initial-state prediction file
//
// A missing split file is an empty split. A missing metadata file selects
// the default class map.
package dataset

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

var (
	// ErrMalformedMetadata is returned when metadata.txt cannot be parsed.
	ErrMalformedMetadata = errors.New("malformed metadata")

	// ErrUnknownSplit is returned for an unrecognized split name.
	ErrUnknownSplit = errors.New("unknown split")

	// ErrNotADirectory is returned when the dataset path is not a directory.
	ErrNotADirectory = errors.New("dataset path is not a directory")
)

// Split names a dataset partition.
type Split string

const (
	SplitTrain      Split = "train"
	SplitValidation Split = "validation"
	SplitTest       Split = "test"
)

// Splits lists every split in load order.
var Splits = []Split{SplitTrain, SplitValidation, SplitTest}

var splitFiles = map[Split]string{
	SplitTrain:      "Train.txt",
	SplitValidation: "Validation.txt",
	SplitTest:       "Test.txt",
}

// ParseSplit parses a split name.
func ParseSplit(s string) (Split, error) {
	sp := Split(strings.ToLower(s))
	if _, ok := splitFiles[sp]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSplit, s)
	}
	return sp, nil
}

// Metadata describes a dataset.
type Metadata struct {
	// Classes lists the class labels in index order.
	Classes []int

	// Backgrounds lists the background labels.
	Backgrounds []int

	// NumFeatures is the feature dimension. Zero infers it per example.
	NumFeatures int
}

// ReadMetadata parses "key=value" lines. Blank lines and lines starting
// with '#' are ignored; unknown keys are ignored.
//
//	classes=1,0,-1
//	backgrounds=-1
//	features=64
func ReadMetadata(r io.Reader) (Metadata, error) {
	var m Metadata
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return Metadata{}, fmt.Errorf("%w: line %d: missing '='", ErrMalformedMetadata, line)
		}
		var err error
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "classes":
			m.Classes, err = parseInts(value)
		case "backgrounds", "background":
			m.Backgrounds, err = parseInts(value)
		case "features", "numfeatures":
			m.NumFeatures, err = strconv.Atoi(strings.TrimSpace(value))
		}
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: line %d: %w", ErrMalformedMetadata, line, err)
		}
	}
	return m, sc.Err()
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ClassMap builds the class map. Metadata without classes selects
// labeling.DefaultClassMap.
func (m Metadata) ClassMap() (*labeling.ClassMap, error) {
	if len(m.Classes) == 0 {
		return labeling.DefaultClassMap(), nil
	}
	return labeling.NewClassMap(m.Classes, m.Backgrounds)
}

// Dataset is a loaded dataset directory.
type Dataset struct {
	Dir     string
	Meta    Metadata
	Classes *labeling.ClassMap

	splits map[Split][]*labeling.Example
}

// Split returns the examples of s in list order.
func (d *Dataset) Split(s Split) []*labeling.Example {
	return d.splits[s]
}

// Len returns the total number of examples.
func (d *Dataset) Len() int {
	n := 0
	for _, exs := range d.splits {
		n += len(exs)
	}
	return n
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	dir         string
	logger      *slog.Logger
	concurrency int
	splits      []Split
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithConcurrency bounds parallel example loads. Default: GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(l *loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithSplits restricts loading to the given splits.
func WithSplits(splits ...Split) Option {
	return func(l *loader) {
		l.splits = splits
	}
}

// Load reads a dataset directory.
//
// Inputs:
//   - ctx: Cancels loading.
//   - dir: Dataset root.
//   - opts: Optional settings.
//
// Outputs:
//   - *Dataset: Every requested split, examples in list order.
//   - error: ErrNotADirectory, ErrMalformedMetadata, or a wrapped
//     labeling error naming the offending file.
func Load(ctx context.Context, dir string, opts ...Option) (*Dataset, error) {
	l := &loader{
		dir:         dir,
		logger:      slog.Default(),
		concurrency: runtime.GOMAXPROCS(0),
		splits:      Splits,
	}
	for _, opt := range opts {
		opt(l)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}

	meta, err := l.metadata()
	if err != nil {
		return nil, err
	}
	classes, err := meta.ClassMap()
	if err != nil {
		return nil, fmt.Errorf("metadata classes: %w", err)
	}

	d := &Dataset{Dir: dir, Meta: meta, Classes: classes, splits: make(map[Split][]*labeling.Example)}
	for _, sp := range l.splits {
		names, err := l.names(sp)
		if err != nil {
			return nil, err
		}
		exs, err := l.examples(ctx, names, meta, classes)
		if err != nil {
			return nil, fmt.Errorf("%s split: %w", sp, err)
		}
		d.splits[sp] = exs
		l.logger.Info("loaded split",
			slog.String("split", string(sp)),
			slog.Int("examples", len(exs)))
	}
	return d, nil
}

func (l *loader) metadata() (Metadata, error) {
	f, err := os.Open(filepath.Join(l.dir, "metadata.txt"))
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("metadata.txt not found, using default classes", slog.String("dir", l.dir))
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()
	return ReadMetadata(f)
}

func (l *loader) names(sp Split) ([]string, error) {
	file, ok := splitFiles[sp]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSplit, sp)
	}
	f, err := os.Open(filepath.Join(l.dir, "splits", file))
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Debug("split list not found", slog.String("split", string(sp)))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, strings.TrimSuffix(name, ".txt"))
		}
	}
	return names, sc.Err()
}

func (l *loader) examples(ctx context.Context, names []string, meta Metadata, classes *labeling.ClassMap) ([]*labeling.Example, error) {
	out := make([]*labeling.Example, len(names))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			ex, err := LoadExample(l.dir, name, meta.NumFeatures, classes)
			if err != nil {
				return err
			}
			out[i] = ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadExample reads one example from dir.
func LoadExample(dir, name string, dim int, classes *labeling.ClassMap) (*labeling.Example, error) {
	var labels []int
	var features [][]float64
	err := readFile(filepath.Join(dir, "nodes", name+".txt"), func(r io.Reader) error {
		var err error
		labels, features, err = labeling.ReadNodes(r, dim)
		return err
	})
	if err != nil {
		return nil, err
	}

	var adj labeling.Adjacency
	err = readFile(filepath.Join(dir, "edges", name+".txt"), func(r io.Reader) error {
		var err error
		adj, err = labeling.ReadEdges(r, len(labels))
		return err
	})
	if err != nil {
		return nil, err
	}

	x := &labeling.FeatureGraph{Features: features, Adj: adj}
	if err := x.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	truth := labeling.NewLabeling(labels, adj)
	ex := &labeling.Example{Name: name, X: x, Truth: truth}

	locPath := filepath.Join(dir, "nodelocations", name+".txt")
	if exists(locPath) {
		err := readFile(locPath, func(r io.Reader) error {
			var err error
			x.Locations, truth.NodeWeights, err = ReadNodeLocations(r, len(labels))
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	initPath := filepath.Join(dir, "initstates", name+".txt")
	if exists(initPath) {
		err := readFile(initPath, func(r io.Reader) error {
			initLabels, conf, err := labeling.ReadInitialState(r, len(labels), classes)
			if err != nil {
				return err
			}
			ex.Initial = labeling.NewLabeling(initLabels, adj)
			ex.Initial.Confidences = conf
			ex.Initial.NodeWeights = truth.NodeWeights
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return ex, nil
}

// ReadNodeWeights reads a node location file and returns only the
// normalized weights.
func ReadNodeWeights(r io.Reader, numNodes int) ([]float64, error) {
	_, weights, err := ReadNodeLocations(r, numNodes)
	return weights, err
}

// ReadNodeLocations reads one line per node. The last field is the node's
// weight; weights are normalized to sum to one. When every line also
// carries an x and a y before the weight, those are returned as locations,
// otherwise locations is nil.
func ReadNodeLocations(r io.Reader, numNodes int) (locations [][2]float64, weights []float64, err error) {
	weights = make([]float64, 0, numNodes)
	locations = make([][2]float64, 0, numNodes)
	positioned := true
	var total float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		w, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil || w < 0 {
			return nil, nil, fmt.Errorf("%w: node weight %q", labeling.ErrMalformedFile, fields[len(fields)-1])
		}
		weights = append(weights, w)
		total += w

		if len(fields) < 3 {
			positioned = false
			continue
		}
		px, errX := strconv.ParseFloat(fields[0], 64)
		py, errY := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errY != nil {
			return nil, nil, fmt.Errorf("%w: node location %q", labeling.ErrMalformedFile, sc.Text())
		}
		locations = append(locations, [2]float64{px, py})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if len(weights) != numNodes {
		return nil, nil, fmt.Errorf("%w: %d weights for %d nodes", labeling.ErrSizeMismatch, len(weights), numNodes)
	}
	if total > 0 {
		for i := range weights {
			weights[i] /= total
		}
	}
	if !positioned {
		locations = nil
	}
	return locations, weights, nil
}

func readFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := read(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
