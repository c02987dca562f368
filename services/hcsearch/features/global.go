// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package features

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrNoDictionary is returned when a global feature function is built
	// without a codebook.
	ErrNoDictionary = errors.New("global features need a codebook dictionary")

	// ErrDictionaryDim is returned when codewords and node features differ
	// in length.
	ErrDictionaryDim = errors.New("codeword dimension does not match feature dimension")
)

// Pooling selects how a class's codeword histogram is aggregated.
type Pooling int

const (
	// PoolSum counts nodes per codeword, normalized by the node count.
	PoolSum Pooling = iota

	// PoolMax marks each codeword used by at least one node of the class.
	PoolMax
)

// Global appends a per-class bag-of-words term to the standard features.
// Each node is assigned its nearest codeword by Euclidean distance; the
// term holds one histogram of codewords per class.
type Global struct {
	*Standard
	dictionary [][]float64
	pooling    Pooling
}

// NewSumGlobal creates standard features plus a sum-pooled global term.
func NewSumGlobal(classes *labeling.ClassMap, dictionary [][]float64) (*Global, error) {
	return newGlobal(classes, dictionary, PoolSum, "sum_global")
}

// NewMaxGlobal creates standard features plus a max-pooled global term.
func NewMaxGlobal(classes *labeling.ClassMap, dictionary [][]float64) (*Global, error) {
	return newGlobal(classes, dictionary, PoolMax, "max_global")
}

func newGlobal(classes *labeling.ClassMap, dictionary [][]float64, pooling Pooling, name string) (*Global, error) {
	if len(dictionary) == 0 {
		return nil, ErrNoDictionary
	}
	for i, w := range dictionary {
		if len(w) != len(dictionary[0]) {
			return nil, fmt.Errorf("%w: codeword %d has %d values, want %d",
				ErrDictionaryDim, i, len(w), len(dictionary[0]))
		}
	}
	std := NewStandard(classes)
	std.name = name
	return &Global{Standard: std, dictionary: dictionary, pooling: pooling}, nil
}

// Size implements Function.
func (g *Global) Size(x *labeling.FeatureGraph) int {
	return g.Standard.Size(x) + g.classes.NumClasses()*len(g.dictionary)
}

// Compute implements Function.
func (g *Global) Compute(x *labeling.FeatureGraph, y *labeling.Labeling, action labeling.Action) (rank.Features, error) {
	if x.NumNodes() > 0 && x.Dim() != len(g.dictionary[0]) {
		return nil, fmt.Errorf("%w: %d, want %d", ErrDictionaryDim, len(g.dictionary[0]), x.Dim())
	}
	std, err := g.Standard.Compute(x, y, action)
	if err != nil {
		return nil, err
	}
	classOf, err := classIndices(y, g.classes)
	if err != nil {
		return nil, err
	}

	k := len(g.dictionary)
	phi := make(rank.Features, g.Size(x))
	copy(phi, std)
	hist := phi[len(std):]
	for node := 0; node < x.NumNodes(); node++ {
		slot := classOf[node]*k + g.nearest(x.Features[node])
		switch g.pooling {
		case PoolMax:
			hist[slot] = 1
		default:
			hist[slot]++
		}
	}
	if g.pooling == PoolSum && x.NumNodes() > 0 {
		floats.Scale(1/float64(x.NumNodes()), hist)
	}
	return phi, nil
}

// nearest returns the index of the codeword closest to f. Ties go to the
// lower index.
func (g *Global) nearest(f []float64) int {
	best, bestDist := 0, floats.Distance(f, g.dictionary[0], 2)
	for i := 1; i < len(g.dictionary); i++ {
		if d := floats.Distance(f, g.dictionary[i], 2); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// ReadDictionary parses one whitespace-separated codeword per line. Blank
// lines are skipped.
func ReadDictionary(r io.Reader) ([][]float64, error) {
	var out [][]float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %q", labeling.ErrMalformedFile, line, f)
			}
			row[i] = v
		}
		out = append(out, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadDictionary reads a codebook file.
func LoadDictionary(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := ReadDictionary(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}
