// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rank

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/metrics"
	"gonum.org/v1/gonum/floats"
)

// DefaultMargin is the passive-aggressive margin.
const DefaultMargin = 1.0

// OnlinePA is an averaged passive-aggressive ranker. Every (better, worse)
// pair is one update; Score uses the average of all weight vectors seen.
//
// File format: line 1 is the update count, line 2 the cumulative weights,
// line 3 the latest weights, values space separated.
type OnlinePA struct {
	// Margin is the required score gap between a better and a worse vector.
	Margin float64

	weights []float64
	cumSum  []float64
	numSum  int
}

// NewOnlinePA creates an untrained model. A non-positive margin selects
// DefaultMargin.
func NewOnlinePA(margin float64) *OnlinePA {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &OnlinePA{Margin: margin}
}

// Updates returns how many weight vectors have been accumulated.
func (m *OnlinePA) Updates() int {
	return m.numSum
}

// Latest returns the most recent weights. Must not be modified.
func (m *OnlinePA) Latest() []float64 {
	return m.weights
}

// Averaged returns the averaged weights.
func (m *OnlinePA) Averaged() []float64 {
	if m.numSum == 0 {
		return append([]float64(nil), m.weights...)
	}
	avg := append([]float64(nil), m.cumSum...)
	floats.Scale(1/float64(m.numSum), avg)
	return avg
}

// Score implements Model using the averaged weights.
func (m *OnlinePA) Score(f Features) float64 {
	if m.numSum == 0 {
		return f.Dot(m.weights)
	}
	return f.Dot(m.cumSum) / float64(m.numSum)
}

func (m *OnlinePA) grow(n int) {
	for len(m.weights) < n {
		m.weights = append(m.weights, 0)
	}
	for len(m.cumSum) < n {
		m.cumSum = append(m.cumSum, 0)
	}
}

// Train implements Model. For every pair it pushes the better vector's
// score below the worse vector's by at least Margin.
func (m *OnlinePA) Train(better, worse []Features) error {
	for _, good := range better {
		for _, bad := range worse {
			diff, err := good.Sub(bad)
			if err != nil {
				return err
			}
			m.grow(len(diff))
			m.update(diff)
		}
	}
	metrics.RecordTrainingExamples(len(better), len(worse))
	return nil
}

func (m *OnlinePA) update(diff Features) {
	loss := m.Margin + diff.Dot(m.weights)
	norm := floats.Dot(diff, diff)
	if loss > 0 && norm > 0 {
		tau := loss / norm
		floats.AddScaled(m.weights[:len(diff)], -tau, diff)
	}
	floats.Add(m.cumSum, m.weights)
	m.numSum++
}

// Merge folds other's accumulated updates into m, so that m's averaged
// weights equal the average over both models' updates. The latest weights
// become the mean of the two latest vectors.
func (m *OnlinePA) Merge(other *OnlinePA) {
	if other == nil || other.numSum == 0 && len(other.weights) == 0 {
		return
	}
	m.grow(max(len(other.weights), len(other.cumSum)))
	for i, v := range other.cumSum {
		m.cumSum[i] += v
	}
	for i := range m.weights {
		var o float64
		if i < len(other.weights) {
			o = other.weights[i]
		}
		m.weights[i] = (m.weights[i] + o) / 2
	}
	m.numSum += other.numSum
}

// Save implements Model.
func (m *OnlinePA) Save(path string) error {
	return labeling.WriteFileAtomic(path, func(out io.Writer) error {
		w := bufio.NewWriter(out)
		fmt.Fprintf(w, "%d\n", m.numSum)
		writeVector(w, m.cumSum)
		writeVector(w, m.weights)
		return w.Flush()
	})
}

func writeVector(w *bufio.Writer, v []float64) {
	for i, x := range v {
		if i > 0 {
			w.WriteByte(' ')
		}
		w.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	w.WriteByte('\n')
}

// Load implements Model.
func (m *OnlinePA) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	if len(lines) < 3 {
		return fmt.Errorf("%w: %s has %d lines, want 3", ErrMalformedModel, path, len(lines))
	}
	numSum, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || numSum < 0 {
		return fmt.Errorf("%w: bad update count %q", ErrMalformedModel, lines[0])
	}
	cum, err := parseVector(lines[1])
	if err != nil {
		return err
	}
	latest, err := parseVector(lines[2])
	if err != nil {
		return err
	}
	if len(cum) != len(latest) {
		return fmt.Errorf("%w: cumulative has %d weights, latest %d",
			ErrMalformedModel, len(cum), len(latest))
	}
	m.numSum, m.cumSum, m.weights = numSum, cum, latest
	return nil
}

func parseVector(line string) ([]float64, error) {
	fields := strings.Fields(line)
	v := make([]float64, len(fields))
	for i, tok := range fields {
		x, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad weight %q", ErrMalformedModel, tok)
		}
		v[i] = x
	}
	return v, nil
}
