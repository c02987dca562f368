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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/metrics"
	"github.com/cenkalti/backoff/v5"
)

// svmModelWeightLine is the zero-based line of an svm_rank model file that
// holds the weight vector.
const svmModelWeightLine = 11

// SVMRankConfig configures the external trainer.
type SVMRankConfig struct {
	// Binary is the trainer executable. Default: "svm_rank_learn".
	Binary string `json:"binary" yaml:"binary"`

	// C is the trainer's regularization constant. Zero uses the number of
	// query groups in the training file.
	C float64 `json:"c" yaml:"c"`

	// MaxRetries is the number of retries after a failed invocation.
	// Default: 3
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// InitialInterval is the first retry delay. Default: 500ms
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`

	// MaxInterval caps the retry delay. Default: 10s
	MaxInterval time.Duration `json:"max_interval" yaml:"max_interval"`

	// LaunchesPerSecond paces trainer launches. Zero disables pacing.
	LaunchesPerSecond float64 `json:"launches_per_second" yaml:"launches_per_second"`
}

// DefaultSVMRankConfig returns the default trainer settings.
func DefaultSVMRankConfig() SVMRankConfig {
	return SVMRankConfig{
		Binary:            "svm_rank_learn",
		MaxRetries:        3,
		InitialInterval:   500 * time.Millisecond,
		MaxInterval:       10 * time.Second,
		LaunchesPerSecond: 2,
	}
}

type trainingFile struct {
	path      string
	modelPath string
	f         *os.File
	w         *bufio.Writer
	qid       int
}

// SVMRank is a linear ranking model trained by svm_rank_learn.
//
// Training is a three-step protocol: StartTraining opens a ranking file,
// Train appends one query group per call, and FinishTraining runs the
// trainer and loads the resulting weights. Data-parallel workers call
// CloseTraining instead and let a coordinator merge their files and call
// TrainFile.
type SVMRank struct {
	cfg     SVMRankConfig
	runner  Runner
	logger  *slog.Logger
	weights []float64
	train   *trainingFile
}

// SVMRankOption configures an SVMRank.
type SVMRankOption func(*SVMRank)

// WithRunner replaces the command runner.
func WithRunner(r Runner) SVMRankOption {
	return func(m *SVMRank) {
		if r != nil {
			m.runner = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SVMRankOption {
	return func(m *SVMRank) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewSVMRank creates an untrained model. Zero config fields take defaults.
func NewSVMRank(cfg SVMRankConfig, opts ...SVMRankOption) *SVMRank {
	def := DefaultSVMRankConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	m := &SVMRank{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runner == nil {
		m.runner = NewExecRunner(cfg.LaunchesPerSecond)
	}
	return m
}

// Weights returns the weight vector. Must not be modified.
func (m *SVMRank) Weights() []float64 {
	return m.weights
}

// SetWeights replaces the weight vector.
func (m *SVMRank) SetWeights(w []float64) {
	m.weights = append([]float64(nil), w...)
}

// Score implements Model.
func (m *SVMRank) Score(f Features) float64 {
	return f.Dot(m.weights)
}

// StartTraining opens a fresh ranking file at featuresPath. FinishTraining
// will write the trained model to modelPath.
func (m *SVMRank) StartTraining(featuresPath, modelPath string) error {
	if m.train != nil {
		return ErrTrainingInProgress
	}
	if err := os.MkdirAll(filepath.Dir(featuresPath), 0750); err != nil {
		return fmt.Errorf("create ranking directory: %w", err)
	}
	f, err := os.Create(featuresPath)
	if err != nil {
		return fmt.Errorf("create ranking file: %w", err)
	}
	m.train = &trainingFile{
		path:      featuresPath,
		modelPath: modelPath,
		f:         f,
		w:         bufio.NewWriter(f),
		qid:       1,
	}
	return nil
}

// Train implements Model. Each non-empty call forms one query group.
func (m *SVMRank) Train(better, worse []Features) error {
	if m.train == nil {
		return ErrTrainingNotStarted
	}
	if len(better) == 0 && len(worse) == 0 {
		return nil
	}
	if err := WriteRankingExamples(m.train.w, m.train.qid, better, worse); err != nil {
		return fmt.Errorf("write ranking examples: %w", err)
	}
	m.train.qid++
	metrics.RecordTrainingExamples(len(better), len(worse))
	return nil
}

// CloseTraining flushes and closes the ranking file without training.
//
// Outputs:
//   - string: Path of the ranking file.
//   - int: Number of query groups written.
//   - error: Non-nil if training was not started or the flush failed.
func (m *SVMRank) CloseTraining() (string, int, error) {
	if m.train == nil {
		return "", 0, ErrTrainingNotStarted
	}
	t := m.train
	m.train = nil
	flushErr := t.w.Flush()
	closeErr := t.f.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return "", 0, fmt.Errorf("close ranking file: %w", err)
	}
	return t.path, t.qid - 1, nil
}

// FinishTraining implements Finisher.
func (m *SVMRank) FinishTraining(ctx context.Context) error {
	if m.train == nil {
		return ErrTrainingNotStarted
	}
	modelPath := m.train.modelPath
	path, queries, err := m.CloseTraining()
	if err != nil {
		return err
	}
	return m.TrainFile(ctx, path, modelPath, queries)
}

// TrainFile runs the external trainer on a ranking file and loads the
// resulting model.
//
// Inputs:
//   - ctx: Cancels pending retries and the running trainer.
//   - featuresPath: Ranking file.
//   - modelPath: Where the trainer writes the model.
//   - queries: Query groups in the file; used for C when C is unset.
//
// Outputs:
//   - error: Wraps ErrTrainerFailed after all retries fail.
func (m *SVMRank) TrainFile(ctx context.Context, featuresPath, modelPath string, queries int) error {
	c := m.cfg.C
	if c <= 0 {
		c = float64(max(queries, 1))
	}
	args := []string{"-c", strconv.FormatFloat(c, 'g', -1, 64), featuresPath, modelPath}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialInterval
	b.MaxInterval = m.cfg.MaxInterval

	start := time.Now()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		out, err := m.runner.Run(ctx, m.cfg.Binary, args...)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(m.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.RecordTrainerInvocation("retry")
			m.logger.Warn("trainer invocation failed, retrying",
				slog.String("binary", m.cfg.Binary),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		metrics.RecordTrainerInvocation("failure")
		return fmt.Errorf("%w: %s: %w", ErrTrainerFailed, m.cfg.Binary, err)
	}
	metrics.RecordTrainerInvocation("success")
	m.logger.Info("trainer finished",
		slog.String("model", modelPath),
		slog.Int("queries", queries),
		slog.Float64("c", c),
		slog.Duration("elapsed", time.Since(start)))
	return m.Load(modelPath)
}

// Load implements Model. It reads the weight line of an svm_rank model
// file: "idx:val" tokens terminated by "#".
func (m *SVMRank) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	line := 0
	for ; sc.Scan(); line++ {
		if line == svmModelWeightLine {
			w, err := parseWeightLine(sc.Text())
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			m.weights = w
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	return fmt.Errorf("%w: %s has %d lines, weights expected on line %d",
		ErrMalformedModel, path, line, svmModelWeightLine+1)
}

func parseWeightLine(line string) ([]float64, error) {
	var w []float64
	for _, tok := range strings.Fields(line) {
		if tok == "#" {
			break
		}
		idxStr, valStr, ok := strings.Cut(tok, ":")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 1 {
			return nil, fmt.Errorf("%w: bad index in %q", ErrMalformedModel, tok)
		}
		val, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad value in %q", ErrMalformedModel, tok)
		}
		for len(w) < idx {
			w = append(w, 0)
		}
		w[idx-1] = val
	}
	return w, nil
}

// Save implements Model. The file follows the svm_rank layout closely
// enough for Load and for svm_rank_classify.
func (m *SVMRank) Save(path string) error {
	return labeling.WriteFileAtomic(path, func(out io.Writer) error {
		w := bufio.NewWriter(out)
		header := []string{
			"SVM-light Version V6.20",
			"0 # kernel type",
			"3 # kernel parameter -d",
			"1 # kernel parameter -g",
			"1 # kernel parameter -s",
			"1 # kernel parameter -r",
			"empty# kernel parameter -u",
			fmt.Sprintf("%d # highest feature index", len(m.weights)),
			"2 # number of training documents",
			"2 # number of support vectors plus 1",
			"0 # threshold b, each following line is a SV (starting with alpha*y)",
		}
		for _, h := range header {
			w.WriteString(h)
			w.WriteByte('\n')
		}
		w.WriteString("1")
		for i, v := range m.weights {
			if v == 0 {
				continue
			}
			fmt.Fprintf(w, " %d:%s", i+1, strconv.FormatFloat(v, 'g', -1, 64))
		}
		w.WriteString(" #\n")
		return w.Flush()
	})
}
