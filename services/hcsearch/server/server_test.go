// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/hcsearch/services/hcsearch/features"
	"github.com/AleutianAI/hcsearch/services/hcsearch/initial"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/learning"
	"github.com/AleutianAI/hcsearch/services/hcsearch/loss"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/procedure"
	"github.com/AleutianAI/hcsearch/services/hcsearch/prune"
	"github.com/AleutianAI/hcsearch/services/hcsearch/rank"
	"github.com/AleutianAI/hcsearch/services/hcsearch/space"
	"github.com/AleutianAI/hcsearch/services/hcsearch/successor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// positives counts nodes labeled 1.
type positives struct{}

func (positives) Compute(_ *labeling.FeatureGraph, y *labeling.Labeling, _ labeling.Action) (rank.Features, error) {
	n := 0
	for _, l := range y.Labels() {
		if l == 1 {
			n++
		}
	}
	return rank.Features{float64(n)}, nil
}
func (positives) Size(*labeling.FeatureGraph) int { return 1 }
func (positives) Name() string { return "positives" }

func preferPositives() rank.Model {
	m := rank.NewSVMRank(rank.SVMRankConfig{})
	m.SetWeights([]float64{-1})
	return m
}

func testSpace() *space.Space {
	return &space.Space{
		HeuristicFeatures: positives{},
		CostFeatures:      positives{},
		Initial:           initial.Background{},
		Successor:         successor.NewFlipbit(successor.AllLabels, 0),
		Prune:             prune.NoPrune{},
		Loss:              loss.Hamming{},
	}
}

func newServer(t *testing.T, models learning.Models) *Server {
	t.Helper()
	return newServerWith(t, testSpace(), models, slog.New(slog.DiscardHandler))
}

func newServerWith(t *testing.T, sp *space.Space, models learning.Models, logger *slog.Logger) *Server {
	t.Helper()
	return New(nil, sp, procedure.NewGreedy(), models, Options{
		DefaultTimeBound: 2,
		MaxTimeBound:     10,
		RequestTimeout:   5 * time.Second,
	}, logger)
}

func post(t *testing.T, s *Server, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/v1/search", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func pairRequest(mode string) map[string]any {
	return map[string]any{
		"features": [][]float64{{1}, {2}},
		"edges":    [][2]int{{0, 1}},
		"mode":     mode,
	}
}

func TestHealth(t *testing.T) {
	s := newServer(t, learning.Models{
		node.ModeLearnH: preferPositives(),
		node.ModeLearnC: preferPositives(),
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/v1/health", nil)
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "greedy", resp.Procedure)
	assert.Equal(t, []string{"ll", "hl", "hc"}, resp.Modes)
}

func TestMetrics(t *testing.T) {
	s := newServer(t, nil)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSearch_HC(t *testing.T) {
	s := newServer(t, learning.Models{
		node.ModeLearnH: preferPositives(),
		node.ModeLearnC: preferPositives(),
	})
	w, resp := post(t, s, pairRequest("hc"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, resp["request_id"])
	assert.Equal(t, []any{1.0, 1.0}, resp["labels"])
	assert.Equal(t, -2.0, resp["cost"])
	assert.NotContains(t, resp, "loss", "hc has no truth")
}

func TestSearch_LLWithTruth(t *testing.T) {
	s := newServer(t, nil)
	body := pairRequest("ll")
	body["truth"] = []int{1, 0}
	w, resp := post(t, s, body)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []any{1.0, 0.0}, resp["labels"])
	assert.Equal(t, 0.0, resp["loss"])
}

func TestSearch_Errors(t *testing.T) {
	s := newServer(t, nil)
	tests := []struct {
		name   string
		mutate func(map[string]any)
		status int
	}{
		{"learning mode", func(b map[string]any) { b["mode"] = "learnh" }, http.StatusBadRequest},
		{"no features", func(b map[string]any) { b["features"] = [][]float64{} }, http.StatusBadRequest},
		{"missing model", func(b map[string]any) { b["mode"] = "hl" }, http.StatusServiceUnavailable},
		{"missing truth", func(b map[string]any) {}, http.StatusBadRequest},
		{"edge out of range", func(b map[string]any) {
			b["edges"] = [][2]int{{0, 5}}
			b["truth"] = []int{1, 0}
		}, http.StatusBadRequest},
		{"unknown class", func(b map[string]any) { b["truth"] = []int{1, 7} }, http.StatusBadRequest},
		{"truth size", func(b map[string]any) { b["truth"] = []int{1} }, http.StatusBadRequest},
		{"time bound cap", func(b map[string]any) {
			b["truth"] = []int{1, 0}
			b["time_bound"] = 50
		}, http.StatusBadRequest},
		{"ragged features", func(b map[string]any) {
			b["features"] = [][]float64{{1}, {1, 2}}
			b["truth"] = []int{1, 0}
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := pairRequest("ll")
			tt.mutate(body)
			w, resp := post(t, s, body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestSearch_LogsCarryRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := newServerWith(t, testSpace(), nil, logger)

	body := pairRequest("ll")
	body["truth"] = []int{1, 0}
	w, resp := post(t, s, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	found := false
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		if rec["msg"] == "search finished" {
			found = true
			assert.Equal(t, resp["request_id"], rec["request_id"])
		}
	}
	assert.True(t, found, "procedure log missing: %s", buf.String())
}

func TestSearch_MissingInputsAreBadRequests(t *testing.T) {
	classes := labeling.DefaultClassMap()
	hcModels := learning.Models{
		node.ModeLearnH: preferPositives(),
		node.ModeLearnC: preferPositives(),
	}
	tests := []struct {
		name   string
		mutate func(*space.Space)
		mode   string
		body   func(map[string]any)
		status int
	}{
		{"no confidences", func(sp *space.Space) { sp.CostFeatures = features.NewStandardConf(classes) },
			"hc", func(map[string]any) {}, http.StatusBadRequest},
		{"oracle prune without truth", func(sp *space.Space) { sp.Prune = &prune.OraclePrune{Loss: loss.Hamming{}} },
			"hc", func(map[string]any) {}, http.StatusBadRequest},
		{"no locations", func(sp *space.Space) { sp.Prune = &prune.DomainKnowledgePrune{Mutex: labeling.NewMutex(0)} },
			"hc", func(map[string]any) {}, http.StatusBadRequest},
		{"with locations", func(sp *space.Space) { sp.Prune = &prune.DomainKnowledgePrune{Mutex: labeling.NewMutex(0)} },
			"hc", func(b map[string]any) { b["locations"] = [][2]float64{{0, 0}, {1, 0}} }, http.StatusOK},
		{"locations size", func(*space.Space) {},
			"hc", func(b map[string]any) { b["locations"] = [][2]float64{{0, 0}} }, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := testSpace()
			tt.mutate(sp)
			s := newServerWith(t, sp, hcModels, slog.New(slog.DiscardHandler))
			body := pairRequest(tt.mode)
			tt.body(body)
			w, _ := post(t, s, body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	s := newServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/v1/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
