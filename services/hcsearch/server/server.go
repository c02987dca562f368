// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes inference over HTTP.
//
// Routes:
//
//	GET  /v1/health   liveness and loaded models
//	GET  /metrics     Prometheus metrics
//	POST /v1/search   one search over a request graph
//
// Every search runs sequentially within its request, using the models
// loaded at startup. Learning modes are not served.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/hcsearch/services/hcsearch/env"
	"github.com/AleutianAI/hcsearch/services/hcsearch/initial"
	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
	"github.com/AleutianAI/hcsearch/services/hcsearch/learning"
	"github.com/AleutianAI/hcsearch/services/hcsearch/loss"
	"github.com/AleutianAI/hcsearch/services/hcsearch/node"
	"github.com/AleutianAI/hcsearch/services/hcsearch/procedure"
	"github.com/AleutianAI/hcsearch/services/hcsearch/space"
)

// Options bounds what a request may ask for.
type Options struct {
	// MaxNodes bounds the request graph. Default: 100000
	MaxNodes int

	// DefaultTimeBound applies when a request omits time_bound.
	DefaultTimeBound int

	// MaxTimeBound caps time_bound. Zero disables the cap.
	MaxTimeBound int

	// RequestTimeout bounds one search. Zero disables it.
	RequestTimeout time.Duration

	// MaxConcurrent bounds searches in flight. Default: GOMAXPROCS
	MaxConcurrent int

	// ServiceName names the otelgin spans. Default: hcsearch
	ServiceName string
}

// Server answers search requests with a fixed space, procedure and model
// set.
//
// Thread Safety: Safe for concurrent requests. Each request gets its own
// Env; the space and models are read-only.
type Server struct {
	classes *labeling.ClassMap
	space   *space.Space
	proc    procedure.Procedure
	models  learning.Models
	opts    Options
	sem     *semaphore.Weighted
	logger  *slog.Logger
	engine  *gin.Engine
}

// New builds a Server and its router.
func New(classes *labeling.ClassMap, sp *space.Space, proc procedure.Procedure, models learning.Models, opts Options, logger *slog.Logger) *Server {
	if classes == nil {
		classes = labeling.DefaultClassMap()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = 100000
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = runtime.GOMAXPROCS(0)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "hcsearch"
	}
	if models == nil {
		models = learning.Models{}
	}
	s := &Server{
		classes: classes,
		space:   sp,
		proc:    proc,
		models:  models,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger:  logger,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.opts.ServiceName))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	v1 := router.Group("/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.POST("/search", s.handleSearch)
	}
	return router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status    string   `json:"status"`
	Procedure string   `json:"procedure"`
	Modes     []string `json:"modes"`
}

func (s *Server) handleHealth(c *gin.Context) {
	var modes []string
	for _, m := range []node.Mode{node.ModeLL, node.ModeHL, node.ModeLC, node.ModeHC} {
		if _, err := s.models.For(m); err == nil {
			modes = append(modes, m.String())
		}
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Procedure: s.proc.Name(), Modes: modes})
}

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	// Features has one row per node.
	Features [][]float64 `json:"features" binding:"required,min=1,dive,min=1"`

	// Edges lists undirected edges as node index pairs.
	Edges [][2]int `json:"edges"`

	// Locations gives a normalized (x, y) position per node. Optional;
	// required by spaces that use node positions.
	Locations [][2]float64 `json:"locations"`

	// InitialLabels seeds the search. Required unless the space
	// initializes from the background class.
	InitialLabels []int `json:"initial_labels"`

	// Mode is "ll", "hl", "lc" or "hc".
	Mode string `json:"mode" binding:"required,oneof=ll hl lc hc"`

	// Truth is the ground truth labeling. Required by every mode but hc.
	Truth []int `json:"truth"`

	// TimeBound overrides the server's default.
	TimeBound *int `json:"time_bound" binding:"omitempty,gte=0"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	RequestID string   `json:"request_id"`
	Labels    []int    `json:"labels"`
	Cost      float64  `json:"cost"`
	Loss      *float64 `json:"loss,omitempty"`
	Steps     int      `json:"steps"`
}

type errorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

// errBadRequest marks errors caused by the request body.
var errBadRequest = errors.New("bad request")

func (s *Server) handleSearch(c *gin.Context) {
	requestID := uuid.NewString()
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{RequestID: requestID, Error: "invalid request body: " + err.Error()})
		return
	}
	mode := node.Mode(req.Mode)
	models, err := s.models.For(mode)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{RequestID: requestID, Error: err.Error()})
		return
	}
	ex, err := s.example(requestID, &req, mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{RequestID: requestID, Error: err.Error()})
		return
	}
	timeBound := s.opts.DefaultTimeBound
	if req.TimeBound != nil {
		timeBound = *req.TimeBound
	}
	if s.opts.MaxTimeBound > 0 && timeBound > s.opts.MaxTimeBound {
		c.JSON(http.StatusBadRequest, errorResponse{
			RequestID: requestID,
			Error:     fmt.Sprintf("time_bound %d exceeds %d", timeBound, s.opts.MaxTimeBound),
		})
		return
	}

	ctx := c.Request.Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{RequestID: requestID, Error: "server busy"})
		return
	}
	defer s.sem.Release(1)

	logger := s.logger.With(slog.String("request_id", requestID))
	e := env.New(s.classes, env.WithRunID(requestID), env.WithLogger(logger))
	res, err := s.proc.Search(ctx, procedure.Request{
		Env:       e,
		Space:     s.space,
		Mode:      mode,
		Example:   ex,
		Models:    models,
		TimeBound: timeBound,
		Meta:      procedure.Meta{Example: requestID, Set: "request"},
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		case errors.Is(err, context.Canceled):
			status = http.StatusRequestTimeout
		case errors.Is(err, initial.ErrNoInitialState),
			errors.Is(err, labeling.ErrSizeMismatch),
			errors.Is(err, labeling.ErrUnknownClass),
			errors.Is(err, labeling.ErrNoConfidences),
			errors.Is(err, labeling.ErrNoLocations),
			errors.Is(err, loss.ErrMissingGroundTruth),
			errors.Is(err, procedure.ErrInvalidRequest):
			status = http.StatusBadRequest
		}
		logger.Warn("search failed", slog.String("mode", req.Mode), slog.String("error", err.Error()))
		c.JSON(status, errorResponse{RequestID: requestID, Error: err.Error()})
		return
	}

	resp := SearchResponse{
		RequestID: requestID,
		Labels:    res.Labeling.Labels(),
		Cost:      res.Cost,
		Steps:     res.Steps,
	}
	if res.HasLoss {
		l := res.Loss
		resp.Loss = &l
	}
	logger.Debug("search served",
		slog.String("mode", req.Mode),
		slog.Int("nodes", len(req.Features)),
		slog.Int("steps", res.Steps),
		slog.Float64("cost", res.Cost))
	c.JSON(http.StatusOK, resp)
}

// example converts a request into a validated Example.
func (s *Server) example(name string, req *SearchRequest, mode node.Mode) (*labeling.Example, error) {
	n := len(req.Features)
	if n > s.opts.MaxNodes {
		return nil, fmt.Errorf("%w: %d nodes exceeds %d", errBadRequest, n, s.opts.MaxNodes)
	}
	adj := labeling.NewAdjacency(n)
	for _, e := range req.Edges {
		if e[0] < 0 || e[0] >= n || e[1] < 0 || e[1] >= n {
			return nil, fmt.Errorf("%w: edge %d-%d", labeling.ErrNodeOutOfRange, e[0], e[1])
		}
		if e[0] != e[1] {
			adj.AddEdge(e[0], e[1])
		}
	}
	x := &labeling.FeatureGraph{Features: req.Features, Adj: adj, Locations: req.Locations}
	if err := x.Validate(); err != nil {
		return nil, err
	}
	ex := &labeling.Example{Name: name, X: x}

	if req.InitialLabels != nil {
		y, err := s.labeling("initial_labels", req.InitialLabels, adj)
		if err != nil {
			return nil, err
		}
		ex.Initial = y
	}
	switch {
	case req.Truth != nil:
		y, err := s.labeling("truth", req.Truth, adj)
		if err != nil {
			return nil, err
		}
		ex.Truth = y
	case mode.NeedsTruth():
		return nil, fmt.Errorf("%w: mode %s needs truth", errBadRequest, mode)
	}
	return ex, nil
}

func (s *Server) labeling(field string, labels []int, adj labeling.Adjacency) (*labeling.Labeling, error) {
	if len(labels) != adj.Len() {
		return nil, fmt.Errorf("%w: %s has %d labels, graph has %d nodes", labeling.ErrSizeMismatch, field, len(labels), adj.Len())
	}
	for _, l := range labels {
		if !s.classes.Contains(l) {
			return nil, fmt.Errorf("%w: %s contains %d", labeling.ErrUnknownClass, field, l)
		}
	}
	return labeling.NewLabeling(labels, adj), nil
}
