// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for hcsearch commands.
//
// Loggers are built on log/slog and can write to three destinations at
// once:
//
//   - stderr, as text on a terminal and JSON otherwise (Format "auto")
//   - a daily JSON file under LogDir
//   - a LogExporter, which receives every entry from a background goroutine
//
// Library packages never construct a Logger. They accept a *slog.Logger,
// usually through env.Env, and the command hands them Logger.Slog().
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "hcsearch"})
//	defer logger.Close()
//	logger.Info("run started", "run_id", id)
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Level represents log severity. Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for per-step search traces.
	LevelDebug Level = iota

	// LevelInfo is for stage boundaries and run summaries.
	LevelInfo

	// LevelWarn is for recoverable conditions such as trainer retries.
	LevelWarn

	// LevelError is for failed operations.
	LevelError
)

// ErrUnknownLevel is returned by ParseLevel for unrecognized names.
var ErrUnknownLevel = errors.New("unknown log level")

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name. "warning" is
// accepted for LevelWarn and the empty string means LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// Format selects the stderr encoding.
type Format string

const (
	// FormatAuto writes text when stderr is a terminal and JSON otherwise.
	FormatAuto Format = "auto"

	// FormatText always writes slog text.
	FormatText Format = "text"

	// FormatJSON always writes slog JSON.
	FormatJSON Format = "json"
)

// Config configures a Logger. The zero value logs Info and above to
// stderr in auto format.
type Config struct {
	// Level is the minimum level emitted.
	Level Level

	// LogDir enables a "{Service}_{YYYY-MM-DD}.log" JSON file. A leading
	// ~ expands to the home directory.
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// Format selects the stderr encoding. Empty means FormatAuto.
	Format Format

	// Quiet disables stderr output.
	Quiet bool

	// Exporter receives a copy of every emitted entry.
	Exporter LogExporter

	// Output replaces stderr. Used by tests.
	Output io.Writer
}

// LogExporter receives log entries for delivery elsewhere.
//
// Export is called from a single background goroutine in emission
// order. Flush and Close are called once from Logger.Close after the
// queue drains.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is the exported form of one record.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// exportQueueSize bounds the entries waiting for the exporter. Entries
// beyond it are dropped rather than blocking the caller.
const exportQueueSize = 1024

// Logger is a slog.Logger with file and exporter destinations.
type Logger struct {
	slog *slog.Logger
	file *os.File

	queue chan LogEntry
	done  chan struct{}

	exporter LogExporter
	once     sync.Once
}

// New builds a Logger from config. Failures to open the log file are
// reported on stderr and file logging is skipped.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.slogLevel()}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	var handlers []slog.Handler
	if !config.Quiet {
		handlers = append(handlers, consoleHandler(out, config.Format, opts))
	}

	l := &Logger{exporter: config.Exporter}
	if config.LogDir != "" {
		file, err := openLogFile(config.LogDir, config.Service)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		} else {
			l.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}
	if config.Exporter != nil {
		l.queue = make(chan LogEntry, exportQueueSize)
		l.done = make(chan struct{})
		handlers = append(handlers, &exportHandler{level: opts.Level, service: config.Service, queue: l.queue})
		go l.drain()
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	l.slog = slog.New(handler)
	return l
}

// Default returns an Info logger on stderr for the hcsearch service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "hcsearch"})
}

func consoleHandler(w io.Writer, format Format, opts *slog.HandlerOptions) slog.Handler {
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, opts)
	case FormatText:
		return slog.NewTextHandler(w, opts)
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if service == "" {
		service = "hcsearch"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child logger sharing this logger's destinations.
// Only the root logger should be closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// Slog returns the underlying slog.Logger for library packages.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close drains the export queue, flushes and closes the exporter, and
// closes the log file. It is safe to call more than once. Logging after
// Close is not supported.
func (l *Logger) Close() error {
	var errs []error
	l.once.Do(func() {
		if l.queue != nil {
			close(l.queue)
			<-l.done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.exporter.Flush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush exporter: %w", err))
			}
			if err := l.exporter.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close exporter: %w", err))
			}
		}
		if l.file != nil {
			if err := l.file.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("sync log file: %w", err))
			}
			if err := l.file.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close log file: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

func (l *Logger) drain() {
	defer close(l.done)
	for entry := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = l.exporter.Export(ctx, entry)
		cancel()
	}
}

// exportHandler turns records into LogEntry values on the export queue.
type exportHandler struct {
	level   slog.Leveler
	service string
	attrs   []slog.Attr
	groups  []string
	queue   chan<- LogEntry
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *exportHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		addAttr(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(attrs, prefix, a)
		return true
	})
	delete(attrs, "service")
	entry := LogEntry{
		Timestamp: r.Time,
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     attrs,
	}
	select {
	case h.queue <- entry:
	default:
	}
	return nil
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	prefix := strings.Join(h.groups, ".")
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.groups = append(append([]string(nil), h.groups...), name)
	return &c
}

func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, g := range v.Group() {
			addAttr(dst, key, g)
		}
		return
	}
	dst[key] = v.Any()
}

// multiHandler fans records out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// BufferedExporter keeps entries in memory. Intended for tests:
//
//	exp := logging.NewBufferedExporter()
//	logger := logging.New(logging.Config{Quiet: true, Exporter: exp})
//	logger.Info("hello")
//	logger.Close()
//	entries := exp.Entries()
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
	flushed bool
	closed  bool
}

// NewBufferedExporter returns an empty BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{}
}

func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushed = true
	return nil
}

func (e *BufferedExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Entries returns a copy of the collected entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]LogEntry(nil), e.entries...)
}

// Closed reports whether Flush and Close were both called.
func (e *BufferedExporter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushed && e.closed
}

var _ LogExporter = (*BufferedExporter)(nil)
