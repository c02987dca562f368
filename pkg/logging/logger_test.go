// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"", LevelInfo},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{" warn ", LevelWarn},
		{"Error", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseLevel("loud"); !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("ParseLevel(loud) error = %v, want ErrUnknownLevel", err)
	}
}

func TestLevel_String(t *testing.T) {
	if got := LevelWarn.String(); got != "WARN" {
		t.Errorf("LevelWarn.String() = %q", got)
	}
	if got := Level(42).String(); got != "UNKNOWN" {
		t.Errorf("Level(42).String() = %q", got)
	}
}

func TestNew_FormatSelection(t *testing.T) {
	tests := []struct {
		format   Format
		wantJSON bool
	}{
		{FormatJSON, true},
		{FormatText, false},
		// A bytes.Buffer is not a terminal.
		{FormatAuto, true},
		{"", true},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		l := New(Config{Format: tt.format, Output: &buf, Service: "test"})
		l.Info("hello", "k", 1)
		line := strings.TrimSpace(buf.String())
		isJSON := json.Valid([]byte(line))
		if isJSON != tt.wantJSON {
			t.Errorf("format %q: json = %v, want %v (%s)", tt.format, isJSON, tt.wantJSON, line)
		}
		if !strings.Contains(line, "service") {
			t.Errorf("format %q: missing service attribute: %s", tt.format, line)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Format: FormatText, Output: &buf})
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	out := buf.String()
	if strings.Contains(out, "msg=d") || strings.Contains(out, "msg=i") {
		t.Errorf("below-level records emitted: %s", out)
	}
	if !strings.Contains(out, "msg=w") || !strings.Contains(out, "msg=e") {
		t.Errorf("records missing: %s", out)
	}
}

func TestLogger_Quiet(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Quiet: true, Output: &buf})
	l.Error("nothing")
	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestLogger_LogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	l := New(Config{LogDir: dir, Service: "hcsearch", Quiet: true})
	l.Info("to file", "run_id", "r1")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	name := "hcsearch_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file log is not JSON: %v (%s)", err, data)
	}
	if rec["msg"] != "to file" || rec["run_id"] != "r1" {
		t.Errorf("record = %v", rec)
	}
}

func TestLogger_Exporter(t *testing.T) {
	exp := NewBufferedExporter()
	l := New(Config{Level: LevelInfo, Service: "svc", Quiet: true, Exporter: exp})
	l.Debug("dropped")
	l.With("run_id", "r1").Info("stage", "mode", "hc")
	l.Slog().WithGroup("search").Warn("slow", slog.Int("steps", 3))
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	entries := exp.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	first := entries[0]
	if first.Message != "stage" || first.Level != LevelInfo || first.Service != "svc" {
		t.Errorf("entries[0] = %+v", first)
	}
	if first.Attrs["run_id"] != "r1" || first.Attrs["mode"] != "hc" {
		t.Errorf("entries[0].Attrs = %v", first.Attrs)
	}
	if _, ok := first.Attrs["service"]; ok {
		t.Errorf("service duplicated in attrs: %v", first.Attrs)
	}
	if got := entries[1].Attrs["search.steps"]; got != int64(3) {
		t.Errorf("grouped attr = %v (%T), want 3", got, got)
	}
	if !exp.Closed() {
		t.Error("exporter not flushed and closed")
	}
}

func TestLogger_CloseIdempotent(t *testing.T) {
	exp := NewBufferedExporter()
	l := New(Config{Quiet: true, Exporter: exp})
	child := l.With("k", "v")
	if err := child.Close(); err != nil {
		t.Errorf("child Close() = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	exp := NewBufferedExporter()
	l := New(Config{Quiet: true, Exporter: exp})
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				l.Info("tick", "worker", w, "i", i)
			}
		}()
	}
	wg.Wait()
	l.Close()
	if got := len(exp.Entries()); got != 160 {
		t.Errorf("entries = %d, want 160", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}
