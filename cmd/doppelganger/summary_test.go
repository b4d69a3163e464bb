package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/doppelganger/internal/config"
	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/internal/pipeline"
)

func TestRenderRunSummary(t *testing.T) {
	report := &pipeline.RunReport{
		RunID: "run-1",
		Segments: []pipeline.SegmentResult{
			{
				Record:       document.SegmentRecord{ID: "segment_001"},
				Transcript:   "hello",
				TranscriptOK: true,
				Frames:       make([]document.FrameDescription, 3),
				Step:         document.StepDocument{SegmentID: "segment_001", Content: "<steps><step>a</step></steps>"},
				Elapsed:      1500 * time.Millisecond,
			},
			{
				Record:  document.SegmentRecord{ID: "segment_002"},
				Err:     errors.New("describe failed"),
				Skipped: true,
			},
		},
	}

	out := renderRunSummary(report)
	for _, want := range []string{"segment_001", "segment_002", "5 chars", "yes", "skipped", "1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestSegmentStatus(t *testing.T) {
	tests := []struct {
		res  pipeline.SegmentResult
		want string
	}{
		{pipeline.SegmentResult{}, "ok"},
		{pipeline.SegmentResult{Err: errors.New("x")}, "failed"},
		{pipeline.SegmentResult{Err: errors.New("x"), Skipped: true}, "skipped"},
	}
	for _, tt := range tests {
		if got := segmentStatus(tt.res); got != tt.want {
			t.Errorf("segmentStatus(%+v) = %q, want %q", tt.res, got, tt.want)
		}
	}
}

func TestPrintStartupSummary(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.LLM = config.ProviderEntry{Name: "openai", Model: "gpt-4o"}
	cfg.Fallbacks.LLM = []config.ProviderEntry{{Name: "anthropic"}}
	cfg.Providers.STT = config.ProviderEntry{Name: "whisper-native", Model: "/models/ggml-large-v3.bin"}
	config.ApplyDefaults(cfg)

	var buf bytes.Buffer
	printStartupSummary(&buf, cfg)
	out := buf.String()

	for _, want := range []string{"openai / gpt-4o +1", "(not configured)", "(disabled)", "abort", "run / memory"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	for line := range strings.Lines(out) {
		if n := len([]rune(strings.TrimRight(line, "\n"))); n != 41 {
			t.Errorf("line %q has width %d, want 41", line, n)
		}
	}
}

func TestWriteDocument(t *testing.T) {
	td := &document.ToolDescription{RunID: "run-1", Description: "<tool/>"}

	var stdout bytes.Buffer
	if err := writeDocument(&stdout, "", td); err != nil {
		t.Fatalf("writeDocument(stdout): %v", err)
	}
	if stdout.String() != td.Render() {
		t.Errorf("stdout = %q", stdout.String())
	}

	path := filepath.Join(t.TempDir(), "out", "procedure.xml")
	if err := writeDocument(&stdout, path, td); err != nil {
		t.Fatalf("writeDocument(file): %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != td.Render() {
		t.Errorf("file content = %q", data)
	}
}

func TestNewLogger_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := newLogger(&buf, level, config.LogFormatJSON)

	logger.Info("hidden")
	logger.Warn("shown", "segment", "segment_001")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec["msg"] != "shown" || rec["segment"] != "segment_001" {
		t.Errorf("record = %v", rec)
	}

	level.Set(slog.LevelDebug)
	buf.Reset()
	logger.Debug("visible now")
	if !strings.Contains(buf.String(), "visible now") {
		t.Error("level change not applied")
	}
}

func TestNewLogger_TextHasNoColourOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo, config.LogFormatText)
	logger.Info("segment processed", "segment", "segment_001")

	out := buf.String()
	if !strings.Contains(out, "segment processed") || !strings.Contains(out, "segment=segment_001") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("unexpected ANSI escape in %q", out)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestApplyReload_ChangesLevel(t *testing.T) {
	c := newCommandContext()
	c.level.Set(slog.LevelInfo)

	c.applyReload(nil, nil, config.ConfigDiff{PipelineChanged: true})
	if c.level.Level() != slog.LevelInfo {
		t.Errorf("level = %v after unrelated change", c.level.Level())
	}

	c.applyReload(nil, nil, config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogDebug})
	if c.level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", c.level.Level())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate(long) = %q", got)
	}
}
