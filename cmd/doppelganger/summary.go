package main

import (
	"fmt"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/doppelganger/internal/config"
	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/internal/pipeline"
)

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      doppelganger startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model, len(cfg.Fallbacks.LLM))
	printProvider(w, "Vision", cfg.Providers.Vision.Name, cfg.Providers.Vision.Model, len(cfg.Fallbacks.Vision))
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model, len(cfg.Fallbacks.STT))
	printProvider(w, "Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model, 0)
	printRow(w, "Concurrency", strconv.Itoa(max(cfg.Pipeline.Concurrency, 1)))
	printRow(w, "Failures", cfg.Pipeline.FailurePolicy)
	printRow(w, "Cache", cfg.Cache.Scope+" / "+string(cfg.Cache.Backend))
	if cfg.Library.PostgresDSN != "" {
		printRow(w, "Library", "enabled")
	} else {
		printRow(w, "Library", "(disabled)")
	}
	if cfg.Telemetry.MetricsAddr != "" {
		printRow(w, "Metrics", cfg.Telemetry.MetricsAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string, fallbacks int) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if fallbacks > 0 {
		value += fmt.Sprintf(" +%d", fallbacks)
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, label, value string) {
	if utf8.RuneCountInString(value) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s   : %-19s ║\n", label, value)
}

// ── Run summary ───────────────────────────────────────────────────────────────

// renderRunSummary tabulates the segments of a run report.
func renderRunSummary(report *pipeline.RunReport) string {
	headers := []string{"Segment", "Frames", "Transcript", "Well-formed", "Status", "Elapsed"}
	aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignRight}

	rows := make([][]string, 0, len(report.Segments))
	for _, s := range report.Segments {
		transcript := "-"
		if s.TranscriptOK {
			transcript = fmt.Sprintf("%d chars", utf8.RuneCountInString(s.Transcript))
		}
		rows = append(rows, []string{
			s.Record.ID,
			strconv.Itoa(len(s.Frames)),
			transcript,
			yesNo(s.Step.WellFormed()),
			segmentStatus(s),
			s.Elapsed.Round(time.Millisecond).String(),
		})
	}
	return renderTable(headers, rows, aligns)
}

func segmentStatus(s pipeline.SegmentResult) string {
	switch {
	case s.Skipped:
		return "skipped"
	case s.Err != nil:
		return "failed"
	default:
		return "ok"
	}
}

// renderSegmentIndex tabulates indexed segment records.
func renderSegmentIndex(records []document.SegmentRecord) string {
	headers := []string{"#", "Segment", "Audio", "Frames"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.Itoa(r.Index),
			r.ID,
			r.AudioPath,
			strconv.Itoa(len(r.FramePaths)),
		})
	}
	return renderTable(headers, rows, aligns)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
