package stt

import (
	"testing"
	"time"
)

func TestResultText_TrimsAndJoins(t *testing.T) {
	r := &Result{Segments: []Segment{
		{Text: " Open the settings menu."},
		{Text: "Then click save.  "},
	}}
	want := "Open the settings menu. Then click save."
	if got := r.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestResultText_NilAndEmpty(t *testing.T) {
	var r *Result
	if got := r.Text(); got != "" {
		t.Errorf("nil Result Text() = %q, want empty", got)
	}
	if got := (&Result{}).Text(); got != "" {
		t.Errorf("empty Result Text() = %q, want empty", got)
	}
}

func TestRequestDuration(t *testing.T) {
	req := Request{PCM: make([]byte, 32000), SampleRate: 16000}
	if got := req.Duration(); got != time.Second {
		t.Errorf("Duration() = %v, want 1s", got)
	}
	if got := (Request{PCM: make([]byte, 10)}).Duration(); got != 0 {
		t.Errorf("Duration() without sample rate = %v, want 0", got)
	}
}
