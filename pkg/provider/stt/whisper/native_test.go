package whisper_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/doppelganger/pkg/provider/stt"
	"github.com/MrWong99/doppelganger/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("/nonexistent/path/to/model.bin")
	if err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNewNative_Directory_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative(t.TempDir())
	if err == nil {
		t.Fatal("expected error for directory model path, got nil")
	}
}

// TestNativeTranscribe_SilenceSkipsModelLoad uses a file that is not a valid
// model: a silent clip must return before the model is ever loaded.
func TestNativeTranscribe_SilenceSkipsModelLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.bin")
	if err := os.WriteFile(path, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := whisper.NewNative(path, whisper.WithNativeLanguage("de"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	res, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSilencePCM(16000), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Segments) != 0 {
		t.Errorf("expected no segments, got %d", len(res.Segments))
	}
	if res.Language != "de" {
		t.Errorf("Language = %q, want de", res.Language)
	}
}

func TestNativeTranscribe_CancelledContext_ReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.bin")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := whisper.NewNative(path)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, stt.Request{PCM: makeSpeechPCM(1600), SampleRate: 16000}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNativeTranscribe_WrongSampleRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.bin")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := whisper.NewNative(path)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	_, err = p.Transcribe(context.Background(), stt.Request{PCM: makeSpeechPCM(4800), SampleRate: 48000})
	if err == nil || !strings.Contains(err.Error(), "sample rate") {
		t.Fatalf("expected sample rate error, got %v", err)
	}
}

// TestNativeTranscribe_RealModel runs end-to-end inference against a real
// model file. Only a synthetic tone is available, so the test asserts that
// inference completes, not what it recognises.
func TestNativeTranscribe_RealModel(t *testing.T) {
	modelPath := testModelPath(t)
	p, err := whisper.NewNative(modelPath, whisper.WithNativeThreads(2))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	for range 2 {
		if _, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSpeechPCM(16000), SampleRate: 16000}); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}
}
