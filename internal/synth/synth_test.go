package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/internal/modelcall"
	"github.com/MrWong99/doppelganger/internal/observe"
	"github.com/MrWong99/doppelganger/pkg/provider/llm"
	llmmock "github.com/MrWong99/doppelganger/pkg/provider/llm/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newSynthesizer(t *testing.T, p *llmmock.Provider) *Synthesizer {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return New(modelcall.New(p, modelcall.WithMetrics(m)))
}

func TestPrompt_EmbedsTranscriptAndOrderedFrames(t *testing.T) {
	frames := []document.FrameDescription{
		{Index: 0, Text: "<app>\nBrowser</app>"},
		{Index: 1, Text: "<button>Login</button>"},
	}
	got, err := Prompt("click login", frames)
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if !strings.Contains(got, "Audio transcription:\nclick login\n") {
		t.Error("transcript not embedded")
	}
	want := "Image descriptions:\nFRAME 0: <app>Browser</app>\nFRAME 1: <button>Login</button>\n"
	if !strings.HasSuffix(got, want) {
		t.Errorf("frames block not at end of prompt:\n%s", got)
	}
}

func TestPrompt_EmptyInputs(t *testing.T) {
	got, err := Prompt("", nil)
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if !strings.HasSuffix(got, "Audio transcription:\n\n\nImage descriptions:\n\n") {
		t.Errorf("unexpected empty prompt tail: %q", got[len(got)-60:])
	}
}

func TestSynthesize(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Sure.\n<xml><step><description>log in</description></step></xml>",
	}}
	doc, err := newSynthesizer(t, p).Synthesize(context.Background(), "segment_00", "click login", nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if doc.SegmentID != "segment_00" {
		t.Errorf("SegmentID = %q", doc.SegmentID)
	}
	if doc.Content != "<step><description>log in</description></step>" || !doc.WellFormed() {
		t.Errorf("Content = %q", doc.Content)
	}
}

func TestSynthesize_MalformedKeptVerbatim(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "1. Log in\n2. Submit"}}
	doc, err := newSynthesizer(t, p).Synthesize(context.Background(), "segment_01", "", nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if doc.Content != "1. Log in\n2. Submit" || doc.WellFormed() {
		t.Errorf("Content = %q, wellFormed = %v", doc.Content, doc.WellFormed())
	}
}

func TestSynthesize_ProviderError(t *testing.T) {
	boom := errors.New("503")
	p := &llmmock.Provider{CompleteErr: boom}
	_, err := newSynthesizer(t, p).Synthesize(context.Background(), "segment_02", "x", nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected provider error, got %v", err)
	}
	if !strings.Contains(err.Error(), "segment_02") {
		t.Errorf("error should name the segment: %v", err)
	}
}
