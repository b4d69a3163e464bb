package pipeline_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/doppelganger/internal/aggregate"
	"github.com/MrWong99/doppelganger/internal/frames"
	"github.com/MrWong99/doppelganger/internal/media"
	"github.com/MrWong99/doppelganger/internal/modelcall"
	"github.com/MrWong99/doppelganger/internal/pipeline"
	"github.com/MrWong99/doppelganger/internal/synth"
	"github.com/MrWong99/doppelganger/internal/transcribe"
	"github.com/MrWong99/doppelganger/pkg/audio"
	"github.com/MrWong99/doppelganger/pkg/executor"
	"github.com/MrWong99/doppelganger/pkg/provider/llm"
	llmmock "github.com/MrWong99/doppelganger/pkg/provider/llm/mock"
	"github.com/MrWong99/doppelganger/pkg/provider/stt"
	sttmock "github.com/MrWong99/doppelganger/pkg/provider/stt/mock"
	"github.com/MrWong99/doppelganger/pkg/types"
)

// writeWAV writes a 16 kHz mono clip of n silent samples.
func writeWAV(t *testing.T, path string, n int) {
	t.Helper()
	data := make([]byte, 2*n)
	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], uint32(36+len(data)))
	copy(hdr[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], 1)
	binary.LittleEndian.PutUint16(hdr[22:], 1)
	binary.LittleEndian.PutUint32(hdr[24:], 16000)
	binary.LittleEndian.PutUint32(hdr[28:], 32000)
	binary.LittleEndian.PutUint16(hdr[32:], 2)
	binary.LittleEndian.PutUint16(hdr[34:], 16)
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], uint32(len(data)))
	if err := os.WriteFile(path, append(hdr, data...), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRun_TwoSegmentTutorial(t *testing.T) {
	base := t.TempDir()
	segments := []struct {
		samples int
		speech  string
		frames  int
	}{
		{samples: 1600, speech: "click login", frames: 2},
		{samples: 3200, speech: "click submit", frames: 1},
	}
	speechBySize := make(map[int]string)
	for i, s := range segments {
		dir := filepath.Join(base, fmt.Sprintf("segment_%02d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		writeWAV(t, filepath.Join(dir, "audio.wav"), s.samples)
		for j := range s.frames {
			img := fmt.Sprintf("screen %d.%d", i, j)
			if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame_%04d.png", j)), []byte(img), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		speechBySize[2*s.samples] = s.speech
	}

	speech := &sttmock.Provider{TranscribeFunc: func(_ context.Context, req stt.Request) (*stt.Result, error) {
		return &stt.Result{Segments: []stt.Segment{{Text: " " + speechBySize[len(req.PCM)]}}}, nil
	}}

	var (
		mu              sync.Mutex
		synthPrompts    = make(map[string]string)
		aggregatePrompt string
	)
	model := &llmmock.Provider{
		ModelCapabilities: types.ModelCapabilities{SupportsVision: true},
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			msg := req.Messages[0]
			if len(msg.Images) == 1 {
				return &llm.CompletionResponse{Content: "<xml>" + string(msg.Images[0].Data) + "</xml>"}, nil
			}
			if _, rest, ok := strings.Cut(msg.Content, "Audio transcription:\n"); ok {
				transcript, _, _ := strings.Cut(rest, "\n")
				mu.Lock()
				synthPrompts[transcript] = msg.Content
				mu.Unlock()
				return &llm.CompletionResponse{Content: "<xml><step>" + transcript + "</step></xml>"}, nil
			}
			mu.Lock()
			aggregatePrompt = msg.Content
			mu.Unlock()
			return &llm.CompletionResponse{Content: "Sure: <xml><tool>log in and submit</tool></xml>"}, nil
		},
	}
	caller := modelcall.New(model)

	p := pipeline.New(
		media.NewIndexer(),
		transcribe.New(audio.NewDecoder(executor.New()), speech),
		frames.New(caller),
		synth.New(caller),
		aggregate.New(caller),
		pipeline.WithConcurrency(2),
		pipeline.WithInputLock(false),
	)
	td, err := p.Run(context.Background(), base)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var ids, contents []string
	for _, s := range td.Steps {
		ids = append(ids, s.SegmentID)
		contents = append(contents, s.Content)
	}
	if !slices.Equal(ids, []string{"segment_00", "segment_01"}) {
		t.Errorf("step order = %v", ids)
	}
	if !slices.Equal(contents, []string{"<step>click login</step>", "<step>click submit</step>"}) {
		t.Errorf("step contents = %v", contents)
	}
	if td.Description != "<tool>log in and submit</tool>" {
		t.Errorf("description = %q", td.Description)
	}
	if speech.CallCount() != 2 {
		t.Errorf("speech engine called %d times, want 2", speech.CallCount())
	}

	login := synthPrompts["click login"]
	if !strings.Contains(login, "FRAME 0: screen 0.0\nFRAME 1: screen 0.1") {
		t.Errorf("first segment prompt lacks its frames:\n%s", login)
	}
	if submit := synthPrompts["click submit"]; !strings.Contains(submit, "FRAME 0: screen 1.0") || strings.Contains(submit, "FRAME 1:") {
		t.Errorf("second segment prompt has wrong frames:\n%s", submit)
	}

	i, j := strings.Index(aggregatePrompt, "click login"), strings.Index(aggregatePrompt, "click submit")
	if i < 0 || j < i {
		t.Errorf("aggregate prompt should list both steps in order:\n%s", aggregatePrompt)
	}
	if n := len(model.CompleteCalls); n != 6 {
		t.Errorf("model calls = %d, want 3 frames + 2 segments + 1 aggregate", n)
	}
}
