// Package synth turns one segment's transcript and frame descriptions into a
// generalized step document.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/internal/envelope"
	"github.com/MrWong99/doppelganger/internal/modelcall"
)

// TemplateID identifies the step-synthesis prompt in caches and metrics.
const TemplateID = "synthesize_steps.v1"

var promptTmpl = template.Must(template.New(TemplateID).Parse(`You turn one segment of a software tutorial video into automation steps.

A segment is only part of the whole tutorial. You receive the transcript of
its audio and a description of each captured frame.

Keep the steps GENERIC: describe the kind of action ("the user logs in"),
not the literal example values shown in the tutorial. The steps will later be
replayed by an AI agent on different data.

### GUIDELINES
- Work out what the user is trying to achieve in this segment
- Produce the list of steps that achieves that goal
- Reference the frames each step is based on by their FRAME number

### OUTPUT
Answer with an XML structure between <xml> and </xml> tags, for example:
<xml>
<step>
    <description>
        The user is on the home page of a website and wants to log in.
        The site is https://www.example.com
    </description>
    <steps>
        <step>
            <referenced_frames>
                0, 1
            </referenced_frames>
            <description>
                The user clicks the blue "Login" button in the top right corner
                and is redirected to the login page.
            </description>
        </step>
    </steps>
</step>
</xml>

Make the steps as robust as possible.

Audio transcription:
{{.Transcript}}

Image descriptions:
{{.Frames}}
`))

// Synthesizer builds step documents with one model call per segment.
type Synthesizer struct {
	caller *modelcall.Caller
}

// New returns a Synthesizer that sends prompts through caller.
func New(caller *modelcall.Caller) *Synthesizer {
	return &Synthesizer{caller: caller}
}

// Prompt renders the synthesis prompt. Frames are listed one per line as
// "FRAME <index>: <text>" in the order given.
func Prompt(transcript string, frames []document.FrameDescription) (string, error) {
	labels := make([]string, len(frames))
	for i, f := range frames {
		labels[i] = f.Label()
	}
	var b strings.Builder
	err := promptTmpl.Execute(&b, struct{ Transcript, Frames string }{
		Transcript: transcript,
		Frames:     strings.Join(labels, "\n"),
	})
	if err != nil {
		return "", fmt.Errorf("synth: render prompt: %w", err)
	}
	return b.String(), nil
}

// Synthesize returns the step document for segmentID. The model's envelope
// content is used when present, otherwise its raw response. Provider errors
// are returned.
func (s *Synthesizer) Synthesize(ctx context.Context, segmentID, transcript string, frames []document.FrameDescription) (document.StepDocument, error) {
	prompt, err := Prompt(transcript, frames)
	if err != nil {
		return document.StepDocument{}, err
	}
	resp, err := s.caller.Call(ctx, TemplateID, prompt)
	if err != nil {
		return document.StepDocument{}, fmt.Errorf("synth: segment %s: %w", segmentID, err)
	}

	doc := document.StepDocument{SegmentID: segmentID, Content: envelope.ExtractXML(resp)}
	if !doc.WellFormed() {
		slog.Debug("synth: step document is not well-formed XML, keeping it verbatim", "segment", segmentID)
	}
	return doc, nil
}
