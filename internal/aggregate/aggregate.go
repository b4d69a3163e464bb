// Package aggregate folds the step documents of all segments into one
// generalized tool description.
//
// This is the only stage that looks at more than one segment at a time; any
// cross-segment consistency in the final artifact comes from this call.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/internal/envelope"
	"github.com/MrWong99/doppelganger/internal/modelcall"
	"github.com/MrWong99/doppelganger/pkg/types"
)

// TemplateID identifies the aggregation prompt in caches and metrics.
const TemplateID = "aggregate_tool.v1"

var promptTmpl = template.Must(template.New(TemplateID).Parse(`You create general automation tools from the step breakdowns of a video tutorial.

Use everything you know about the individual segments to write one generic
description of what the user wants to automate.

Some steps are specific to the video. Add guidance that explains what the
real goal is. This is a TUTORIAL: values shown on screen are often examples
and must be generalized. Say which concrete values are examples and which
are required constants.

### EXAMPLE
<xml>
<tool>
    <description>
        The user wants to automate ordering a pizza from an online pizzeria.
    </description>
    <guidance>
        In step 5 the user picked the "Hawaiian" pizza; that is an example and
        the tool must accept any pizza. The audio says the tool is only for
        pizza orders, so other cuisines can be ignored.
    </guidance>
</tool>
</xml>

### GUIDELINES
- Be as robust as possible
- This is guidance for a computer use agent: say what to look for on a page and how to interact with it
- Include links, the logical actions and the core of what happens in the steps
- Prefer graphical interfaces over the terminal

Return your output between <xml> and </xml> tags.

Here are the steps of the requested action:
{{.}}
`))

// Aggregator issues the single cross-segment model call.
type Aggregator struct {
	caller *modelcall.Caller
}

// New returns an Aggregator that sends prompts through caller.
func New(caller *modelcall.Caller) *Aggregator {
	return &Aggregator{caller: caller}
}

// Prompt renders the aggregation prompt for the given step documents, joined
// in order with newlines.
func Prompt(steps []document.StepDocument) (string, error) {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = s.Content
	}
	var b strings.Builder
	if err := promptTmpl.Execute(&b, strings.Join(parts, "\n")); err != nil {
		return "", fmt.Errorf("aggregate: render prompt: %w", err)
	}
	return b.String(), nil
}

// Aggregate returns a ToolDescription whose Description is the envelope
// content of the model's answer (or the raw answer) and whose Steps are steps
// in the given order. With no steps the model is not called and the
// description is empty. RunID, SourceDir and CreatedAt are left for the
// caller to fill in.
func (a *Aggregator) Aggregate(ctx context.Context, steps []document.StepDocument) (document.ToolDescription, error) {
	td := document.ToolDescription{Steps: append([]document.StepDocument(nil), steps...)}
	if len(steps) == 0 {
		return td, nil
	}

	prompt, err := Prompt(steps)
	if err != nil {
		return document.ToolDescription{}, err
	}
	a.checkContext(prompt)

	resp, err := a.caller.Call(ctx, TemplateID, prompt)
	if err != nil {
		return document.ToolDescription{}, fmt.Errorf("aggregate: %w", err)
	}
	td.Description = envelope.ExtractXML(resp)
	return td, nil
}

// checkContext warns when the prompt likely exceeds the model's context
// window. The call is still attempted; the provider has the final word.
func (a *Aggregator) checkContext(prompt string) {
	p := a.caller.Provider()
	window := p.Capabilities().ContextWindow
	if window <= 0 {
		return
	}
	n, err := p.CountTokens([]types.Message{{Role: "user", Content: prompt}})
	if err != nil {
		slog.Debug("aggregate: token count unavailable", "error", err)
		return
	}
	if n > window {
		slog.Warn("aggregate: step corpus may exceed the model context window",
			"tokens", n, "context_window", window)
	}
}
