// Package frames describes individual tutorial frames with a vision-capable
// language model.
package frames

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/doppelganger/internal/envelope"
	"github.com/MrWong99/doppelganger/internal/media"
	"github.com/MrWong99/doppelganger/internal/modelcall"
	"github.com/MrWong99/doppelganger/pkg/types"
)

// TemplateID identifies the describe-frame prompt in caches and metrics.
const TemplateID = "describe_frame.v1"

const describePrompt = `You describe screenshots taken from a software tutorial.

Your description feeds a COMPUTER USE pipeline, so focus on the details an
agent needs to operate the interface shown in the image.

### GUIDELINES
- Name the application that is being used
- Extract the URL if one is visible
- Describe forms generically, e.g. "The input field labeled 'Name' contains 'John Doe'"
- Be as specific as possible about controls, labels and their positions

### OUTPUT
Structure your answer as XML and leave out anything irrelevant to operating the interface.
Do not add comments; output only the XML between <xml> and </xml> tags.
`

// Describer turns a frame image into a structured textual description.
type Describer struct {
	caller *modelcall.Caller
}

// New returns a Describer that sends frames through caller. It logs a
// warning when the provider does not report vision support, since the model
// will then only see the instruction text.
func New(caller *modelcall.Caller) *Describer {
	if !caller.Provider().Capabilities().SupportsVision {
		slog.Warn("frames: configured model does not report vision support; frame descriptions will be unreliable")
	}
	return &Describer{caller: caller}
}

// Describe sends the image at framePath to the model and returns the content
// of the response envelope, or the raw response when the model did not use
// one. A missing file yields an error wrapping [media.ErrNotFound]; provider
// errors are returned as is.
func (d *Describer) Describe(ctx context.Context, framePath string) (string, error) {
	data, err := os.ReadFile(framePath)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("frames: %q: %w: %w", framePath, media.ErrNotFound, err)
	}
	if err != nil {
		return "", fmt.Errorf("frames: read %q: %w", framePath, err)
	}

	img := types.Image{MediaType: media.ImageMediaType(framePath), Data: data}
	resp, err := d.caller.Call(ctx, TemplateID, describePrompt, img)
	if err != nil {
		return "", fmt.Errorf("frames: describe %q: %w", framePath, err)
	}
	return envelope.ExtractXML(resp), nil
}
