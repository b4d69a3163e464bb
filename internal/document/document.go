// Package document defines the data that flows through the extraction
// pipeline: segment records produced by the indexer, per-frame descriptions,
// per-segment step documents, and the final tool description handed to the
// downstream automation agent.
//
// All values are created once and never mutated afterwards. The final
// artifact is plain tagged text (see [ToolDescription.Render]) so that it can
// be edited by hand and parsed by any XML-aware consumer.
package document

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/doppelganger/internal/envelope"
)

// SegmentRecord describes the media of one tutorial segment on disk.
type SegmentRecord struct {
	// ID is the segment directory name (e.g. "segment_003"). Lexicographic
	// order of IDs is the playback order.
	ID string

	// Index is the zero-based position of the segment in sorted order.
	Index int

	// Dir is the absolute or base-relative path of the segment directory.
	Dir string

	// AudioPath is the single audio artifact of the segment.
	AudioPath string

	// FramePaths lists the frame images in capture order.
	FramePaths []string
}

// FrameDescription is the model's description of one frame of a segment.
type FrameDescription struct {
	// Index is the zero-based frame position within its segment. Step
	// documents reference frames by this number.
	Index int

	// Path is the image file the description was produced from.
	Path string

	// Text is the extracted description.
	Text string
}

// Label renders the description as a single prompt line, "FRAME <index>: <text>".
// Newlines in the text are removed so each frame occupies exactly one line.
func (f FrameDescription) Label() string {
	return fmt.Sprintf("FRAME %d: %s", f.Index, strings.ReplaceAll(f.Text, "\n", ""))
}

// StepDocument is the generalized step breakdown of one segment.
type StepDocument struct {
	SegmentID string
	Content   string
}

// WellFormed reports whether Content parses as exactly one top-level XML
// element with nothing but whitespace around it. Malformed documents are still
// valid pipeline output; they are carried verbatim into the final artifact.
func (d StepDocument) WellFormed() bool {
	return singleElement(d.Content)
}

// ToolDescription is the final artifact of a pipeline run.
type ToolDescription struct {
	// RunID identifies the run that produced the description.
	RunID string

	// SourceDir is the base directory the segments were read from.
	SourceDir string

	// Description is the generalized description block returned by the
	// aggregation call, typically a <tool> element with description and
	// guidance children.
	Description string

	// Steps holds one step document per processed segment, in segment order.
	Steps []StepDocument

	CreatedAt time.Time
}

// Render returns the combined document:
//
//	<xml>
//	<main_description>
//	{Description}
//	</main_description>
//	{Steps[0].Content}
//	...
//	</xml>
func (t ToolDescription) Render() string {
	var b strings.Builder
	b.WriteString("<xml>\n<main_description>\n")
	b.WriteString(t.Description)
	b.WriteString("\n</main_description>\n")
	for _, s := range t.Steps {
		b.WriteString(s.Content)
		b.WriteByte('\n')
	}
	b.WriteString("</xml>\n")
	return b.String()
}

// Summary returns the trimmed text of the first <description> element of the
// generalized description, or the whole trimmed description when there is
// none. It is used as the searchable abstract of a stored procedure.
func (t ToolDescription) Summary() string {
	inner, found := envelope.Extract(t.Description, "<description>", "</description>")
	if !found {
		return strings.TrimSpace(t.Description)
	}
	return strings.Join(strings.Fields(inner), " ")
}

// singleElement reports whether s holds exactly one top-level XML element.
func singleElement(s string) bool {
	dec := xml.NewDecoder(strings.NewReader(s))
	dec.Strict = true

	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return depth == 0 && roots == 1
		}
		if err != nil {
			return false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return false
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && strings.TrimSpace(string(t)) != "" {
				return false
			}
		}
	}
}
