// Package envelope extracts the content of tagged envelopes from free-form
// model output.
//
// Models are asked to wrap their answer in a single <xml>...</xml> block but
// frequently add prose before or after it, or ignore the instruction
// entirely. Extraction is lenient: usable text is never discarded.
package envelope

import "strings"

// Default markers for the XML envelope requested in every prompt.
const (
	OpenXML  = "<xml>"
	CloseXML = "</xml>"
)

// Extract returns the text between the first occurrence of open and the first
// occurrence of close that follows it.
//
//   - No open marker: text is returned unchanged and found is false.
//   - Open marker without a matching close: everything after the open marker.
//   - Several envelopes: only the first one is returned.
//
// The result is not trimmed.
func Extract(text, open, close string) (content string, found bool) {
	_, after, ok := strings.Cut(text, open)
	if !ok {
		return text, false
	}
	before, _, _ := strings.Cut(after, close)
	return before, true
}

// ExtractXML is [Extract] with the <xml> and </xml> markers.
func ExtractXML(text string) string {
	content, _ := Extract(text, OpenXML, CloseXML)
	return content
}
