package document

import (
	"strings"
	"testing"
)

func TestFrameDescription_Label(t *testing.T) {
	tests := []struct {
		name string
		fd   FrameDescription
		want string
	}{
		{"single line", FrameDescription{Index: 0, Text: "<app>Browser</app>"}, "FRAME 0: <app>Browser</app>"},
		{"newlines stripped", FrameDescription{Index: 3, Text: "<app>\n  Browser\n</app>"}, "FRAME 3: <app>  Browser</app>"},
		{"empty text", FrameDescription{Index: 1}, "FRAME 1: "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.fd.Label(); got != tc.want {
				t.Errorf("Label() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStepDocument_WellFormed(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"single element", "<step><description>log in</description></step>", true},
		{"surrounding whitespace", "\n  <step>x</step>\n", true},
		{"two roots", "<step>a</step><step>b</step>", false},
		{"text outside", "Here: <step>a</step>", false},
		{"unclosed", "<step><description>a</step>", false},
		{"plain text", "the user logs in", false},
		{"empty", "", false},
		{"with comment", "<!-- c --><step/>", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := StepDocument{Content: tc.content}
			if got := d.WellFormed(); got != tc.want {
				t.Errorf("WellFormed(%q) = %v, want %v", tc.content, got, tc.want)
			}
		})
	}
}

func TestToolDescription_Render(t *testing.T) {
	td := ToolDescription{
		Description: "<tool><description>order pizza</description></tool>",
		Steps: []StepDocument{
			{SegmentID: "segment_00", Content: "<step>login</step>"},
			{SegmentID: "segment_01", Content: "malformed output kept"},
		},
	}
	want := "<xml>\n<main_description>\n" +
		"<tool><description>order pizza</description></tool>\n" +
		"</main_description>\n" +
		"<step>login</step>\n" +
		"malformed output kept\n" +
		"</xml>\n"
	if got := td.Render(); got != want {
		t.Errorf("Render() =\n%s\nwant\n%s", got, want)
	}
}

func TestToolDescription_RenderEmpty(t *testing.T) {
	got := ToolDescription{}.Render()
	if !strings.HasPrefix(got, "<xml>\n<main_description>\n") || !strings.HasSuffix(got, "</main_description>\n</xml>\n") {
		t.Errorf("unexpected empty render: %q", got)
	}
}

func TestToolDescription_Summary(t *testing.T) {
	td := ToolDescription{Description: "<tool>\n  <description>\n    The user wants to\n    order a pizza\n  </description>\n  <guidance>x</guidance>\n</tool>"}
	if got := td.Summary(); got != "The user wants to order a pizza" {
		t.Errorf("Summary() = %q", got)
	}
	if got := (ToolDescription{Description: "  free text  "}).Summary(); got != "free text" {
		t.Errorf("Summary() fallback = %q", got)
	}
}
