// Package mcpserver exposes the extraction pipeline as Model Context Protocol
// tools so that an automation agent can request procedures directly.
//
// Tools:
//
//   - extract_procedure {dir, max_segments}: runs the pipeline and returns
//     the rendered XML document.
//   - index_segments {dir, max_segments}: lists the segment records found.
//   - search_procedures {query, top_k}: nearest stored procedures, only
//     registered when a [Searcher] is configured.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/internal/library"
	"github.com/MrWong99/doppelganger/internal/observe"
	"github.com/MrWong99/doppelganger/internal/pipeline"
)

// Tool names.
const (
	ToolExtractProcedure = "extract_procedure"
	ToolIndexSegments    = "index_segments"
	ToolSearchProcedures = "search_procedures"
)

// ExtractFunc runs the pipeline over dir, processing at most maxSegments
// segments (0 means all).
type ExtractFunc func(ctx context.Context, dir string, maxSegments int) (*document.ToolDescription, *pipeline.RunReport, error)

// IndexFunc lists the segments of dir, at most maxSegments (0 means all).
type IndexFunc func(dir string, maxSegments int) ([]document.SegmentRecord, error)

// Searcher finds stored procedures similar to a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]library.Match, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithSearcher enables the search_procedures tool.
func WithSearcher(s Searcher) Option {
	return func(srv *Server) { srv.search = s }
}

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option {
	return func(srv *Server) { srv.version = v }
}

// Server is an MCP server wrapping the extraction pipeline.
type Server struct {
	sdk     *mcpsdk.Server
	extract ExtractFunc
	index   IndexFunc
	search  Searcher
	version string
}

// ExtractInput is the argument object of extract_procedure.
type ExtractInput struct {
	Dir         string `json:"dir" jsonschema:"directory containing the segment_* subdirectories"`
	MaxSegments int    `json:"max_segments,omitempty" jsonschema:"process only the first N segments; 0 processes all"`
}

// ExtractOutput is the structured result of extract_procedure.
type ExtractOutput struct {
	RunID    string   `json:"run_id"`
	Segments int      `json:"segments"`
	Skipped  []string `json:"skipped,omitempty"`
	Document string   `json:"document"`
}

// IndexInput is the argument object of index_segments.
type IndexInput struct {
	Dir         string `json:"dir" jsonschema:"directory containing the segment_* subdirectories"`
	MaxSegments int    `json:"max_segments,omitempty" jsonschema:"list only the first N segments; 0 lists all"`
}

// SegmentInfo describes one discovered segment.
type SegmentInfo struct {
	ID     string   `json:"id"`
	Index  int      `json:"index"`
	Audio  string   `json:"audio"`
	Frames []string `json:"frames"`
}

// IndexOutput is the structured result of index_segments.
type IndexOutput struct {
	Segments []SegmentInfo `json:"segments"`
}

// SearchInput is the argument object of search_procedures.
type SearchInput struct {
	Query string `json:"query" jsonschema:"free-text description of the task to automate"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of procedures to return"`
}

// SearchHit is one stored procedure matching a query.
type SearchHit struct {
	RunID     string  `json:"run_id"`
	SourceDir string  `json:"source_dir"`
	Summary   string  `json:"summary"`
	Distance  float64 `json:"distance"`
	Document  string  `json:"document"`
}

// SearchOutput is the structured result of search_procedures.
type SearchOutput struct {
	Procedures []SearchHit `json:"procedures"`
}

// New builds a Server. extract and index must be non-nil.
func New(extract ExtractFunc, index IndexFunc, opts ...Option) (*Server, error) {
	if extract == nil || index == nil {
		return nil, errors.New("mcpserver: extract and index functions are required")
	}
	s := &Server{extract: extract, index: index, version: "dev"}
	for _, o := range opts {
		o(s)
	}

	s.sdk = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "doppelganger", Version: s.version}, nil)

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        ToolExtractProcedure,
		Description: "Extract a generalized, step-by-step procedure from a recorded screen session split into segment directories.",
	}, s.handleExtract)

	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        ToolIndexSegments,
		Description: "List the segments (audio file and frames) that extract_procedure would process.",
	}, s.handleIndex)

	if s.search != nil {
		mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
			Name:        ToolSearchProcedures,
			Description: "Find previously extracted procedures similar to a task description.",
		}, s.handleSearch)
	}
	return s, nil
}

// Run serves over stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("mcp server listening on stdio", "version", s.version)
	return s.sdk.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect serves a single session over t. Used for in-process transports.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.sdk.Connect(ctx, t, nil)
}

func (s *Server) handleExtract(ctx context.Context, _ *mcpsdk.CallToolRequest, in ExtractInput) (*mcpsdk.CallToolResult, ExtractOutput, error) {
	if in.Dir == "" {
		return nil, ExtractOutput{}, errors.New("dir is required")
	}
	if in.MaxSegments < 0 {
		return nil, ExtractOutput{}, fmt.Errorf("max_segments %d must not be negative", in.MaxSegments)
	}

	start := time.Now()
	td, report, err := s.extract(ctx, in.Dir, in.MaxSegments)
	if err != nil {
		observe.Logger(ctx).Warn("mcp extract failed", "dir", in.Dir, "error", err)
		return nil, ExtractOutput{}, err
	}

	out := ExtractOutput{RunID: td.RunID, Document: td.Render()}
	if report != nil {
		out.Segments = len(report.Segments)
		out.Skipped = report.Skipped
	}
	observe.Logger(ctx).Info("mcp extract completed",
		"dir", in.Dir,
		"run_id", out.RunID,
		"segments", out.Segments,
		"elapsed", time.Since(start),
	)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out.Document}},
	}, out, nil
}

func (s *Server) handleIndex(_ context.Context, _ *mcpsdk.CallToolRequest, in IndexInput) (*mcpsdk.CallToolResult, IndexOutput, error) {
	if in.Dir == "" {
		return nil, IndexOutput{}, errors.New("dir is required")
	}
	if in.MaxSegments < 0 {
		return nil, IndexOutput{}, fmt.Errorf("max_segments %d must not be negative", in.MaxSegments)
	}
	records, err := s.index(in.Dir, in.MaxSegments)
	if err != nil {
		return nil, IndexOutput{}, err
	}
	out := IndexOutput{Segments: make([]SegmentInfo, 0, len(records))}
	for _, r := range records {
		out.Segments = append(out.Segments, SegmentInfo{
			ID:     r.ID,
			Index:  r.Index,
			Audio:  r.AudioPath,
			Frames: append([]string{}, r.FramePaths...),
		})
	}
	res, err := jsonResult(out)
	return res, out, err
}

func (s *Server) handleSearch(ctx context.Context, _ *mcpsdk.CallToolRequest, in SearchInput) (*mcpsdk.CallToolResult, SearchOutput, error) {
	matches, err := s.search.Search(ctx, in.Query, in.TopK)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	out := SearchOutput{Procedures: make([]SearchHit, 0, len(matches))}
	for _, m := range matches {
		out.Procedures = append(out.Procedures, SearchHit{
			RunID:     m.Procedure.ID,
			SourceDir: m.Procedure.SourceDir,
			Summary:   m.Procedure.Summary,
			Distance:  m.Distance,
			Document:  m.Procedure.Document,
		})
	}
	res, err := jsonResult(out)
	return res, out, err
}

// jsonResult renders v as the single text content of a tool result.
func jsonResult(v any) (*mcpsdk.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: encode result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil
}
