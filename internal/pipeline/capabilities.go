package pipeline

import (
	"context"
	"iter"

	"github.com/MrWong99/doppelganger/internal/document"
)

// Indexer yields the segment records of a base directory in order.
// [*media.Indexer] implements it.
type Indexer interface {
	Segments(baseDir string) (iter.Seq2[document.SegmentRecord, error], error)
}

// Transcriber converts one audio file to text. ok is false when no
// transcript could be produced; the pipeline then uses "".
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (text string, ok bool)
}

// TranscriberFunc adapts a function to [Transcriber].
type TranscriberFunc func(ctx context.Context, audioPath string) (string, bool)

func (f TranscriberFunc) Transcribe(ctx context.Context, audioPath string) (string, bool) {
	return f(ctx, audioPath)
}

// Describer converts one frame image to a textual description.
type Describer interface {
	Describe(ctx context.Context, framePath string) (string, error)
}

// DescriberFunc adapts a function to [Describer].
type DescriberFunc func(ctx context.Context, framePath string) (string, error)

func (f DescriberFunc) Describe(ctx context.Context, framePath string) (string, error) {
	return f(ctx, framePath)
}

// Synthesizer builds the step document of one segment.
type Synthesizer interface {
	Synthesize(ctx context.Context, segmentID, transcript string, frames []document.FrameDescription) (document.StepDocument, error)
}

// SynthesizerFunc adapts a function to [Synthesizer].
type SynthesizerFunc func(ctx context.Context, segmentID, transcript string, frames []document.FrameDescription) (document.StepDocument, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, segmentID, transcript string, frames []document.FrameDescription) (document.StepDocument, error) {
	return f(ctx, segmentID, transcript, frames)
}

// Aggregator folds ordered step documents into one tool description.
type Aggregator interface {
	Aggregate(ctx context.Context, steps []document.StepDocument) (document.ToolDescription, error)
}

// AggregatorFunc adapts a function to [Aggregator].
type AggregatorFunc func(ctx context.Context, steps []document.StepDocument) (document.ToolDescription, error)

func (f AggregatorFunc) Aggregate(ctx context.Context, steps []document.StepDocument) (document.ToolDescription, error) {
	return f(ctx, steps)
}
