package pipeline

import (
	"errors"
	"fmt"
)

// State is the phase a run is in. Runs move forward through Indexing,
// PerSegmentProcessing, Aggregating and Done; Failed can follow any state.
type State int

const (
	StateIndexing State = iota
	StatePerSegmentProcessing
	StateAggregating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIndexing:
		return "indexing"
	case StatePerSegmentProcessing:
		return "per_segment_processing"
	case StateAggregating:
		return "aggregating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stage names the step of the pipeline at which an error occurred.
type Stage string

const (
	StageIndex      Stage = "index"
	StageTranscribe Stage = "transcribe"
	StageDescribe   Stage = "describe"
	StageSynthesize Stage = "synthesize"
	StageAggregate  Stage = "aggregate"
)

// ErrLocked is returned when another run holds the lock on the input
// directory.
var ErrLocked = errors.New("pipeline: input directory is locked by another run")

// StageError is the single aborting failure of a run. It names the stage and,
// for per-segment stages, the segment at which the run failed.
type StageError struct {
	Stage     Stage
	SegmentID string
	Err       error
}

func (e *StageError) Error() string {
	if e.SegmentID == "" {
		return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("pipeline: %s segment %s: %v", e.Stage, e.SegmentID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailurePolicy decides what a describe or synthesize failure does to the run.
type FailurePolicy string

const (
	// PolicyAbort stops the run at the first failing segment and returns no
	// tool description.
	PolicyAbort FailurePolicy = "abort"

	// PolicySkip records the failing segment in the run report and
	// aggregates the remaining ones.
	PolicySkip FailurePolicy = "skip"
)

// ParseFailurePolicy converts s to a FailurePolicy. Empty means [PolicyAbort].
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "":
		return PolicyAbort, nil
	case PolicyAbort, PolicySkip:
		return FailurePolicy(s), nil
	default:
		return "", fmt.Errorf("pipeline: unknown failure policy %q (want abort or skip)", s)
	}
}
