// Package pipeline orchestrates the extraction of a tool description from a
// directory of tutorial segments.
//
// A run indexes the segments, transcribes and describes each one, synthesizes
// a step document per segment and finally aggregates all step documents into
// one [document.ToolDescription]. Segments are independent of each other and
// may be processed by a bounded worker pool; aggregation always sees them in
// segment order.
//
// Collaborators are small capability interfaces so that decorators such as
// retries can wrap any implementation without touching the pipeline.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/doppelganger/internal/cache"
	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/internal/observe"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// LockPath returns the lock file guarding baseDir. It lives in the system
// temp directory so read-only inputs can still be locked.
func LockPath(baseDir string) (string, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(os.TempDir(), "doppelganger-"+hex.EncodeToString(sum[:8])+".lock"), nil
}

// SegmentResult is the outcome of processing one segment.
type SegmentResult struct {
	Record       document.SegmentRecord
	Transcript   string
	TranscriptOK bool
	Frames       []document.FrameDescription
	Step         document.StepDocument

	// Err is set when the segment failed; under [PolicySkip] the segment is
	// then Skipped.
	Err     error
	Skipped bool
	Elapsed time.Duration
}

// RunReport summarises a run, including segments skipped under [PolicySkip].
type RunReport struct {
	RunID    string
	BaseDir  string
	Segments []SegmentResult
	Skipped  []string
	Elapsed  time.Duration
}

// Event is delivered to an [Observer] on every state change and after every
// segment.
type Event struct {
	RunID   string
	State   State
	Segment *SegmentResult
	Err     error
}

// Observer receives progress events. Calls are serialised by the pipeline.
type Observer func(Event)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithFailurePolicy sets the segment failure policy. Default [PolicyAbort].
func WithFailurePolicy(p FailurePolicy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

// WithConcurrency sets how many segments are processed at once. Values below
// one mean sequential processing.
func WithConcurrency(n int) Option {
	return func(pl *Pipeline) { pl.concurrency = max(n, 1) }
}

// WithCache hands the model-call cache to the pipeline, which then owns its
// lifecycle according to scope.
func WithCache(store cache.Store, scope cache.Scope) Option {
	return func(pl *Pipeline) {
		pl.cache = store
		pl.cacheScope = scope
	}
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(pl *Pipeline) { pl.observer = o }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// WithInputLock enables or disables the per-directory file lock. Enabled by
// default.
func WithInputLock(enabled bool) Option {
	return func(pl *Pipeline) { pl.lockInput = enabled }
}

// Pipeline runs the extraction. A Pipeline may be reused for several runs
// and is safe for concurrent use on different base directories.
type Pipeline struct {
	indexer     Indexer
	transcriber Transcriber
	describer   Describer
	synthesizer Synthesizer
	aggregator  Aggregator

	policy      FailurePolicy
	concurrency int
	cache       cache.Store
	cacheScope  cache.Scope
	observer    Observer
	metrics     *observe.Metrics
	lockInput   bool

	emitMu sync.Mutex
}

// New assembles a Pipeline from its collaborators.
func New(ix Indexer, t Transcriber, d Describer, s Synthesizer, a Aggregator, opts ...Option) *Pipeline {
	p := &Pipeline{
		indexer:     ix,
		transcriber: t,
		describer:   d,
		synthesizer: s,
		aggregator:  a,
		policy:      PolicyAbort,
		concurrency: 1,
		cache:       cache.Noop{},
		cacheScope:  cache.ScopeOff,
		lockInput:   true,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Run processes baseDir and returns the tool description. On failure no
// partial result is returned; the error is usually a [*StageError] naming the
// stage and segment, or [ErrLocked].
func (p *Pipeline) Run(ctx context.Context, baseDir string) (*document.ToolDescription, error) {
	td, _, err := p.RunWithReport(ctx, baseDir)
	return td, err
}

// InvalidateCache clears the model-call cache.
func (p *Pipeline) InvalidateCache(ctx context.Context) error {
	if err := p.cache.Clear(ctx); err != nil {
		return fmt.Errorf("pipeline: invalidate cache: %w", err)
	}
	return nil
}

// RunWithReport is [Pipeline.Run] that also returns per-segment details. The
// report is returned even when the run fails.
func (p *Pipeline) RunWithReport(ctx context.Context, baseDir string) (*document.ToolDescription, *RunReport, error) {
	runID := uuid.NewString()
	start := time.Now()
	report := &RunReport{RunID: runID, BaseDir: baseDir}

	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()
	log := observe.Logger(ctx).With("run_id", runID, "dir", baseDir)

	p.metrics.ActiveRuns.Add(ctx, 1)
	defer p.metrics.ActiveRuns.Add(ctx, -1)
	defer func() {
		report.Elapsed = time.Since(start)
		p.metrics.RunDuration.Record(ctx, report.Elapsed.Seconds())
	}()

	if p.cacheScope == cache.ScopeRun {
		defer func() {
			if err := p.cache.Clear(context.WithoutCancel(ctx)); err != nil {
				log.Warn("pipeline: failed to clear run-scoped cache", "error", err)
			}
		}()
	}

	fail := func(err error) (*document.ToolDescription, *RunReport, error) {
		span.RecordError(err)
		log.Error("pipeline: run failed", "error", err)
		p.emit(Event{RunID: runID, State: StateFailed, Err: err})
		return nil, report, err
	}

	// Indexing.
	p.emit(Event{RunID: runID, State: StateIndexing})
	seq, err := p.indexer.Segments(baseDir)
	if err != nil {
		return fail(&StageError{Stage: StageIndex, Err: err})
	}

	if p.lockInput {
		path, err := LockPath(baseDir)
		if err != nil {
			return fail(fmt.Errorf("pipeline: lock path: %w", err))
		}
		lock := flock.New(path)
		ok, err := lock.TryLock()
		if err != nil {
			return fail(fmt.Errorf("pipeline: acquire lock: %w", err))
		}
		if !ok {
			return fail(ErrLocked)
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				log.Warn("pipeline: failed to release input lock", "error", err)
			}
		}()
	}

	// Per-segment processing.
	p.emit(Event{RunID: runID, State: StatePerSegmentProcessing})
	log.Info("pipeline: processing segments", "concurrency", p.concurrency, "policy", p.policy)

	var (
		mu      sync.Mutex
		results []SegmentResult
		idxErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for rec, err := range seq {
		if err != nil {
			idxErr = &StageError{Stage: StageIndex, Err: err}
			break
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("pipeline: segment %s not started: %w", rec.ID, err)
			}
			res, err := p.processSegment(gctx, rec)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			p.emit(Event{RunID: runID, State: StatePerSegmentProcessing, Segment: &res})
			return err
		})
	}
	werr := g.Wait()

	slices.SortFunc(results, func(a, b SegmentResult) int { return a.Record.Index - b.Record.Index })
	report.Segments = results
	for _, r := range results {
		if r.Skipped {
			report.Skipped = append(report.Skipped, r.Record.ID)
		}
	}

	switch {
	case werr != nil:
		return fail(werr)
	case idxErr != nil:
		return fail(idxErr)
	case ctx.Err() != nil:
		return fail(fmt.Errorf("pipeline: %w", ctx.Err()))
	}

	steps := make([]document.StepDocument, 0, len(results))
	for _, r := range results {
		if !r.Skipped {
			steps = append(steps, r.Step)
		}
	}
	if len(steps) == 0 && len(results) > 0 {
		last := results[len(results)-1].Err
		var se *StageError
		if errors.As(last, &se) {
			return fail(se)
		}
		return fail(&StageError{Stage: StageAggregate, Err: fmt.Errorf("every segment failed: %w", last)})
	}

	// Aggregating.
	p.emit(Event{RunID: runID, State: StateAggregating})
	td := document.ToolDescription{}
	if len(steps) > 0 {
		actx, aspan := observe.StartStageSpan(ctx, string(StageAggregate), "")
		astart := time.Now()
		td, err = p.aggregator.Aggregate(actx, steps)
		p.recordStage(actx, StageAggregate, astart)
		aspan.End()
		if err != nil {
			return fail(&StageError{Stage: StageAggregate, Err: err})
		}
	}
	td.RunID = runID
	td.SourceDir = baseDir
	td.CreatedAt = time.Now().UTC()
	td.Steps = steps

	p.emit(Event{RunID: runID, State: StateDone})
	log.Info("pipeline: run complete",
		"segments", len(results),
		"skipped", len(report.Skipped),
		"elapsed", time.Since(start),
	)
	return &td, report, nil
}

// processSegment transcribes, describes and synthesizes one segment. Under
// PolicySkip, describe and synthesize errors mark the result as skipped and
// are not returned, unless the context itself has ended.
func (p *Pipeline) processSegment(ctx context.Context, rec document.SegmentRecord) (SegmentResult, error) {
	start := time.Now()
	res := SegmentResult{Record: rec}
	log := observe.Logger(ctx).With("segment", rec.ID)

	err := p.runSegmentStages(ctx, rec, &res)
	res.Elapsed = time.Since(start)
	if err == nil {
		p.metrics.RecordSegment(ctx, "ok")
		log.Info("pipeline: segment processed",
			"frames", len(res.Frames),
			"transcript_ok", res.TranscriptOK,
			"well_formed", res.Step.WellFormed(),
			"elapsed", res.Elapsed,
		)
		return res, nil
	}

	res.Err = err
	if p.policy == PolicySkip && ctx.Err() == nil {
		res.Skipped = true
		p.metrics.RecordSegment(ctx, "skipped")
		log.Warn("pipeline: skipping failed segment", "error", err)
		return res, nil
	}
	p.metrics.RecordSegment(ctx, "failed")
	return res, err
}

func (p *Pipeline) runSegmentStages(ctx context.Context, rec document.SegmentRecord, res *SegmentResult) error {
	// Transcription failures are tolerated: the synthesizer gets "".
	sctx, span := observe.StartStageSpan(ctx, string(StageTranscribe), rec.ID)
	t := time.Now()
	res.Transcript, res.TranscriptOK = p.transcriber.Transcribe(sctx, rec.AudioPath)
	if !res.TranscriptOK {
		res.Transcript = ""
	}
	p.recordStage(sctx, StageTranscribe, t)
	span.End()

	sctx, span = observe.StartStageSpan(ctx, string(StageDescribe), rec.ID)
	t = time.Now()
	res.Frames = make([]document.FrameDescription, 0, len(rec.FramePaths))
	for i, path := range rec.FramePaths {
		text, err := p.describer.Describe(sctx, path)
		if err != nil {
			span.RecordError(err)
			span.End()
			return &StageError{Stage: StageDescribe, SegmentID: rec.ID, Err: fmt.Errorf("frame %d: %w", i, err)}
		}
		res.Frames = append(res.Frames, document.FrameDescription{Index: i, Path: path, Text: text})
		p.metrics.FramesDescribed.Add(sctx, 1)
	}
	p.recordStage(sctx, StageDescribe, t)
	span.End()

	sctx, span = observe.StartStageSpan(ctx, string(StageSynthesize), rec.ID)
	defer span.End()
	t = time.Now()
	step, err := p.synthesizer.Synthesize(sctx, rec.ID, res.Transcript, res.Frames)
	p.recordStage(sctx, StageSynthesize, t)
	if err != nil {
		span.RecordError(err)
		return &StageError{Stage: StageSynthesize, SegmentID: rec.ID, Err: err}
	}
	if step.SegmentID == "" {
		step.SegmentID = rec.ID
	}
	res.Step = step
	return nil
}

func (p *Pipeline) recordStage(ctx context.Context, stage Stage, start time.Time) {
	p.metrics.StageDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("stage", string(stage))))
}

func (p *Pipeline) emit(ev Event) {
	if p.observer == nil {
		return
	}
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.observer(ev)
}
