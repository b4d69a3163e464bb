package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/doppelganger/internal/aggregate"
	"github.com/MrWong99/doppelganger/internal/cache"
	"github.com/MrWong99/doppelganger/internal/config"
	"github.com/MrWong99/doppelganger/internal/document"
	"github.com/MrWong99/doppelganger/internal/frames"
	"github.com/MrWong99/doppelganger/internal/health"
	"github.com/MrWong99/doppelganger/internal/library"
	"github.com/MrWong99/doppelganger/internal/media"
	"github.com/MrWong99/doppelganger/internal/modelcall"
	"github.com/MrWong99/doppelganger/internal/observe"
	"github.com/MrWong99/doppelganger/internal/pipeline"
	"github.com/MrWong99/doppelganger/internal/resilience"
	"github.com/MrWong99/doppelganger/internal/synth"
	"github.com/MrWong99/doppelganger/internal/transcribe"
	"github.com/MrWong99/doppelganger/internal/vocab"
	"github.com/MrWong99/doppelganger/pkg/audio"
	"github.com/MrWong99/doppelganger/pkg/executor"
	"github.com/MrWong99/doppelganger/pkg/provider/embeddings"
	"github.com/MrWong99/doppelganger/pkg/provider/stt"
)

// app owns the long-lived resources of an extraction process. Settings that
// may change on config reload (pipeline, retry) are read per run; everything
// held here needs a restart to change.
type app struct {
	providers *providerSet
	cache     cache.Store
	scope     cache.Scope
	metrics   *observe.Metrics
	decoder   *audio.Decoder
	library   *library.Library

	telemetry *telemetry
}

// newApp starts telemetry, builds providers and opens the cache and the
// optional procedure library. The metrics endpoint comes up last so its
// readiness endpoint can check the opened resources.
func newApp(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app, error) {
	tel, err := startTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	a := &app{telemetry: tel, metrics: observe.DefaultMetrics()}

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.providers = ps
	a.decoder = audio.NewDecoder(executor.New())

	a.cache, a.scope, err = openCache(ctx, cfg.Cache)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Library.PostgresDSN != "" {
		a.library, err = openLibrary(ctx, cfg.Library, ps.Embeddings)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.telemetry.serve(cfg.Telemetry.MetricsAddr, a.metrics, a.readinessChecks()...)
	return a, nil
}

// readinessChecks checks the resources that can go away while the process
// keeps running.
func (a *app) readinessChecks() []health.Checker {
	var checks []health.Checker
	if p, ok := a.cache.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, health.Checker{Name: "cache", Check: p.Ping})
	}
	if a.library != nil {
		checks = append(checks, health.Checker{Name: "library", Check: a.library.Ping})
	}
	return checks
}

// Close releases every resource. It is safe on a partially built app.
func (a *app) Close() {
	if a.library != nil {
		a.library.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Warn("failed to close cache", "error", err)
		}
	}
	a.telemetry.Close()
}

// runOptions are the per-run knobs that CLI flags and tool arguments may
// override.
type runOptions struct {
	MaxSegments   int
	Concurrency   int
	FailurePolicy pipeline.FailurePolicy
	Observer      pipeline.Observer
}

// defaultRunOptions derives run options from the pipeline section.
func defaultRunOptions(pc config.PipelineConfig) (runOptions, error) {
	policy, err := pipeline.ParseFailurePolicy(pc.FailurePolicy)
	if err != nil {
		return runOptions{}, err
	}
	return runOptions{
		MaxSegments:   pc.MaxSegments,
		Concurrency:   pc.Concurrency,
		FailurePolicy: policy,
	}, nil
}

// newPipeline assembles a pipeline for one run from the current config.
func (a *app) newPipeline(cfg *config.Config, opts runOptions) *pipeline.Pipeline {
	retry := retryConfig(cfg.Retry)
	store := a.runCache()

	callerOpts := func(name string) []modelcall.Option {
		return []modelcall.Option{
			modelcall.WithCache(store),
			modelcall.WithMetrics(a.metrics),
			modelcall.WithTemperature(cfg.Pipeline.Temperature),
			modelcall.WithMaxTokens(cfg.Pipeline.MaxTokens),
			modelcall.WithProviderName(name),
		}
	}
	text := modelcall.New(a.providers.Text, callerOpts(a.providers.TextName)...)
	vision := modelcall.New(a.providers.Vision, callerOpts(a.providers.VisionName)...)

	fd := frames.New(vision)
	sy := synth.New(text)
	ag := aggregate.New(text)

	describer := pipeline.DescriberFunc(func(ctx context.Context, framePath string) (string, error) {
		return resilience.RetryWithResult(ctx, retry, func(ctx context.Context) (string, error) {
			return fd.Describe(ctx, framePath)
		})
	})
	synthesizer := pipeline.SynthesizerFunc(func(ctx context.Context, segmentID, transcript string, fds []document.FrameDescription) (document.StepDocument, error) {
		return resilience.RetryWithResult(ctx, retry, func(ctx context.Context) (document.StepDocument, error) {
			return sy.Synthesize(ctx, segmentID, transcript, fds)
		})
	})
	aggregator := pipeline.AggregatorFunc(func(ctx context.Context, steps []document.StepDocument) (document.ToolDescription, error) {
		return resilience.RetryWithResult(ctx, retry, func(ctx context.Context) (document.ToolDescription, error) {
			return ag.Aggregate(ctx, steps)
		})
	})

	var transcriber pipeline.Transcriber = pipeline.TranscriberFunc(func(context.Context, string) (string, bool) {
		return "", false
	})
	if a.providers.STT != nil {
		transcriber = transcribe.New(a.decoder, retryingSTT{provider: a.providers.STT, cfg: retry},
			transcribe.WithLanguage(cfg.Pipeline.Language),
			transcribe.WithVocabulary(vocab.New(cfg.Pipeline.Vocabulary)),
			transcribe.WithMetrics(a.metrics),
			transcribe.WithProviderName(a.providers.STTName),
		)
	}

	return pipeline.New(
		newIndexer(cfg.Pipeline, opts.MaxSegments),
		transcriber, describer, synthesizer, aggregator,
		pipeline.WithFailurePolicy(opts.FailurePolicy),
		pipeline.WithConcurrency(opts.Concurrency),
		pipeline.WithCache(store, a.scope),
		pipeline.WithObserver(opts.Observer),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithInputLock(cfg.Pipeline.InputLockEnabled()),
	)
}

// runCache returns the store a single run caches model calls in. Run-scoped
// entries belong to one run, so concurrent runs never clear each other's.
func (a *app) runCache() cache.Store {
	if a.scope == cache.ScopeRun {
		return cache.NewMemory()
	}
	return a.cache
}

// extract runs the pipeline over dir and stores the result in the library
// when one is configured. Library failures are logged, not returned.
func (a *app) extract(ctx context.Context, cfg *config.Config, dir string, opts runOptions) (*document.ToolDescription, *pipeline.RunReport, error) {
	td, report, err := a.newPipeline(cfg, opts).RunWithReport(ctx, dir)
	if err != nil {
		return nil, report, err
	}
	if a.library != nil && len(td.Steps) > 0 {
		if _, err := a.library.Add(ctx, td); err != nil {
			slog.Warn("failed to store procedure in library", "run_id", td.RunID, "error", err)
		}
	}
	return td, report, nil
}

func newIndexer(pc config.PipelineConfig, maxSegments int) *media.Indexer {
	opts := []media.Option{media.WithMaxSegments(maxSegments)}
	if pc.SegmentPrefix != "" {
		opts = append(opts, media.WithSegmentPrefix(pc.SegmentPrefix))
	}
	return media.NewIndexer(opts...)
}

func retryConfig(rc config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    rc.MaxAttempts,
		InitialBackoff: rc.InitialBackoff,
		MaxBackoff:     rc.MaxBackoff,
		Retryable: func(err error) bool {
			return !errors.Is(err, media.ErrNotFound)
		},
	}
}

// retryingSTT repeats failed transcriptions according to the retry config.
type retryingSTT struct {
	provider stt.Provider
	cfg      resilience.RetryConfig
}

func (r retryingSTT) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	return resilience.RetryWithResult(ctx, r.cfg, func(ctx context.Context) (*stt.Result, error) {
		return r.provider.Transcribe(ctx, req)
	})
}

// openCache returns the store and scope selected by cc. A disabled cache is
// a [cache.Noop].
func openCache(ctx context.Context, cc config.CacheConfig) (cache.Store, cache.Scope, error) {
	scope, err := cache.ParseScope(cc.Scope)
	if err != nil {
		return nil, "", err
	}
	if scope == cache.ScopeOff {
		return cache.Noop{}, scope, nil
	}
	if cc.Backend == config.CacheBackendSQLite {
		s, err := cache.OpenSQLite(ctx, cc.Path)
		if err != nil {
			return nil, "", err
		}
		slog.Debug("response cache opened", "backend", cc.Backend, "path", s.Path(), "scope", scope)
		return s, scope, nil
	}
	return cache.NewMemory(), scope, nil
}

// openLibrary connects to the pgvector store.
func openLibrary(ctx context.Context, lc config.LibraryConfig, emb embeddings.Provider) (*library.Library, error) {
	if emb == nil {
		return nil, errors.New("library.postgres_dsn requires providers.embeddings")
	}
	store, err := library.NewPostgresStore(ctx, lc.PostgresDSN, lc.EmbeddingDimensions)
	if err != nil {
		return nil, fmt.Errorf("open procedure library: %w", err)
	}
	return library.New(store, emb), nil
}

// telemetry is the OpenTelemetry SDK plus the /metrics endpoint. A nil
// *telemetry is valid and does nothing.
type telemetry struct {
	providers *observe.Telemetry
	server    *http.Server
}

// startTelemetry installs the OTel providers when a metrics address is
// configured. Without one the global no-op providers stay in place.
func startTelemetry(ctx context.Context, tc config.TelemetryConfig) (*telemetry, error) {
	if tc.MetricsAddr == "" {
		return nil, nil
	}
	providers, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    tc.ServiceName,
		ServiceVersion: version,
		Attributes:     tc.ResourceAttributes,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return &telemetry{providers: providers}, nil
}

// serve exposes /metrics, /healthz and /readyz on addr in the background.
func (t *telemetry) serve(addr string, m *observe.Metrics, checks ...health.Checker) {
	if t == nil || t.server != nil {
		return
	}
	t.server = observe.NewMetricsServer(addr, t.providers.Gatherer(), m, checks...)
	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

func (t *telemetry) Close() {
	if t == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown error", "error", err)
		}
	}
	if err := t.providers.Shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown error", "error", err)
	}
}
