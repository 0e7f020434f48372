package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/image/webp"

	"github.com/AnyUserName/webpconv/internal/hasher"
)

// DefaultTimeout bounds a single converter execution.
const DefaultTimeout = 2 * time.Minute

// VerdictCache remembers probe verdicts for a limited time.
type VerdictCache interface {
	Get(ctx context.Context, converter string) (Verdict, bool)
	Put(ctx context.Context, converter string, v Verdict)
}

// Observer is notified of every attempt and every finished run.
type Observer interface {
	ObserveAttempt(a Attempt)
	ObserveRun(r *Report)
}

// Orchestrator tries converters in registry order until one produces a
// valid WebP file. It holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	registry *Registry
	detector QualityDetector
	timeout  time.Duration
	log      zerolog.Logger
	cache    VerdictCache
	observer Observer
	newID    func() string
	hashFile func(path string, hexLen int) (string, int64, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout sets the per-attempt execution timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithDetector(d QualityDetector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

func WithVerdictCache(c VerdictCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New returns an orchestrator over reg.
func New(reg *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		timeout:  DefaultTimeout,
		log:      zerolog.Nop(),
		newID:    uuid.NewString,
		hashFile: hasher.FileHash,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Registry() *Registry { return o.registry }

// Convert runs one conversion. On success the destination holds a verified
// WebP file. On failure the destination is absent, or untouched if it
// existed before, and the error is a *Failure (invalid request), an
// *ExhaustedError, or the context error when ctx was cancelled.
// The report is never nil.
func (o *Orchestrator) Convert(ctx context.Context, req Request) (*Report, error) {
	report := &Report{
		RunID:       o.newID(),
		Source:      req.Source,
		Destination: req.Destination,
		Started:     time.Now(),
	}
	log := o.log.With().Str("run_id", report.RunID).Logger()
	defer func() {
		report.Elapsed = time.Since(report.Started)
		if o.observer != nil {
			o.observer.ObserveRun(report)
		}
	}()

	src, dst, err := req.validate()
	if err != nil {
		log.Warn().Err(err).Msg("request rejected")
		return report, err
	}
	report.Source, report.Destination = src, dst
	log.Debug().Str("src", src).Str("dst", dst).Strs("converters", o.registry.Names()).Msg("conversion started")

	resolver := Resolver{Detector: &runDetector{inner: o.detector}}
	for _, d := range o.registry.descs {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("conversion of %s cancelled: %w", src, err)
		}

		alog := log.With().Str("converter", d.Name).Logger()
		a, err := o.attempt(alog.WithContext(ctx), d, req, src, dst, report.RunID, resolver)
		if err != nil {
			return report, fmt.Errorf("conversion of %s cancelled: %w", src, err)
		}
		report.Attempts = append(report.Attempts, a)
		if o.observer != nil {
			o.observer.ObserveAttempt(a)
		}

		if a.Succeeded() {
			report.Winner = d.Name
			if report.Hash, report.Size, err = o.hashFile(dst, hasher.Len); err != nil {
				alog.Warn().Err(err).Msg("cannot hash artifact")
			}
			alog.Info().Dur("duration", a.Duration).Int64("size", report.Size).Msg("converted")
			return report, nil
		}

		ev := alog.Warn()
		if a.Skipped() {
			ev = alog.Debug()
		}
		ev.Str("stage", string(a.Stage)).Str("kind", a.Kind.String()).Str("reason", string(a.Reason)).
			Dur("duration", a.Duration).Err(a.Err).Msg("converter failed, trying next")

		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("conversion of %s cancelled: %w", src, err)
		}
	}

	err = &ExhaustedError{Report: report}
	log.Error().Int("attempts", len(report.Attempts)).Msg("all converters failed")
	return report, err
}

// attempt runs one converter. A non-nil error means ctx ended before the
// converter could be judged, and no attempt is recorded.
func (o *Orchestrator) attempt(ctx context.Context, d Descriptor, req Request, src, dst, runID string, resolver Resolver) (Attempt, error) {
	started := time.Now()
	a := Attempt{Converter: d.Name, Stage: StageProbe}
	finish := func(err error) (Attempt, error) {
		a.Duration = time.Since(started)
		if err != nil {
			f := asFailure(err, d.Name)
			a.Kind, a.Reason, a.Err = f.Kind, f.Reason, f
		}
		return a, nil
	}

	v := o.probe(ctx, d)
	if err := ctx.Err(); err != nil {
		return a, err
	}
	if !v.OK {
		return finish(&Failure{Kind: KindNotOperational, Reason: v.Reason, Msg: v.Detail})
	}

	a.Stage = StageResolve
	opts, err := resolver.Resolve(ctx, d.Options, src, req.Options, req.Scoped[d.Name])
	if err != nil {
		return finish(err)
	}
	zerolog.Ctx(ctx).Debug().Interface("options", opts.Values()).Msg("options resolved")

	a.Stage = StageExecute
	staged := stagingPath(dst, runID, d.Name)
	err = o.execute(ctx, d, src, staged, opts)
	if err == nil {
		err = verifyArtifact(staged)
	}
	if err == nil {
		if rerr := os.Rename(staged, dst); rerr != nil {
			err = &Failure{Kind: KindExecution, Msg: "could not move artifact into place", Err: rerr}
		}
	}
	if err != nil {
		os.Remove(staged)
		return finish(err)
	}
	return finish(nil)
}

func (o *Orchestrator) probe(ctx context.Context, d Descriptor) Verdict {
	if o.cache != nil {
		if v, ok := o.cache.Get(ctx, d.Name); ok {
			return v
		}
	}
	v := d.Probe(ctx)
	// A probe cut short by the caller says nothing about the host.
	if o.cache != nil && ctx.Err() == nil {
		o.cache.Put(ctx, d.Name, v)
	}
	return v
}

// execute runs the executor under the attempt timeout. An executor that
// ignores its context is abandoned at the deadline; whatever it writes later
// is removed once it returns.
func (o *Orchestrator) execute(ctx context.Context, d Descriptor, src, staged string, opts Resolved) error {
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ExecutionFailed("converter panicked: %v", r)
			}
		}()
		done <- d.Executor.Execute(runCtx, src, staged, opts)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return &Failure{Kind: KindTimedOut, Msg: fmt.Sprintf("no result after %s", o.timeout), Err: err}
		}
		return err
	case <-runCtx.Done():
		go func() {
			<-done
			os.Remove(staged)
		}()
		if err := ctx.Err(); err != nil {
			return err
		}
		return &Failure{Kind: KindTimedOut, Msg: fmt.Sprintf("no result after %s", o.timeout), Err: runCtx.Err()}
	}
}

// stagingPath is a hidden sibling of dst, so the final rename stays on one
// filesystem. It is unique per run and converter.
func stagingPath(dst, runID, converter string) string {
	return filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+"."+runID+"."+converter+".partial")
}

func verifyArtifact(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &Failure{Kind: KindExecution, Msg: "converter reported success but produced no file", Err: err}
	}
	defer f.Close()
	cfg, err := webp.DecodeConfig(f)
	if err != nil {
		return &Failure{Kind: KindExecution, Msg: "converter produced no usable artifact", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ExecutionFailed("converter produced an empty %dx%d image", cfg.Width, cfg.Height)
	}
	return nil
}
