// Package pipeline converts whole directories: it scans for images, runs one
// conversion per image on a bounded worker pool and records the results in
// a manifest.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/manifest"
)

// Converter runs one conversion. *convert.Orchestrator implements it.
type Converter interface {
	Convert(ctx context.Context, req convert.Request) (*convert.Report, error)
}

// Config holds all parameters for a batch run.
type Config struct {
	InputDir  string
	OutputDir string
	Profile   string
	Workers   int
	Verbose   bool

	Options convert.Options
	Scoped  map[string]convert.Options

	// SkipExisting leaves outputs newer than their source alone.
	SkipExisting bool

	// Progress receives a progress bar when set and Verbose is off.
	Progress io.Writer

	// OnRun is called after every conversion, from the worker goroutine.
	OnRun func(*convert.Report, error)

	// Settle is how long Watch waits for a file to stop changing.
	Settle time.Duration

	// Converters and Timeout are recorded in the manifest.
	Converters []string
	Timeout    time.Duration
}

// Pipeline orchestrates batch conversion.
type Pipeline struct {
	cfg  Config
	conv Converter
	log  zerolog.Logger
}

// New creates a configured pipeline.
func New(cfg Config, conv Converter, log zerolog.Logger) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	var err error
	if cfg.InputDir, err = filepath.Abs(cfg.InputDir); err != nil {
		return nil, fmt.Errorf("resolve input path: %w", err)
	}
	if cfg.OutputDir, err = filepath.Abs(cfg.OutputDir); err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}
	return &Pipeline{cfg: cfg, conv: conv, log: log}, nil
}

// Run converts every image under InputDir and returns the manifest.
// Individual failures are recorded in their entries; Run only fails when
// nothing could be scanned or every image failed.
func (p *Pipeline) Run(ctx context.Context) (*manifest.Manifest, error) {
	sources, err := ScanImages(p.cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no images found in %s", p.cfg.InputDir)
	}
	p.log.Info().Int("images", len(sources)).Int("workers", p.cfg.Workers).Msg("batch started")

	bar := p.newBar(len(sources))

	entries := make([]manifest.Entry, len(sources))
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.Workers)

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, s Source) {
			defer wg.Done()
			sem <- struct{}{}        // acquire
			defer func() { <-sem }() // release

			if ctx.Err() != nil {
				entries[idx] = manifest.Entry{Output: s.OutputRel(), InputSize: s.Size, Error: ctx.Err().Error()}
				return
			}

			entries[idx] = p.processImage(ctx, s)
			p.logEntry(s, entries[idx])
			if bar != nil {
				_ = bar.Add(1)
			}
		}(i, src)
	}
	wg.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	m := p.newManifest()
	var failed int
	for i, e := range entries {
		m.Entries[sources[i].RelPath] = e
		if e.Failed() {
			failed++
		}
	}
	m.ComputeStats()

	if err := ctx.Err(); err != nil {
		return m, fmt.Errorf("batch interrupted: %w", err)
	}
	if failed == len(sources) {
		return m, fmt.Errorf("all %d images failed to convert", failed)
	}
	if failed > 0 {
		p.log.Warn().Int("failed", failed).Int("total", len(sources)).Msg("some images failed to convert")
	}
	return m, nil
}

func (p *Pipeline) newManifest() *manifest.Manifest {
	m := manifest.New(p.cfg.Profile)
	m.InputDir = p.cfg.InputDir
	m.OutputDir = p.cfg.OutputDir
	m.BuildInfo = &manifest.BuildInfo{
		Workers:    p.cfg.Workers,
		Converters: p.cfg.Converters,
	}
	if p.cfg.Timeout > 0 {
		m.BuildInfo.Timeout = p.cfg.Timeout.String()
	}
	return m
}

func (p *Pipeline) newBar(total int) *progressbar.ProgressBar {
	if p.cfg.Progress == nil || p.cfg.Verbose {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.cfg.Progress),
		progressbar.OptionSetDescription("converting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowIts(),
		progressbar.OptionClearOnFinish(),
	)
}

func (p *Pipeline) logEntry(s Source, e manifest.Entry) {
	switch {
	case e.Skipped:
		p.log.Debug().Str("source", s.RelPath).Msg("up to date")
	case e.Failed():
		p.log.Error().Str("source", s.RelPath).Str("error", e.Error).Msg("conversion failed")
	default:
		p.log.Debug().Str("source", s.RelPath).Str("converter", e.Converter).
			Int64("size", e.OutputSize).Msg("converted")
	}
}
