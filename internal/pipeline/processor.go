package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/manifest"
)

// processImage converts a single source and describes the outcome.
func (p *Pipeline) processImage(ctx context.Context, src Source) manifest.Entry {
	rel := src.OutputRel()
	entry := manifest.Entry{Output: rel, InputSize: src.Size}
	dst := filepath.Join(p.cfg.OutputDir, filepath.FromSlash(rel))

	if p.cfg.SkipExisting && upToDate(src.AbsPath, dst) {
		entry.Skipped = true
		if info, err := os.Stat(dst); err == nil {
			entry.OutputSize = info.Size()
		}
		return entry
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		entry.Error = fmt.Sprintf("create output dir: %v", err)
		return entry
	}

	report, err := p.conv.Convert(ctx, convert.Request{
		Source:      src.AbsPath,
		Destination: dst,
		Options:     p.cfg.Options,
		Scoped:      p.cfg.Scoped,
	})
	if p.cfg.OnRun != nil {
		p.cfg.OnRun(report, err)
	}

	entry.RunID = report.RunID
	entry.Attempts = report.Summaries()
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	entry.Converter = report.Winner
	entry.OutputSize = report.Size
	entry.Hash = report.Hash
	return entry
}

// upToDate reports whether dst exists and is not older than src.
func upToDate(src, dst string) bool {
	di, err := os.Stat(dst)
	if err != nil || di.Size() == 0 {
		return false
	}
	si, err := os.Stat(src)
	if err != nil {
		return false
	}
	return !di.ModTime().Before(si.ModTime())
}
