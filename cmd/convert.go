package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/manifest"
	"github.com/AnyUserName/webpconv/internal/pipeline"
)

var (
	convertFlags        runFlags
	convertOut          string
	convertWorkers      int
	convertJSON         bool
	convertSkipExisting bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <image_or_dir>",
	Short: "Convert an image, or every image in a directory, to WebP",
	Long: `Converts one image to WebP, trying each configured converter in order
until one succeeds. The output defaults to <image>.webp next to the source.

Given a directory, converts every image below it into --out (default
<dir>/webp) keeping the directory layout, and writes a manifest there.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertFlags.register(convertCmd)
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "", "output file, or output directory for a batch")
	convertCmd.Flags().IntVarP(&convertWorkers, "workers", "w", 0, "parallel conversions for a batch (0 = config, then NumCPU)")
	convertCmd.Flags().BoolVar(&convertJSON, "json", false, "print the report as JSON")
	convertCmd.Flags().BoolVar(&convertSkipExisting, "skip-existing", false, "skip images whose output is newer than the source")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, convertFlags)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := os.Stat(args[0])
	if err == nil && info.IsDir() {
		return convertDir(ctx, cmd, a, args[0])
	}

	dst := convertOut
	if dst == "" {
		dst = args[0] + ".webp"
	}
	report, err := a.orch.Convert(ctx, convert.Request{
		Source:      args[0],
		Destination: dst,
		Options:     a.shared,
		Scoped:      a.scoped,
	})
	a.record(ctx, report, err)

	out := cmd.OutOrStdout()
	if convertJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(reportJSON(report, err)); jerr != nil {
			return jerr
		}
		return err
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), report.String())
		return err
	}
	if verbose {
		fmt.Fprintln(out, report.String())
	}
	fmt.Fprintf(out, "%s -> %s (%s, %s, %s)\n", report.Source, report.Destination,
		report.Winner, formatBytes(report.Size), report.Elapsed.Round(time.Millisecond))
	return nil
}

type reportDoc struct {
	RunID       string                   `json:"run_id"`
	Source      string                   `json:"source"`
	Destination string                   `json:"destination"`
	Status      string                   `json:"status"`
	Converter   string                   `json:"converter,omitempty"`
	Size        int64                    `json:"size,omitempty"`
	Hash        string                   `json:"hash,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Attempts    []convert.AttemptSummary `json:"attempts"`
	ElapsedMS   int64                    `json:"elapsed_ms"`
}

func reportJSON(r *convert.Report, err error) reportDoc {
	doc := reportDoc{
		RunID: r.RunID, Source: r.Source, Destination: r.Destination,
		Status: "succeeded", Converter: r.Winner, Size: r.Size, Hash: r.Hash,
		Attempts: r.Summaries(), ElapsedMS: r.Elapsed.Milliseconds(),
	}
	if err != nil {
		doc.Status = convert.KindOf(err).String()
		doc.Error = err.Error()
	}
	return doc
}

func convertDir(ctx context.Context, cmd *cobra.Command, a *app, inputDir string) error {
	start := time.Now()
	outDir := convertOut
	if outDir == "" {
		outDir = filepath.Join(inputDir, "webp")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	workers := convertWorkers
	if workers == 0 {
		workers = cfg.Workers
	}

	p, err := pipeline.New(pipeline.Config{
		InputDir:     inputDir,
		OutputDir:    outDir,
		Profile:      a.profile.Name,
		Workers:      workers,
		Verbose:      verbose,
		Options:      a.shared,
		Scoped:       a.scoped,
		SkipExisting: convertSkipExisting,
		Progress:     cmd.ErrOrStderr(),
		OnRun:        func(r *convert.Report, err error) { a.record(ctx, r, err) },
		Converters:   a.order,
		Timeout:      a.timeout,
	}, a.orch, logger)
	if err != nil {
		return err
	}

	m, runErr := p.Run(ctx)
	if m == nil {
		return fmt.Errorf("pipeline: %w", runErr)
	}
	manifestPath := filepath.Join(outDir, manifest.FileName)
	if err := manifest.WriteJSON(m, manifestPath); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if convertJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(m); err != nil {
			return err
		}
	} else {
		printBatchReport(cmd, m, manifestPath, time.Since(start))
	}
	if runErr != nil {
		return fmt.Errorf("pipeline: %w", runErr)
	}
	return nil
}

func printBatchReport(cmd *cobra.Command, m *manifest.Manifest, manifestPath string, elapsed time.Duration) {
	w := cmd.OutOrStdout()
	s := m.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Images:      %d\n", s.TotalEntries)
	fmt.Fprintf(w, "  Converted:   %d\n", s.Converted)
	if s.Skipped > 0 {
		fmt.Fprintf(w, "  Up to date:  %d\n", s.Skipped)
	}
	if s.Failed > 0 {
		fmt.Fprintf(w, "  Failed:      %d\n", s.Failed)
	}
	fmt.Fprintf(w, "  Input size:  %s\n", formatBytes(s.TotalInputBytes))
	fmt.Fprintf(w, "  Output size: %s\n", formatBytes(s.TotalOutputBytes))
	fmt.Fprintf(w, "  Time:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintln(w)

	if len(s.ByConverter) > 0 {
		fmt.Fprintln(w, "  Converters:")
		for _, name := range sortedKeys(s.ByConverter) {
			fmt.Fprintf(w, "    %-14s %4d images\n", name, s.ByConverter[name])
		}
		fmt.Fprintln(w)
	}

	var failed []string
	for key, e := range m.Entries {
		if e.Failed() {
			failed = append(failed, key)
		}
	}
	sort.Strings(failed)
	for _, key := range failed {
		fmt.Fprintf(w, "  ✗ %s: %s\n", truncKey(key, 40), m.Entries[key].Error)
	}
	if len(failed) > 0 {
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  Manifest:    %s\n\n", manifestPath)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func truncKey(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max+3:]
}
