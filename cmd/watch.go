package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/manifest"
	"github.com/AnyUserName/webpconv/internal/pipeline"
)

var (
	watchFlags   runFlags
	watchOut     string
	watchWorkers int
	watchSettle  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <input_dir>",
	Short: "Convert images as they appear in a directory",
	Long: `Converts the images under <input_dir>, then keeps watching it and converts
every image that is added or rewritten, once it has stopped changing.
Outputs newer than their source are left alone. Stops on Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchFlags.register(watchCmd)
	watchCmd.Flags().StringVarP(&watchOut, "out", "o", "", "output directory (default <input_dir>/webp)")
	watchCmd.Flags().IntVarP(&watchWorkers, "workers", "w", 0, "parallel conversions (0 = config, then NumCPU)")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 500*time.Millisecond, "how long a file must be unchanged before converting")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, watchFlags)
	if err != nil {
		return err
	}
	defer a.Close()

	outDir := watchOut
	if outDir == "" {
		outDir = filepath.Join(args[0], "webp")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	workers := watchWorkers
	if workers == 0 {
		workers = cfg.Workers
	}

	p, err := pipeline.New(pipeline.Config{
		InputDir:     args[0],
		OutputDir:    outDir,
		Profile:      a.profile.Name,
		Workers:      workers,
		Verbose:      verbose,
		Options:      a.shared,
		Scoped:       a.scoped,
		SkipExisting: true,
		Settle:       watchSettle,
		OnRun:        func(r *convert.Report, err error) { a.record(ctx, r, err) },
	}, a.orch, logger)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	return p.Watch(ctx, func(rel string, e manifest.Entry) {
		switch {
		case e.Skipped:
		case e.Failed():
			fmt.Fprintf(w, "✗ %s: %s\n", rel, e.Error)
		default:
			fmt.Fprintf(w, "✓ %s -> %s (%s, %s)\n", rel, e.Output, e.Converter, formatBytes(e.OutputSize))
		}
	})
}
