package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AnyUserName/webpconv/internal/history"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent conversion runs and which converters won",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print runs as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if !cfg.History.Enabled {
		return errors.New("history is disabled (set history.enabled in the config)")
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	entries, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	fmt.Fprintln(w)
	for _, e := range entries {
		when := e.StartedAt.Local().Format(time.DateTime)
		if e.Status == "succeeded" {
			ok.Fprintf(w, "  ✓ ")
			fmt.Fprintf(w, "%s  %-14s %s -> %s\n", when, e.Converter, e.Source, e.Destination)
			continue
		}
		bad.Fprintf(w, "  ✗ ")
		fmt.Fprintf(w, "%s  %-14s %s: %s\n", when, e.Status, e.Source, e.Error)
	}

	stats, err := store.ConverterStats(ctx)
	if err != nil {
		return err
	}
	if len(stats) > 0 {
		fmt.Fprintln(w, "\n  Wins by converter:")
		for _, name := range sortedKeys(stats) {
			fmt.Fprintf(w, "    %-14s %d\n", name, stats[name])
		}
	}
	fmt.Fprintln(w)
	return nil
}
