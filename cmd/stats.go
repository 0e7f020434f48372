package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/webpconv/internal/manifest"
)

var statsCmd = &cobra.Command{
	Use:   "stats <out_dir_or_manifest>",
	Short: "Display statistics for a converted directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	m, _, err := manifest.Read(args[0])
	if err != nil {
		return err
	}
	printStats(cmd.OutOrStdout(), m)
	return nil
}

func printStats(w io.Writer, m *manifest.Manifest) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Manifest version: %d\n", m.Version)
	fmt.Fprintf(w, "  Generated:        %s\n", m.GeneratedAt)
	fmt.Fprintf(w, "  Profile:          %s\n", m.Profile)
	if m.BuildInfo != nil {
		fmt.Fprintf(w, "  Workers:          %d\n", m.BuildInfo.Workers)
		fmt.Fprintf(w, "  Converter order:  %v\n", m.BuildInfo.Converters)
	}
	fmt.Fprintln(w)

	s := m.Stats
	fmt.Fprintf(w, "  Images:           %d\n", s.TotalEntries)
	fmt.Fprintf(w, "  Converted:        %d\n", s.Converted)
	fmt.Fprintf(w, "  Failed:           %d\n", s.Failed)
	fmt.Fprintf(w, "  Input size:       %s\n", formatBytes(s.TotalInputBytes))
	fmt.Fprintf(w, "  Output size:      %s\n", formatBytes(s.TotalOutputBytes))
	if s.TotalInputBytes > 0 {
		ratio := float64(s.TotalOutputBytes) / float64(s.TotalInputBytes) * 100
		fmt.Fprintf(w, "  Compression:      %.1f%% of original\n", ratio)
	}
	fmt.Fprintln(w)

	// Per-converter breakdown: wins and the failures that led to fallback.
	type convStats struct {
		wins     int
		bytes    int64
		failures map[string]int
	}
	byConv := map[string]*convStats{}
	get := func(name string) *convStats {
		if byConv[name] == nil {
			byConv[name] = &convStats{failures: map[string]int{}}
		}
		return byConv[name]
	}
	for _, e := range m.Entries {
		if e.Converter != "" {
			cs := get(e.Converter)
			cs.wins++
			cs.bytes += e.OutputSize
		}
		for _, a := range e.Attempts {
			if a.Outcome == "succeeded" {
				continue
			}
			label := a.Outcome
			if a.Reason != "" {
				label = a.Reason
			}
			get(a.Converter).failures[label]++
		}
	}
	names := make([]string, 0, len(byConv))
	for name := range byConv {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "  Converter breakdown:")
	for _, name := range names {
		cs := byConv[name]
		fmt.Fprintf(w, "    %-14s %4d won  %s\n", name, cs.wins, formatBytes(cs.bytes))
		labels := make([]string, 0, len(cs.failures))
		for l := range cs.failures {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			fmt.Fprintf(w, "    %-14s %4d × %s\n", "", cs.failures[l], l)
		}
	}
	fmt.Fprintln(w)

	var warnings []string
	for key, e := range m.Entries {
		if e.Failed() {
			warnings = append(warnings, fmt.Sprintf("%q: %s", key, e.Error))
		}
	}
	sort.Strings(warnings)
	if len(warnings) > 0 {
		fmt.Fprintf(w, "  Failures (%d):\n", len(warnings))
		for _, msg := range warnings {
			fmt.Fprintf(w, "    ⚠ %s\n", msg)
		}
		fmt.Fprintln(w)
	}
}
