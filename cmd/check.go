package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AnyUserName/webpconv/internal/convert"
)

var (
	checkFlags runFlags
	checkJSON  bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every converter and show which ones work on this host",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringSliceVar(&checkFlags.converters, "converters", nil, "converters to probe (default from config, then built-in)")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print verdicts as JSON")
	rootCmd.AddCommand(checkCmd)
}

type checkResult struct {
	Name       string          `json:"name"`
	Verdict    convert.Verdict `json:"verdict"`
	DurationMS int64           `json:"duration_ms"`
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, checkFlags)
	if err != nil {
		return err
	}
	defer a.Close()

	// Fresh probes: a stale cached verdict is exactly what check exists to
	// catch.
	if a.verdicts != nil {
		if err := a.verdicts.Invalidate(ctx); err != nil {
			logger.Warn().Err(err).Msg("cannot clear cached verdicts")
		}
	}

	var results []checkResult
	operational := 0
	for _, d := range a.orch.Registry().Descriptors() {
		start := time.Now()
		v := d.Probe(ctx)
		results = append(results, checkResult{Name: d.Name, Verdict: v, DurationMS: time.Since(start).Milliseconds()})
		if v.OK {
			operational++
		}
		if a.verdicts != nil {
			a.verdicts.Put(ctx, d.Name, v)
		}
	}

	w := cmd.OutOrStdout()
	if checkJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		ok := color.New(color.FgGreen)
		bad := color.New(color.FgRed)
		dim := color.New(color.Faint)
		fmt.Fprintln(w)
		for i, r := range results {
			if r.Verdict.OK {
				ok.Fprintf(w, "  ✓ %d. %-14s", i+1, r.Name)
				fmt.Fprintln(w, " operational")
				continue
			}
			bad.Fprintf(w, "  ✗ %d. %-14s", i+1, r.Name)
			fmt.Fprintf(w, " %s", r.Verdict.Reason)
			dim.Fprintf(w, "  %s\n", r.Verdict.Detail)
		}
		fmt.Fprintf(w, "\n  %d of %d converters operational\n\n", operational, len(results))
	}

	if operational == 0 {
		return errors.New("no converter is operational on this host")
	}
	return nil
}
