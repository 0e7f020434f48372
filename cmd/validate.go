package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/image/webp"

	"github.com/AnyUserName/webpconv/internal/hasher"
	"github.com/AnyUserName/webpconv/internal/manifest"
)

var validateCmd = &cobra.Command{
	Use:   "validate <out_dir_or_manifest>",
	Short: "Validate a manifest and check every output is a WebP file matching its hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	m, path, err := manifest.Read(args[0])
	if err != nil {
		return err
	}

	baseDir := m.OutputDir
	if baseDir == "" {
		baseDir = filepath.Dir(path)
	}
	errs := validateManifest(m, baseDir)

	w := cmd.OutOrStdout()
	if len(errs) == 0 {
		fmt.Fprintln(w, "  ✓ Manifest is valid")
		fmt.Fprintf(w, "  ✓ %d converted, %d failed, all outputs present\n", m.Stats.Converted, m.Stats.Failed)
		return nil
	}

	fmt.Fprintf(w, "  ✗ Manifest has %d error(s):\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(w, "    • %s\n", e)
	}
	return fmt.Errorf("validation failed with %d errors", len(errs))
}

func validateManifest(m *manifest.Manifest, baseDir string) []string {
	var errs []string

	if m.Version != manifest.SupportedManifestVersion {
		errs = append(errs, fmt.Sprintf("unsupported manifest version: %d", m.Version))
	}

	keys := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seenOutputs := map[string]bool{}
	converted, failed := 0, 0
	for _, key := range keys {
		e := m.Entries[key]
		if e.Output == "" {
			errs = append(errs, fmt.Sprintf("entry %q: missing output path", key))
			continue
		}
		if seenOutputs[e.Output] {
			errs = append(errs, fmt.Sprintf("entry %q: duplicate output %q", key, e.Output))
		}
		seenOutputs[e.Output] = true

		if e.Failed() {
			failed++
			continue
		}
		if !e.Skipped {
			converted++
			if e.Converter == "" {
				errs = append(errs, fmt.Sprintf("entry %q: no converter recorded", key))
			}
		}
		errs = append(errs, checkOutput(key, e, filepath.Join(baseDir, filepath.FromSlash(e.Output)))...)
	}

	if m.Stats.Converted != converted {
		errs = append(errs, fmt.Sprintf("stats.converted mismatch: %d != %d", m.Stats.Converted, converted))
	}
	if m.Stats.Failed != failed {
		errs = append(errs, fmt.Sprintf("stats.failed mismatch: %d != %d", m.Stats.Failed, failed))
	}
	return errs
}

// checkOutput verifies the file is a decodable WebP and matches the
// recorded size and hash.
func checkOutput(key string, e manifest.Entry, path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return []string{fmt.Sprintf("entry %q: file not found: %s", key, e.Output)}
	}
	_, err = webp.DecodeConfig(f)
	f.Close()
	if err != nil {
		return []string{fmt.Sprintf("entry %q: %s is not a WebP file: %v", key, e.Output, err)}
	}

	if e.Hash == "" {
		return nil
	}
	hash, size, err := hasher.FileHash(path, len(e.Hash))
	if err != nil {
		return []string{fmt.Sprintf("entry %q: hash %s: %v", key, e.Output, err)}
	}
	var errs []string
	if e.OutputSize > 0 && size != e.OutputSize {
		errs = append(errs, fmt.Sprintf("entry %q: size mismatch: manifest=%d, disk=%d", key, e.OutputSize, size))
	}
	if hash != e.Hash {
		errs = append(errs, fmt.Sprintf("entry %q: hash mismatch: manifest=%s, disk=%s", key, e.Hash, hash))
	}
	return errs
}
