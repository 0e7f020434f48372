package manifest

import "github.com/AnyUserName/webpconv/internal/convert"

// Manifest is the record of one batch conversion.
type Manifest struct {
	Version     int              `json:"version"`
	GeneratedAt string           `json:"generated_at"`
	Profile     string           `json:"profile"`
	InputDir    string           `json:"input_dir"`
	OutputDir   string           `json:"output_dir"`
	BuildInfo   *BuildInfo       `json:"build_info,omitempty"`
	Entries     map[string]Entry `json:"entries"` // keyed by source path relative to InputDir
	Stats       Stats            `json:"stats"`
}

// BuildInfo captures run parameters for diagnostics.
type BuildInfo struct {
	Workers    int      `json:"workers"`
	Converters []string `json:"converters"` // fallback order
	Timeout    string   `json:"timeout"`
}

// Entry describes one source image and what became of it.
type Entry struct {
	Output     string                   `json:"output"` // relative to OutputDir
	Converter  string                   `json:"converter,omitempty"`
	InputSize  int64                    `json:"input_size"`
	OutputSize int64                    `json:"output_size,omitempty"`
	Hash       string                   `json:"hash,omitempty"` // first 16 hex chars of xxhash64
	RunID      string                   `json:"run_id,omitempty"`
	Attempts   []convert.AttemptSummary `json:"attempts,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Skipped    bool                     `json:"skipped,omitempty"` // output already present
}

// Failed reports whether no converter produced the output.
func (e Entry) Failed() bool { return e.Error != "" }

// Stats aggregates batch results.
type Stats struct {
	TotalInputBytes  int64          `json:"total_input_bytes"`
	TotalOutputBytes int64          `json:"total_output_bytes"`
	TotalEntries     int            `json:"total_entries"`
	Converted        int            `json:"converted"`
	Failed           int            `json:"failed"`
	Skipped          int            `json:"skipped,omitempty"`
	ByConverter      map[string]int `json:"by_converter,omitempty"`
}

// SupportedManifestVersion is the current schema version.
const SupportedManifestVersion = 1

// FileName is the manifest name inside an output directory.
const FileName = "webpconv.manifest.json"
