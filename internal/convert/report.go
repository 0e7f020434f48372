package convert

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage is how far an attempt got before it ended.
type Stage string

const (
	StageProbe   Stage = "probe"
	StageResolve Stage = "resolve"
	StageExecute Stage = "execute"
)

// Attempt is one row of a Report.
type Attempt struct {
	Converter string
	Stage     Stage
	Kind      Kind
	Reason    Reason
	Err       error
	Duration  time.Duration
}

// Succeeded reports whether this attempt produced the artifact.
func (a Attempt) Succeeded() bool { return a.Kind == KindNone }

// Skipped reports whether the converter was never executed because its
// probe came back negative.
func (a Attempt) Skipped() bool { return a.Stage == StageProbe && a.Kind == KindNotOperational }

// Report describes one conversion run: every converter that was considered,
// in order, and the winner if there was one.
type Report struct {
	RunID       string
	Source      string
	Destination string
	Attempts    []Attempt
	Winner      string
	Size        int64
	Hash        string
	Started     time.Time
	Elapsed     time.Duration
}

func (r *Report) Succeeded() bool { return r.Winner != "" }

// Failures returns the attempts that did not succeed.
func (r *Report) Failures() []Attempt {
	var out []Attempt
	for _, a := range r.Attempts {
		if !a.Succeeded() {
			out = append(out, a)
		}
	}
	return out
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s -> %s\n", r.RunID, r.Source, r.Destination)
	for i, a := range r.Attempts {
		status := "ok"
		switch {
		case a.Skipped():
			status = "skipped: " + a.Err.Error()
		case !a.Succeeded():
			status = a.Err.Error()
		}
		fmt.Fprintf(&b, "  %d. %-14s %s (%s)\n", i+1, a.Converter, status, a.Duration.Round(time.Millisecond))
	}
	if r.Succeeded() {
		fmt.Fprintf(&b, "  converted by %s, %d bytes", r.Winner, r.Size)
	} else {
		b.WriteString("  no converter succeeded")
	}
	return b.String()
}

// AttemptSummary is the serializable form of an Attempt used by manifests,
// history rows and HTTP responses.
type AttemptSummary struct {
	Converter  string `json:"converter"`
	Stage      string `json:"stage"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	Command    string `json:"command,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	Output     string `json:"output,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func (a Attempt) Summary() AttemptSummary {
	s := AttemptSummary{
		Converter:  a.Converter,
		Stage:      string(a.Stage),
		Outcome:    "succeeded",
		Reason:     string(a.Reason),
		DurationMS: a.Duration.Milliseconds(),
	}
	if a.Succeeded() {
		return s
	}
	s.Outcome = a.Kind.String()
	if a.Err != nil {
		s.Error = a.Err.Error()
		var f *Failure
		if errors.As(a.Err, &f) {
			s.Command, s.ExitCode, s.Output = f.Command, f.ExitCode, f.Output
		}
	}
	return s
}

// Summaries returns the serializable attempts in order.
func (r *Report) Summaries() []AttemptSummary {
	out := make([]AttemptSummary, len(r.Attempts))
	for i, a := range r.Attempts {
		out[i] = a.Summary()
	}
	return out
}
