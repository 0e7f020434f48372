package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a conversion failure.
type Kind uint8

const (
	KindNone Kind = iota
	KindNotOperational
	KindOptionResolution
	KindExecution
	KindTimedOut
	KindExhausted
	KindInvalidRequest
)

var kindNames = [...]string{
	KindNone:             "none",
	KindNotOperational:   "not-operational",
	KindOptionResolution: "option-resolution-failed",
	KindExecution:        "execution-failed",
	KindTimedOut:         "timed-out",
	KindExhausted:        "all-converters-exhausted",
	KindInvalidRequest:   "invalid-request",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Recoverable reports whether the orchestrator moves on to the next
// converter after a failure of this kind.
func (k Kind) Recoverable() bool {
	switch k {
	case KindNotOperational, KindOptionResolution, KindExecution, KindTimedOut:
		return true
	}
	return false
}

// Sentinels for errors.Is matching against *Failure and *ExhaustedError.
var (
	ErrNotOperational   = errors.New("converter not operational")
	ErrOptionResolution = errors.New("option resolution failed")
	ErrExecution        = errors.New("conversion failed")
	ErrTimedOut         = errors.New("conversion timed out")
	ErrAllExhausted     = errors.New("all converters failed")
	ErrInvalidRequest   = errors.New("invalid request")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotOperational:
		return ErrNotOperational
	case KindOptionResolution:
		return ErrOptionResolution
	case KindExecution:
		return ErrExecution
	case KindTimedOut:
		return ErrTimedOut
	case KindExhausted:
		return ErrAllExhausted
	case KindInvalidRequest:
		return ErrInvalidRequest
	}
	return nil
}

// Failure is the typed error every probe, resolver and executor failure is
// normalized into. Command, ExitCode and Output are set when a subprocess
// (or remote call) was involved.
type Failure struct {
	Kind      Kind
	Converter string
	Reason    Reason
	Msg       string
	Command   string
	ExitCode  int
	Output    string
	Err       error
}

func (f *Failure) Error() string {
	var b strings.Builder
	if f.Converter != "" {
		b.WriteString(f.Converter)
		b.WriteString(": ")
	}
	b.WriteString(f.Kind.String())
	if f.Reason != "" {
		fmt.Fprintf(&b, " (%s)", f.Reason)
	}
	switch {
	case f.Msg != "":
		b.WriteString(": ")
		b.WriteString(f.Msg)
	case f.Err != nil:
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	if f.Command != "" && f.ExitCode != 0 {
		fmt.Fprintf(&b, " [exit %d]", f.ExitCode)
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Is(target error) bool {
	s := f.Kind.sentinel()
	return s != nil && target == s
}

// NotOperational reports that a converter cannot run on this host. Executors
// return it when the tool disappears between probe and execution.
func NotOperational(reason Reason, format string, args ...any) *Failure {
	return &Failure{Kind: KindNotOperational, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// ExecutionFailed reports a converter that ran but did not produce a result.
func ExecutionFailed(format string, args ...any) *Failure {
	return &Failure{Kind: KindExecution, Msg: fmt.Sprintf(format, args...)}
}

// CommandFailed reports a non-zero exit of an external command.
func CommandFailed(command string, exitCode int, output string, err error) *Failure {
	return &Failure{
		Kind:     KindExecution,
		Msg:      "the exec call failed",
		Command:  command,
		ExitCode: exitCode,
		Output:   output,
		Err:      err,
	}
}

func invalidRequest(format string, args ...any) *Failure {
	return &Failure{Kind: KindInvalidRequest, Msg: fmt.Sprintf(format, args...)}
}

func resolutionFailed(format string, args ...any) *Failure {
	return &Failure{Kind: KindOptionResolution, Msg: fmt.Sprintf(format, args...)}
}

// asFailure normalizes any error returned below the orchestrator into a
// *Failure attributed to converter.
func asFailure(err error, converter string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		out := *f
		if out.Converter == "" {
			out.Converter = converter
		}
		return &out
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: KindTimedOut, Converter: converter, Err: err}
	}
	return &Failure{Kind: KindExecution, Converter: converter, Err: err}
}

// KindOf returns the failure kind carried by err, KindNone for nil and
// KindExecution for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return KindExhausted
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindExecution
}

// ExhaustedError is returned when every converter declined or failed. The
// report explains each one.
type ExhaustedError struct {
	Report *Report
}

func (e *ExhaustedError) Error() string {
	if e.Report == nil || len(e.Report.Attempts) == 0 {
		return "no converters configured"
	}
	parts := make([]string, 0, len(e.Report.Attempts))
	for _, a := range e.Report.Attempts {
		if a.Err != nil {
			parts = append(parts, a.Err.Error())
		}
	}
	return fmt.Sprintf("all %d converters failed: %s", len(e.Report.Attempts), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrAllExhausted }
