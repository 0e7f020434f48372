package convert

import (
	"context"
	"fmt"
)

// Reason explains why a converter is not operational.
type Reason string

const (
	ReasonToolNotInstalled   Reason = "tool-not-installed"
	ReasonMissingDelegate    Reason = "missing-delegate"
	ReasonUnsupportedOS      Reason = "unsupported-os"
	ReasonExtensionNotLoaded Reason = "extension-not-loaded"
	ReasonMisconfigured      Reason = "misconfigured"
	ReasonUnreachable        Reason = "unreachable"
	ReasonProbeFailed        Reason = "probe-failed"
)

// Verdict is the outcome of probing one converter. A negative verdict is a
// normal result, not an error.
type Verdict struct {
	OK     bool   `json:"ok"`
	Reason Reason `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Operational returns a positive verdict.
func Operational() Verdict { return Verdict{OK: true} }

// Unavailable returns a negative verdict with a formatted detail message.
func Unavailable(reason Reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (v Verdict) String() string {
	if v.OK {
		return "operational"
	}
	if v.Detail == "" {
		return string(v.Reason)
	}
	return fmt.Sprintf("%s: %s", v.Reason, v.Detail)
}

// Check inspects the host for one capability. It must not modify anything.
type Check func(ctx context.Context) Verdict

// Requirement is a named capability a converter needs, e.g. "cwebp binary"
// or "webp delegate".
type Requirement struct {
	Name  string
	Check Check
}

// All composes checks in order and stops at the first negative verdict.
func All(checks ...Check) Check {
	return func(ctx context.Context) Verdict {
		for i, c := range checks {
			if v := safeCheck(ctx, fmt.Sprintf("check %d", i), c); !v.OK {
				return v
			}
		}
		return Operational()
	}
}

// safeCheck runs c and turns a panic into a negative verdict so that nothing
// escapes the probe boundary.
func safeCheck(ctx context.Context, name string, c Check) (v Verdict) {
	if c == nil {
		return Operational()
	}
	defer func() {
		if r := recover(); r != nil {
			v = Unavailable(ReasonProbeFailed, "%s panicked: %v", name, r)
		}
	}()
	return c(ctx)
}
