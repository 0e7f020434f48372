package backend

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/runner"
)

// probeTimeout bounds each probe command.
const probeTimeout = 10 * time.Second

// run executes a conversion command and maps the outcome onto the
// conversion error taxonomy.
func run(ctx context.Context, cmd runner.Command) error {
	log := zerolog.Ctx(ctx)
	log.Debug().Str("command", cmd.String()).Msg("exec")

	res, err := runner.Run(ctx, cmd)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, runner.ErrNotFound):
		return &convert.Failure{
			Kind:     convert.KindNotOperational,
			Reason:   convert.ReasonToolNotInstalled,
			Msg:      fmt.Sprintf("%s is not installed", cmd.Name),
			Command:  res.Command,
			ExitCode: res.ExitCode,
			Output:   res.Output,
			Err:      err,
		}
	case errors.Is(err, runner.ErrTimeout):
		return &convert.Failure{Kind: convert.KindTimedOut, Command: res.Command, Output: res.Output, Err: err}
	case ctx.Err() != nil:
		return err
	}
	log.Debug().Int("exit_code", res.ExitCode).Str("output", res.Output).Msg("exec failed")
	return convert.CommandFailed(res.Command, res.ExitCode, res.Output, err)
}

// binaryWorks requires bin on PATH and a zero exit from bin args.
func binaryWorks(bin string, args ...string) convert.Requirement {
	return convert.Requirement{
		Name: bin + " binary",
		Check: func(ctx context.Context) convert.Verdict {
			if _, err := exec.LookPath(bin); err != nil {
				return convert.Unavailable(convert.ReasonToolNotInstalled, "%s not found in PATH", bin)
			}
			ctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			res, err := runner.Run(ctx, runner.Command{Name: bin, Args: args})
			if err != nil {
				return convert.Unavailable(convert.ReasonToolNotInstalled, "%s exited %d", res.Command, res.ExitCode)
			}
			return convert.Operational()
		},
	}
}

// listing is one command whose output advertises WebP support.
type listing struct {
	args    []string
	pattern *regexp.Regexp
}

// webpListed passes when any listing matches, checked in order.
func webpListed(bin string, listings ...listing) convert.Requirement {
	return convert.Requirement{
		Name: bin + " webp support",
		Check: func(ctx context.Context) convert.Verdict {
			ctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			for _, l := range listings {
				out, err := runner.Output(ctx, bin, l.args...)
				if err == nil && l.pattern.MatchString(out) {
					return convert.Operational()
				}
			}
			return convert.Unavailable(convert.ReasonMissingDelegate, "%s was built without webp support", bin)
		},
	}
}
