// Package runner executes converter binaries without a shell and classifies
// how they ended.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

var (
	// ErrNotFound means the binary is not installed (lookup failure or exit
	// status 127).
	ErrNotFound = errors.New("command not found")
	// ErrTimeout means the context deadline killed the command.
	ErrTimeout = errors.New("command timed out")
)

const exitNotFound = 127

// maxOutput caps the captured combined output kept for diagnostics.
const maxOutput = 64 << 10

// Command is one external invocation. Args are passed as argv, never
// through a shell.
type Command struct {
	Name string
	Args []string
	// Nice lowers the process priority with nice(1) when available.
	Nice bool
}

func (c Command) argv() []string {
	argv := append([]string{c.Name}, c.Args...)
	if c.Nice && HasNice() {
		argv = append([]string{"nice"}, argv...)
	}
	return argv
}

// String renders the command as a copy-pasteable shell line.
func (c Command) String() string { return Quote(c.argv()...) }

// Result is what is known about a finished command.
type Result struct {
	Command  string
	ExitCode int
	Output   string
}

// Run executes cmd and waits for it. A non-zero exit is returned as an
// *exec.ExitError wrapped with the command line; Result is filled in either
// way.
func Run(ctx context.Context, cmd Command) (Result, error) {
	argv := cmd.argv()
	res := Result{Command: Quote(argv...), ExitCode: -1}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		res.ExitCode = exitNotFound
		return res, fmt.Errorf("%w: %s", ErrNotFound, argv[0])
	}

	c := exec.CommandContext(ctx, path, argv[1:]...)
	c.Args[0] = argv[0]
	setProcessGroup(c)
	c.WaitDelay = 2 * time.Second

	var out limitedBuffer
	c.Stdout = &out
	c.Stderr = &out

	err = c.Run()
	res.Output = strings.TrimSpace(out.String())
	err = classify(&res, argv[0], err, ctx.Err())
	return res, err
}

// classify maps how a command ended to the package errors and fills in the
// exit code. A clean exit wins over a deadline that passed meanwhile.
func classify(res *Result, name string, runErr, ctxErr error) error {
	if runErr == nil {
		res.ExitCode = 0
		return nil
	}
	if ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, res.Command)
		}
		return ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode == exitNotFound {
			return fmt.Errorf("%w: %s exited 127", ErrNotFound, name)
		}
		return fmt.Errorf("%s: %w", name, runErr)
	}
	if errors.Is(runErr, exec.ErrNotFound) {
		res.ExitCode = exitNotFound
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fmt.Errorf("%s: %w", name, runErr)
}

// Output runs a probe command and returns its combined output.
func Output(ctx context.Context, name string, args ...string) (string, error) {
	res, err := Run(ctx, Command{Name: name, Args: args})
	return res.Output, err
}

// HasNice reports whether commands can be prefixed with nice(1).
func HasNice() bool {
	if runtime.GOOS == "windows" {
		return false
	}
	_, err := exec.LookPath("nice")
	return err == nil
}

// SafePath makes sure a relative path cannot be parsed as a flag.
func SafePath(p string) string {
	if strings.HasPrefix(p, "-") {
		return "./" + p
	}
	return p
}

// Quote renders argv for display using POSIX single quoting.
func Quote(argv ...string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = quoteArg(a)
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, unsafeRune) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func unsafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("_-+=@%:,./", r)
}

// limitedBuffer keeps the first maxOutput bytes and drops the rest.
type limitedBuffer struct {
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxOutput - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
