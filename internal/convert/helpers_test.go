package convert

import (
	"context"
	"encoding/binary"
	"image/color"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// tinyWebP is a valid 1x1 lossless WebP file.
func tinyWebP() []byte {
	b := []byte("RIFF")
	b = binary.LittleEndian.AppendUint32(b, 18)
	b = append(b, "WEBPVP8L"...)
	b = binary.LittleEndian.AppendUint32(b, 5)
	b = append(b, 0x2f, 0, 0, 0, 0, 0)
	return b
}

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	img := imaging.New(8, 8, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
	require.NoError(t, imaging.Save(img, path))
	return path
}

// fakeConverter counts probes and executions and behaves as configured.
type fakeConverter struct {
	name    string
	verdict Verdict
	execute func(ctx context.Context, src, dst string, opts Resolved) error
	spec    OptionSpec

	probes atomic.Int32
	execs  atomic.Int32
	last   atomic.Pointer[Resolved]
}

func (f *fakeConverter) descriptor() Descriptor {
	return Descriptor{
		Name: f.name,
		Requirements: []Requirement{{
			Name: f.name + " present",
			Check: func(context.Context) Verdict {
				f.probes.Add(1)
				return f.verdict
			},
		}},
		Executor: ExecutorFunc(func(ctx context.Context, src, dst string, opts Resolved) error {
			f.execs.Add(1)
			f.last.Store(&opts)
			if f.execute == nil {
				return writeWebP(dst)
			}
			return f.execute(ctx, src, dst, opts)
		}),
		Options: f.spec,
	}
}

func writeWebP(dst string) error { return os.WriteFile(dst, tinyWebP(), 0o644) }

func working(name string) *fakeConverter {
	return &fakeConverter{name: name, verdict: Operational()}
}

func missing(name string) *fakeConverter {
	return &fakeConverter{name: name, verdict: Unavailable(ReasonToolNotInstalled, "%s not found in PATH", name)}
}

func registryOf(t *testing.T, fakes ...*fakeConverter) *Registry {
	t.Helper()
	descs := make([]Descriptor, len(fakes))
	for i, f := range fakes {
		descs[i] = f.descriptor()
	}
	reg, err := NewRegistry(descs...)
	require.NoError(t, err)
	return reg
}

// leftovers lists hidden staging files in dir.
func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.partial"))
	require.NoError(t, err)
	return matches
}

type countingDetector struct {
	q     int
	ok    bool
	calls atomic.Int32
}

func (d *countingDetector) DetectQuality(context.Context, string) (int, bool) {
	d.calls.Add(1)
	return d.q, d.ok
}
