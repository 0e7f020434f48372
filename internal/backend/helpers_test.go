//go:build unix

package backend

import (
	"context"
	"encoding/binary"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/AnyUserName/webpconv/internal/convert"
)

func tinyWebP() []byte {
	b := []byte("RIFF")
	b = binary.LittleEndian.AppendUint32(b, 18)
	b = append(b, "WEBPVP8L"...)
	b = binary.LittleEndian.AppendUint32(b, 5)
	b = append(b, 0x2f, 0, 0, 0, 0, 0)
	return b
}

// fakeEnv points ARGS_FILE and FIXTURE at fresh temp files for fake
// converter scripts and returns the args file path.
func fakeEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.webp")
	require.NoError(t, os.WriteFile(fixture, tinyWebP(), 0o644))
	args := filepath.Join(dir, "args.txt")
	t.Setenv("FIXTURE", fixture)
	t.Setenv("ARGS_FILE", args)
	return args
}

// fakeBin writes an executable shell script and returns its path.
func fakeBin(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func source(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	img := imaging.New(4, 4, color.NRGBA{R: 10, G: 120, B: 200, A: 255})
	require.NoError(t, imaging.Save(img, path))
	return path
}

func resolve(t *testing.T, d convert.Descriptor, src string, opts ...convert.Options) convert.Resolved {
	t.Helper()
	res, err := convert.Resolver{}.Resolve(context.Background(), d.Options, src, opts...)
	require.NoError(t, err)
	return res
}

const recordArgs = `printf '%s\n' "$@" > "$ARGS_FILE"
`

const cwebpScript = `[ "$1" = "-version" ] && { echo 1.4.0; exit 0; }
` + recordArgs + `out=""
while [ $# -gt 0 ]; do
  [ "$1" = "-o" ] && out="$2"
  shift
done
cp "$FIXTURE" "$out"
`

const magickScript = `case "$1" in
  -version) echo "Version: ImageMagick 6.9"; exit 0;;
  -list) [ "$2" = delegate ] && printf '%s\n' "$DELEGATES"; [ "$2" = configure ] && printf '%s\n' "$CONFIGURE"; exit 0;;
esac
` + recordArgs + `for last; do :; done
cp "$FIXTURE" "${last#webp:}"
`
