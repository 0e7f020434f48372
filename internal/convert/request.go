package convert

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Request asks for one source image to be written as WebP at Destination.
// Options apply to every converter; Scoped holds per-converter overrides
// keyed by converter name.
type Request struct {
	Source      string
	Destination string
	Options     Options
	Scoped      map[string]Options
}

// validate checks the request against the filesystem and returns absolute
// paths. Absolute paths never start with "-", so they cannot be mistaken for
// flags by the converters.
func (r Request) validate() (src, dst string, err error) {
	if r.Source == "" {
		return "", "", invalidRequest("source path is empty")
	}
	if r.Destination == "" {
		return "", "", invalidRequest("destination path is empty")
	}
	if src, err = filepath.Abs(r.Source); err != nil {
		return "", "", invalidRequest("source %q: %v", r.Source, err)
	}
	if dst, err = filepath.Abs(r.Destination); err != nil {
		return "", "", invalidRequest("destination %q: %v", r.Destination, err)
	}

	info, err := os.Stat(src)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", "", invalidRequest("source %s does not exist", src)
	case err != nil:
		return "", "", invalidRequest("source %s: %v", src, err)
	case !info.Mode().IsRegular():
		return "", "", invalidRequest("source %s is not a regular file", src)
	case info.Size() == 0:
		return "", "", invalidRequest("source %s is empty", src)
	}
	f, err := os.Open(src)
	if err != nil {
		return "", "", invalidRequest("source %s is not readable: %v", src, err)
	}
	f.Close()

	if dst == src {
		return "", "", invalidRequest("destination is the source file")
	}
	if di, err := os.Stat(dst); err == nil && di.IsDir() {
		return "", "", invalidRequest("destination %s is a directory", dst)
	}
	dir := filepath.Dir(dst)
	di, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", "", invalidRequest("destination directory %s does not exist", dir)
	case err != nil:
		return "", "", invalidRequest("destination directory %s: %v", dir, err)
	case !di.IsDir():
		return "", "", invalidRequest("destination parent %s is not a directory", dir)
	}
	if err := writable(dir); err != nil {
		return "", "", invalidRequest("destination directory %s is not writable: %v", dir, err)
	}
	return src, dst, nil
}
