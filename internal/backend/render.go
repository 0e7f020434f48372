package backend

import (
	"fmt"
	"image/png"
	"os"
	"sync/atomic"

	"github.com/disintegration/imaging"
)

// Atomic counter for unique temp file names across goroutines.
var tempCounter atomic.Int64

// renderPNG decodes src in-process and writes it to a temp PNG for encoders
// that cannot read the original format. The caller removes the file.
func renderPNG(src string, autoOrient bool) (string, error) {
	img, err := imaging.Open(src, imaging.AutoOrientation(autoOrient))
	if err != nil {
		return "", fmt.Errorf("decode source: %w", err)
	}

	id := tempCounter.Add(1)
	f, err := os.CreateTemp("", fmt.Sprintf("webpconv_src_%d_*.png", id))
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	path := f.Name()
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode temp png: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp png: %w", err)
	}
	return path, nil
}

func removeQuietly(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
