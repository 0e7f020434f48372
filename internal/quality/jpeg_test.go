package quality

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, q int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}))
	return buf.Bytes()
}

func TestEstimateJPEG(t *testing.T) {
	for _, q := range []int{30, 50, 75, 85, 90, 100} {
		got, err := EstimateJPEG(bytes.NewReader(encodeJPEG(t, q)))
		require.NoError(t, err, "q=%d", q)
		assert.InDelta(t, q, got, 1, "q=%d", q)
	}
}

func TestEstimateRejectsOtherFormats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(2, 2, color.White), imaging.PNG))
	_, err := EstimateJPEG(&buf)
	assert.ErrorIs(t, err, ErrNotJPEG)

	_, err = EstimateJPEG(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrNotJPEG)
}

func TestEstimateTruncated(t *testing.T) {
	data := encodeJPEG(t, 80)
	_, err := EstimateJPEG(bytes.NewReader(data[:30]))
	assert.Error(t, err)

	// SOI followed directly by a scan has no table.
	_, err = EstimateJPEG(bytes.NewReader([]byte{0xFF, 0xD8, 0xFF, 0xDA, 0x00, 0x02}))
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestDetectorOnFiles(t *testing.T) {
	dir := t.TempDir()
	jpg := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(jpg, encodeJPEG(t, 65), 0o644))
	png := filepath.Join(dir, "shot.png")
	require.NoError(t, imaging.Save(imaging.New(2, 2, color.Black), png))

	q, ok := Detector{}.DetectQuality(context.Background(), jpg)
	assert.True(t, ok)
	assert.InDelta(t, 65, q, 1)

	_, ok = Detector{}.DetectQuality(context.Background(), png)
	assert.False(t, ok)

	_, ok = Detector{}.DetectQuality(context.Background(), filepath.Join(dir, "missing.jpg"))
	assert.False(t, ok)
}
