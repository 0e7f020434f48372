// Package quality estimates the encoder quality of existing images so that
// "auto" quality does not re-encode a heavily compressed JPEG at a higher
// setting than it was saved with.
package quality

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Annex K luminance table that IJG-compatible encoders scale by quality.
var stdLuminance = [64]int{
	16, 11, 10, 16, 24, 40, 51, 61,
	12, 12, 14, 19, 26, 58, 60, 55,
	14, 13, 16, 24, 40, 57, 69, 56,
	14, 17, 22, 29, 51, 87, 80, 62,
	18, 22, 37, 56, 68, 109, 103, 77,
	24, 35, 55, 64, 81, 104, 113, 92,
	49, 64, 78, 87, 103, 121, 120, 101,
	72, 92, 95, 98, 112, 100, 103, 99,
}

const (
	markerSOI = 0xD8
	markerEOI = 0xD9
	markerSOS = 0xDA
	markerDQT = 0xDB
)

var (
	ErrNotJPEG = errors.New("not a jpeg")
	ErrNoTable = errors.New("no luminance quantization table")
)

// Detector implements convert.QualityDetector for JPEG sources.
type Detector struct{}

// DetectQuality returns the estimated JPEG quality of path. Anything that is
// not a readable baseline JPEG yields false.
func (Detector) DetectQuality(_ context.Context, path string) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	q, err := EstimateJPEG(f)
	if err != nil {
		return 0, false
	}
	return q, true
}

// EstimateJPEG reads markers up to the first scan and inverts the IJG
// quality scaling of the luminance table.
func EstimateJPEG(r io.Reader) (int, error) {
	br := bufio.NewReader(r)
	var soi [2]byte
	if _, err := io.ReadFull(br, soi[:]); err != nil || soi[0] != 0xFF || soi[1] != markerSOI {
		return 0, ErrNotJPEG
	}

	for {
		marker, err := nextMarker(br)
		if err != nil {
			return 0, err
		}
		if marker == markerSOS || marker == markerEOI {
			return 0, ErrNoTable
		}
		// Standalone markers carry no length.
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			continue
		}
		var lenBuf [2]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return 0, fmt.Errorf("segment length: %w", err)
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:])) - 2
		if n < 0 {
			return 0, fmt.Errorf("segment %#x: bad length", marker)
		}
		if marker != markerDQT {
			if _, err := br.Discard(n); err != nil {
				return 0, fmt.Errorf("segment %#x: %w", marker, err)
			}
			continue
		}
		seg := make([]byte, n)
		if _, err := io.ReadFull(br, seg); err != nil {
			return 0, fmt.Errorf("dqt: %w", err)
		}
		if q, ok := fromDQT(seg); ok {
			return q, nil
		}
	}
}

func nextMarker(br *bufio.Reader) (byte, error) {
	b, err := br.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("marker: %w", err)
	}
	if b != 0xFF {
		return 0, fmt.Errorf("marker: expected 0xff, got %#x", b)
	}
	for b == 0xFF {
		if b, err = br.ReadByte(); err != nil {
			return 0, fmt.Errorf("marker: %w", err)
		}
	}
	return b, nil
}

// fromDQT walks the tables in one DQT segment and estimates quality from
// table 0.
func fromDQT(seg []byte) (int, bool) {
	for len(seg) > 0 {
		precision, id := seg[0]>>4, seg[0]&0x0F
		size := 64
		if precision == 1 {
			size = 128
		}
		if len(seg) < 1+size {
			return 0, false
		}
		table := seg[1 : 1+size]
		seg = seg[1+size:]
		if id != 0 {
			continue
		}
		sum := 0
		for i := 0; i < 64; i++ {
			if precision == 1 {
				sum += int(binary.BigEndian.Uint16(table[2*i:]))
			} else {
				sum += int(table[i])
			}
		}
		return qualityFromSum(sum), true
	}
	return 0, false
}

func qualityFromSum(sum int) int {
	std := 0
	for _, v := range stdLuminance {
		std += v
	}
	scale := float64(sum) * 100 / float64(std)
	var q float64
	if scale <= 100 {
		q = (200 - scale) / 2
	} else {
		q = 5000 / scale
	}
	return min(100, max(1, int(math.Round(q))))
}
