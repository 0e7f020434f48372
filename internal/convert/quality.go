package convert

import (
	"fmt"
	"strconv"
	"strings"
)

// Quality is a requested WebP quality: either a fixed 0-100 value or "auto",
// in which case the resolver asks the quality detector.
type Quality struct {
	auto  bool
	value int
}

// Auto returns the automatic quality request.
func Auto() Quality { return Quality{auto: true} }

// Fixed returns an explicit quality request. The value is clamped to the
// converter's range during resolution, not here.
func Fixed(q int) Quality { return Quality{value: q} }

func (q Quality) IsAuto() bool { return q.auto }
func (q Quality) Value() int   { return q.value }

func (q Quality) String() string {
	if q.auto {
		return "auto"
	}
	return strconv.Itoa(q.value)
}

// ParseQuality accepts "auto" or an integer in 0..100.
func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "auto" {
		return Auto(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Quality{}, fmt.Errorf("quality %q: want \"auto\" or 0-100", s)
	}
	if n < 0 || n > 100 {
		return Quality{}, fmt.Errorf("quality %d out of range 0-100", n)
	}
	return Fixed(n), nil
}
