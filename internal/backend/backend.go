// Package backend provides the converters the orchestrator can fall back
// between: command-line encoders found on the host and a cloud service.
package backend

import (
	"fmt"

	"github.com/AnyUserName/webpconv/internal/convert"
)

// Converter names, also used as config keys.
const (
	CWebP         = "cwebp"
	Vips          = "vips"
	ImagickBinary = "imagickbinary"
	GmagickBinary = "gmagickbinary"
	FFmpeg        = "ffmpeg"
	WPC           = "wpc"
)

// DefaultOrder is the priority order used when the config names none.
func DefaultOrder() []string {
	return []string{CWebP, Vips, ImagickBinary, GmagickBinary, FFmpeg, WPC}
}

// Settings are host-specific knobs for one converter.
type Settings struct {
	// Binary overrides the executable name or path.
	Binary string
	// URL and APIKey configure the cloud converter.
	URL    string
	APIKey string
	// AutoFallback overrides the converter's policy for undetectable
	// "auto" quality: default, omit or fail.
	AutoFallback string
}

// New builds the descriptor for the named converter.
func New(name string, s Settings) (convert.Descriptor, error) {
	var d convert.Descriptor
	switch name {
	case CWebP:
		d = newCWebP(s)
	case Vips:
		d = newVips(s)
	case ImagickBinary:
		d = newImagick(s)
	case GmagickBinary:
		d = newGmagick(s)
	case FFmpeg:
		d = newFFmpeg(s)
	case WPC:
		d = newWPC(s)
	default:
		return convert.Descriptor{}, fmt.Errorf("unknown converter %q", name)
	}
	if s.AutoFallback != "" {
		policy, err := convert.ParseAutoFallback(s.AutoFallback)
		if err != nil {
			return convert.Descriptor{}, fmt.Errorf("%s: %w", name, err)
		}
		d.Options.AutoFallback = policy
	}
	return d, nil
}

// Registry builds an ordered registry. An empty order means DefaultOrder.
func Registry(order []string, settings map[string]Settings) (*convert.Registry, error) {
	if len(order) == 0 {
		order = DefaultOrder()
	}
	descs := make([]convert.Descriptor, 0, len(order))
	for _, name := range order {
		d, err := New(name, settings[name])
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return convert.NewRegistry(descs...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
