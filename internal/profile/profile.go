// Package profile holds named option presets. A profile sits below
// everything the user sets explicitly.
package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AnyUserName/webpconv/internal/backend"
	"github.com/AnyUserName/webpconv/internal/convert"
)

// Profile is a set of shared and per-converter option defaults.
type Profile struct {
	Name        string
	Description string
	Options     convert.Options            // applied to every converter
	Scoped      map[string]convert.Options // per converter
}

// Built-in profiles.
var profiles = map[string]Profile{
	"default": {
		Name:        "default",
		Description: "quality detected from the source, 75 when unknown, capped at 85",
	},
	"photo": {
		Name:        "photo",
		Description: "higher quality ceiling for photographs",
		Options: convert.Options{
			convert.OptDefaultQuality: 80,
			convert.OptMaxQuality:     90,
		},
		Scoped: map[string]convert.Options{
			backend.CWebP:  {"metadata": "icc"},
			backend.FFmpeg: {"preset": "photo"},
		},
	},
	"graphic": {
		Name:        "graphic",
		Description: "lossless output for logos, screenshots and line art",
		Options: convert.Options{
			convert.OptQuality: 90,
		},
		Scoped: map[string]convert.Options{
			backend.CWebP:         {"lossless": true},
			backend.Vips:          {"lossless": true},
			backend.ImagickBinary: {"lossless": true},
			backend.GmagickBinary: {"lossless": true},
			backend.FFmpeg:        {"lossless": true, "preset": "drawing"},
			backend.WPC:           {"lossless": true},
		},
	},
	"fast": {
		Name:        "fast",
		Description: "lowest encoder effort, run at reduced priority",
		Options: convert.Options{
			convert.OptUseNice: true,
		},
		Scoped: map[string]convert.Options{
			backend.CWebP:         {"method": 2},
			backend.Vips:          {"effort": 1},
			backend.ImagickBinary: {"method": 2},
			backend.GmagickBinary: {"method": 2},
			backend.FFmpeg:        {"compression-level": 2},
		},
	},
}

// Get returns a profile by name.
func Get(name string) (Profile, error) {
	if name == "" {
		name = "default"
	}
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the built-in profiles in sorted order.
func Names() []string {
	out := make([]string, 0, len(profiles))
	for name := range profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Apply layers explicit options over the profile. Neither argument is
// modified.
func (p Profile) Apply(shared convert.Options, scoped map[string]convert.Options) (convert.Options, map[string]convert.Options) {
	outShared := p.Options.Clone()
	if outShared == nil {
		outShared = convert.Options{}
	}
	for k, v := range shared {
		outShared[k] = v
	}

	outScoped := make(map[string]convert.Options, len(p.Scoped)+len(scoped))
	for name, opts := range p.Scoped {
		outScoped[name] = opts.Clone()
	}
	for name, opts := range scoped {
		merged := outScoped[name]
		if merged == nil {
			merged = convert.Options{}
		}
		for k, v := range opts {
			merged[k] = v
		}
		outScoped[name] = merged
	}
	return outShared, outScoped
}
