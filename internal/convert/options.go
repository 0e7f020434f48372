package convert

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// OptionType is the value type of a converter option.
type OptionType uint8

const (
	TypeInt OptionType = iota
	TypeBool
	TypeString
	TypeQuality
)

func (t OptionType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeQuality:
		return "quality"
	}
	return "unknown"
}

// Names of the options every converter understands.
const (
	OptQuality        = "quality"
	OptDefaultQuality = "default-quality"
	OptMaxQuality     = "max-quality"
	OptUseNice        = "use-nice"
)

// OptionDef declares one option a converter accepts. Min and Max bound int
// options when Max > Min. Choices restricts string options when non-empty.
type OptionDef struct {
	Name    string
	Type    OptionType
	Default any
	Min     int
	Max     int
	Choices []string
}

// CommonOptions returns the definitions shared by every converter.
func CommonOptions() []OptionDef {
	return []OptionDef{
		{Name: OptQuality, Type: TypeQuality, Default: Auto()},
		{Name: OptDefaultQuality, Type: TypeInt, Default: 75, Min: 0, Max: 100},
		{Name: OptMaxQuality, Type: TypeInt, Default: 85, Min: 0, Max: 100},
		{Name: OptUseNice, Type: TypeBool, Default: false},
	}
}

// AutoFallback decides what happens when quality is "auto" and the detector
// cannot determine a value.
type AutoFallback uint8

const (
	// AutoUseDefault substitutes the default-quality option.
	AutoUseDefault AutoFallback = iota
	// AutoOmit passes no quality to the converter at all.
	AutoOmit
	// AutoFail fails option resolution.
	AutoFail
)

func (a AutoFallback) String() string {
	switch a {
	case AutoOmit:
		return "omit"
	case AutoFail:
		return "fail"
	}
	return "default"
}

// ParseAutoFallback parses "default", "omit" or "fail".
func ParseAutoFallback(s string) (AutoFallback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return AutoUseDefault, nil
	case "omit":
		return AutoOmit, nil
	case "fail":
		return AutoFail, nil
	}
	return 0, fmt.Errorf("auto fallback %q: want default, omit or fail", s)
}

// OptionSpec is the option schema of one converter. Defs may override the
// defaults of the common options by redeclaring them.
type OptionSpec struct {
	Defs         []OptionDef
	AutoFallback AutoFallback
	QualityMin   int
	QualityMax   int
}

func (s OptionSpec) def(name string) (OptionDef, bool) {
	for _, d := range s.Defs {
		if d.Name == name {
			return d, true
		}
	}
	for _, d := range CommonOptions() {
		if d.Name == name {
			return d, true
		}
	}
	return OptionDef{}, false
}

// All returns the effective definitions, common ones first.
func (s OptionSpec) All() []OptionDef {
	out := make([]OptionDef, 0, len(s.Defs)+4)
	for _, c := range CommonOptions() {
		if d, ok := s.def(c.Name); ok {
			out = append(out, d)
		}
	}
	for _, d := range s.Defs {
		if !slices.ContainsFunc(out, func(o OptionDef) bool { return o.Name == d.Name }) {
			out = append(out, d)
		}
	}
	return out
}

func (s OptionSpec) qualityRange() (int, int) {
	lo, hi := s.QualityMin, s.QualityMax
	if hi <= lo {
		return 0, 100
	}
	return lo, hi
}

// Options is a raw option map as it arrives from config files, flags or
// HTTP form fields.
type Options map[string]any

// Clone returns a shallow copy; nil stays nil.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// coerce converts a raw value to the definition's type and validates it.
func coerce(d OptionDef, v any) (any, error) {
	switch d.Type {
	case TypeInt:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if d.Max > d.Min && (n < d.Min || n > d.Max) {
			return nil, fmt.Errorf("%d out of range %d-%d", n, d.Min, d.Max)
		}
		return n, nil
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("%q is not a boolean", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("%v (%T) is not a boolean", v, v)
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%v (%T) is not a string", v, v)
		}
		if len(d.Choices) > 0 && !slices.Contains(d.Choices, s) {
			return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(d.Choices, ", "))
		}
		return s, nil
	case TypeQuality:
		switch q := v.(type) {
		case Quality:
			return q, nil
		case string:
			if strings.EqualFold(strings.TrimSpace(q), "auto") {
				return Auto(), nil
			}
		}
		// Fixed values of any magnitude are clamped by the resolver.
		n, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("%v is neither \"auto\" nor a number", v)
		}
		return Fixed(n), nil
	}
	return nil, fmt.Errorf("unsupported option type %s", d.Type)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", n)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("%v (%T) is not an integer", v, v)
}

// Resolved is the fully merged, typed option set handed to an executor.
type Resolved struct {
	values       map[string]any
	quality      int
	hasQuality   bool
	detected     bool
	detectFailed bool
}

// Quality returns the numeric quality to pass to the converter. ok is false
// when the quality argument must be omitted.
func (r Resolved) Quality() (q int, ok bool) { return r.quality, r.hasQuality }

// Detected reports whether quality came from the detector.
func (r Resolved) Detected() bool { return r.detected }

// AutoDetectFailed reports whether quality was "auto" and detection failed.
func (r Resolved) AutoDetectFailed() bool { return r.detectFailed }

func (r Resolved) Int(name string) int {
	n, _ := r.values[name].(int)
	return n
}

func (r Resolved) Bool(name string) bool {
	b, _ := r.values[name].(bool)
	return b
}

func (r Resolved) String(name string) string {
	s, _ := r.values[name].(string)
	return s
}

// Values returns a copy of the resolved values, with quality rendered as the
// effective number or "omitted".
func (r Resolved) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	if r.hasQuality {
		out[OptQuality] = r.quality
	} else {
		out[OptQuality] = "omitted"
	}
	return out
}
