package convert

import (
	"context"
	"sort"
)

// QualityDetector estimates the quality the source was encoded with.
// ok is false when it cannot tell.
type QualityDetector interface {
	DetectQuality(ctx context.Context, path string) (q int, ok bool)
}

// DetectorFunc adapts a function to QualityDetector.
type DetectorFunc func(ctx context.Context, path string) (int, bool)

func (f DetectorFunc) DetectQuality(ctx context.Context, path string) (int, bool) {
	return f(ctx, path)
}

// Resolver merges layered option maps against a converter's OptionSpec.
type Resolver struct {
	Detector QualityDetector
}

// Resolve merges spec defaults with each layer in order, later layers
// winning. Any unknown key or invalid value fails with KindOptionResolution.
func (r Resolver) Resolve(ctx context.Context, spec OptionSpec, source string, layers ...Options) (Resolved, error) {
	values := make(map[string]any)
	for _, d := range spec.All() {
		values[d.Name] = d.Default
	}
	for _, layer := range layers {
		keys := make([]string, 0, len(layer))
		for k := range layer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			d, ok := spec.def(k)
			if !ok {
				return Resolved{}, resolutionFailed("unknown option %q", k)
			}
			v, err := coerce(d, layer[k])
			if err != nil {
				return Resolved{}, resolutionFailed("option %q: %v", k, err)
			}
			values[k] = v
		}
	}

	res := Resolved{values: values}
	lo, hi := spec.qualityRange()

	q, _ := values[OptQuality].(Quality)
	if !q.IsAuto() {
		res.quality, res.hasQuality = clamp(q.Value(), lo, hi), true
		return res, nil
	}

	if r.Detector != nil {
		if detected, ok := r.Detector.DetectQuality(ctx, source); ok {
			if maxQ, _ := values[OptMaxQuality].(int); detected > maxQ {
				detected = maxQ
			}
			res.quality, res.hasQuality, res.detected = clamp(detected, lo, hi), true, true
			return res, nil
		}
	}

	res.detectFailed = true
	switch spec.AutoFallback {
	case AutoOmit:
		return res, nil
	case AutoFail:
		return Resolved{}, resolutionFailed("quality is auto, detection failed and no fallback quality is allowed")
	default:
		def, _ := values[OptDefaultQuality].(int)
		res.quality, res.hasQuality = clamp(def, lo, hi), true
		return res, nil
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// runDetector asks the wrapped detector at most once per conversion run and
// swallows panics.
type runDetector struct {
	inner QualityDetector
	done  bool
	q     int
	ok    bool
}

func (d *runDetector) DetectQuality(ctx context.Context, path string) (int, bool) {
	if d.done {
		return d.q, d.ok
	}
	d.done = true
	if d.inner == nil {
		return 0, false
	}
	func() {
		defer func() {
			if recover() != nil {
				d.q, d.ok = 0, false
			}
		}()
		d.q, d.ok = d.inner.DetectQuality(ctx, path)
	}()
	return d.q, d.ok
}
