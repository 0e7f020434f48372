// Package metrics counts conversion attempts and runs and exposes them in
// the Prometheus text format, either over HTTP or as a node-exporter
// textfile.
package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/AnyUserName/webpconv/internal/convert"
)

const (
	attemptsName = "webpconv_attempts_total"
	secondsName  = "webpconv_attempt_seconds_total"
	runsName     = "webpconv_runs_total"
	bytesName    = "webpconv_output_bytes_total"
)

// ContentType is the exposition format WriteText produces.
var ContentType = string(expfmt.NewFormat(expfmt.TypeTextPlain))

type attemptKey struct {
	converter string
	outcome   string
}

// Recorder implements convert.Observer. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	attempts map[attemptKey]float64
	seconds  map[string]float64
	runs     map[string]float64
	bytes    map[string]float64
}

func NewRecorder() *Recorder {
	return &Recorder{
		attempts: make(map[attemptKey]float64),
		seconds:  make(map[string]float64),
		runs:     make(map[string]float64),
		bytes:    make(map[string]float64),
	}
}

// Outcome is the label value an attempt is counted under.
func Outcome(a convert.Attempt) string {
	switch {
	case a.Succeeded():
		return "succeeded"
	case a.Skipped():
		return "skipped"
	default:
		return a.Kind.String()
	}
}

func (r *Recorder) ObserveAttempt(a convert.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[attemptKey{a.Converter, Outcome(a)}]++
	r.seconds[a.Converter] += a.Duration.Seconds()
}

func (r *Recorder) ObserveRun(rep *convert.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rep.Succeeded() {
		r.runs["succeeded"]++
		r.bytes[rep.Winner] += float64(rep.Size)
		return
	}
	r.runs["failed"]++
}

// Families snapshots the counters as metric families sorted by name.
func (r *Recorder) Families() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempts := family(attemptsName, "Conversion attempts by converter and outcome.")
	keys := make([]attemptKey, 0, len(r.attempts))
	for k := range r.attempts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].converter != keys[j].converter {
			return keys[i].converter < keys[j].converter
		}
		return keys[i].outcome < keys[j].outcome
	})
	for _, k := range keys {
		attempts.Metric = append(attempts.Metric, counter(r.attempts[k], "converter", k.converter, "outcome", k.outcome))
	}

	return []*dto.MetricFamily{
		attempts,
		single(bytesName, "Bytes of WebP output by winning converter.", "converter", r.bytes),
		single(secondsName, "Time spent in attempts by converter.", "converter", r.seconds),
		single(runsName, "Conversion runs by status.", "status", r.runs),
	}
}

// WriteText writes every family in the text exposition format.
func (r *Recorder) WriteText(w io.Writer) error {
	for _, mf := range r.Families() {
		if len(mf.Metric) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile replaces path atomically so a collector never reads a
// partial file.
func (r *Recorder) WriteTextfile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := r.WriteText(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metrics file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install metrics file: %w", err)
	}
	return nil
}

func family(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
}

func single(name, help, label string, values map[string]float64) *dto.MetricFamily {
	mf := family(name, help)
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		mf.Metric = append(mf.Metric, counter(values[k], label, k))
	}
	return mf
}

func counter(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Counter: &dto.Counter{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(strings.TrimSpace(labels[i+1])),
		})
	}
	return m
}
