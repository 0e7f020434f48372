// Package server exposes conversion over HTTP. Every request is an
// independent conversion run with its own temporary directory.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/metrics"
)

const (
	formFile         = "image"
	headerConverter  = "X-Webpconv-Converter"
	headerRunID      = "X-Webpconv-Run"
	multipartMemory  = 8 << 20
	defaultMaxUpload = 32 << 20
)

// RunHook is called after every conversion, e.g. to record history.
type RunHook func(ctx context.Context, r *convert.Report, err error)

// Config holds server settings.
type Config struct {
	MaxUploadBytes int64
	RequestTimeout time.Duration

	// Options and Scoped are the defaults under per-request form values.
	Options convert.Options
	Scoped  map[string]convert.Options
}

// Server serves conversion requests.
type Server struct {
	orch    *convert.Orchestrator
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Recorder
	onRun   RunHook
}

// Option configures a Server.
type Option func(*Server)

func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = m }
}

func WithRunHook(h RunHook) Option {
	return func(s *Server) { s.onRun = h }
}

func New(orch *convert.Orchestrator, cfg Config, log zerolog.Logger, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	s := &Server{orch: orch, cfg: cfg, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/converters", s.converters)
	r.Post("/convert", s.convert)
	r.Get("/metrics", s.serveMetrics)

	return r
}

type converterDTO struct {
	Name    string          `json:"name"`
	Verdict convert.Verdict `json:"verdict"`
}

// converters handles GET /converters: a fresh probe of every converter in
// fallback order.
func (s *Server) converters(w http.ResponseWriter, r *http.Request) {
	descs := s.orch.Registry().Descriptors()
	out := make([]converterDTO, 0, len(descs))
	for _, d := range descs {
		out = append(out, converterDTO{Name: d.Name, Verdict: d.Probe(r.Context())})
	}
	writeJSON(w, http.StatusOK, out)
}

type failureDTO struct {
	Error    string                   `json:"error"`
	Kind     string                   `json:"kind"`
	RunID    string                   `json:"run_id,omitempty"`
	Attempts []convert.AttemptSummary `json:"attempts,omitempty"`
}

// convert handles POST /convert. The multipart field "image" carries the
// source; any other field is an option, "name" for every converter or
// "converter.name" for one.
func (s *Server) convert(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid-request",
				fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid-request", "expected multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(formFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid-request", fmt.Sprintf("missing %q file field", formFile))
		return
	}
	defer file.Close()

	shared, scoped := formOptions(r.MultipartForm.Value, s.cfg.Options, s.cfg.Scoped)

	dir, err := os.MkdirTemp("", "webpconv-http-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "create work dir")
		return
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, uploadName(header.Filename))
	if err := saveUpload(file, src); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	dst := filepath.Join(dir, "out.webp")

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	report, err := s.orch.Convert(ctx, convert.Request{Source: src, Destination: dst, Options: shared, Scoped: scoped})
	if s.onRun != nil {
		s.onRun(ctx, report, err)
	}
	if err != nil {
		s.writeConvertError(w, report, err)
		return
	}

	out, err := os.Open(dst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "open result")
		return
	}
	defer out.Close()

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Content-Length", fmt.Sprint(report.Size))
	w.Header().Set(headerConverter, report.Winner)
	w.Header().Set(headerRunID, report.RunID)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, out); err != nil {
		log.Warn().Err(err).Msg("response write failed")
	}
}

func (s *Server) writeConvertError(w http.ResponseWriter, report *convert.Report, err error) {
	body := failureDTO{Error: err.Error(), Kind: convert.KindOf(err).String(), RunID: report.RunID, Attempts: report.Summaries()}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, convert.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, convert.ErrAllExhausted):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		body.Kind = "timed-out"
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
		body.Kind = "cancelled"
	}
	writeJSON(w, status, body)
}

func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", metrics.ContentType)
	if err := s.metrics.WriteText(w); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("write metrics")
	}
}

// requestLogger attaches a request-scoped logger to the context and logs
// each request on completion.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := s.log.With().Str("request_id", chimiddleware.GetReqID(r.Context())).Logger()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(l.WithContext(r.Context())))

		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// formOptions layers request form values over the configured defaults.
func formOptions(values map[string][]string, baseShared convert.Options, baseScoped map[string]convert.Options) (convert.Options, map[string]convert.Options) {
	shared := baseShared.Clone()
	if shared == nil {
		shared = convert.Options{}
	}
	scoped := make(map[string]convert.Options, len(baseScoped))
	for name, opts := range baseScoped {
		scoped[name] = opts.Clone()
	}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		v := vals[len(vals)-1]
		if conv, opt, ok := strings.Cut(key, "."); ok {
			if scoped[conv] == nil {
				scoped[conv] = convert.Options{}
			}
			scoped[conv][opt] = v
			continue
		}
		shared[key] = v
	}
	return shared, scoped
}

// uploadName keeps only the base name of the client's file name. The
// extension is kept for converters that pick a decoder by it.
func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch {
	case name == "." || name == ".." || name == "/" || name == "":
		return "upload"
	case strings.HasPrefix(name, "."):
		return "upload" + name
	}
	return name
}

func saveUpload(r io.Reader, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("store upload: %w", err)
	}
	return f.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, failureDTO{Error: message, Kind: kind})
}
