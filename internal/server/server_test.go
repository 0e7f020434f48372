package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/metrics"
)

func tinyWebP() []byte {
	b := []byte("RIFF")
	b = binary.LittleEndian.AppendUint32(b, 18)
	b = append(b, "WEBPVP8L"...)
	b = binary.LittleEndian.AppendUint32(b, 5)
	b = append(b, 0x2f, 0, 0, 0, 0, 0)
	return b
}

func descriptor(name string, v convert.Verdict, exec convert.ExecutorFunc) convert.Descriptor {
	return convert.Descriptor{
		Name:         name,
		Requirements: []convert.Requirement{{Name: name, Check: func(context.Context) convert.Verdict { return v }}},
		Executor:     exec,
		Options: convert.OptionSpec{Defs: []convert.OptionDef{
			{Name: "method", Type: convert.TypeInt, Default: 4, Min: 0, Max: 6},
		}},
	}
}

func writeOK(_ context.Context, _, dst string, _ convert.Resolved) error {
	return os.WriteFile(dst, tinyWebP(), 0o644)
}

func failing(context.Context, string, string, convert.Resolved) error {
	return convert.ExecutionFailed("encoder crashed")
}

type harness struct {
	srv     *httptest.Server
	metrics *metrics.Recorder

	mu   sync.Mutex
	runs []error
	last convert.Resolved
}

func newHarness(t *testing.T, cfg Config, descs ...convert.Descriptor) *harness {
	t.Helper()
	h := &harness{metrics: metrics.NewRecorder()}
	orch := convert.New(convert.MustRegistry(descs...),
		convert.WithDetector(convert.DetectorFunc(func(context.Context, string) (int, bool) { return 0, false })),
		convert.WithObserver(h.metrics))
	s := New(orch, cfg, zerolog.Nop(), WithMetrics(h.metrics), WithRunHook(func(_ context.Context, _ *convert.Report, err error) {
		h.mu.Lock()
		h.runs = append(h.runs, err)
		h.mu.Unlock()
	}))
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func upload(t *testing.T, url, filename string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/convert", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeFailure(t *testing.T, resp *http.Response) failureDTO {
	t.Helper()
	var f failureDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&f))
	return f
}

func TestConvertFallsBack(t *testing.T) {
	h := newHarness(t, Config{},
		descriptor("cwebp", convert.Unavailable(convert.ReasonToolNotInstalled, "cwebp not found"), writeOK),
		descriptor("vips", convert.Operational(), failing),
		descriptor("ffmpeg", convert.Operational(), writeOK),
	)

	resp := upload(t, h.srv.URL, "photo $(rm -rf).png", []byte("not really a png"), map[string]string{"quality": "70"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))
	assert.Equal(t, "ffmpeg", resp.Header.Get(headerConverter))
	assert.NotEmpty(t, resp.Header.Get(headerRunID))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, tinyWebP(), got)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.runs, 1)
	assert.NoError(t, h.runs[0])
}

func TestConvertExhausted(t *testing.T) {
	h := newHarness(t, Config{},
		descriptor("cwebp", convert.Operational(), failing),
		descriptor("vips", convert.Unavailable(convert.ReasonToolNotInstalled, "vips not found"), writeOK),
	)

	resp := upload(t, h.srv.URL, "a.jpg", []byte("jpeg"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	f := decodeFailure(t, resp)
	assert.Equal(t, "all-converters-exhausted", f.Kind)
	require.Len(t, f.Attempts, 2)
	assert.Equal(t, "execution-failed", f.Attempts[0].Outcome)
	assert.Equal(t, "tool-not-installed", f.Attempts[1].Reason)
}

func TestConvertRejectsBadRequests(t *testing.T) {
	h := newHarness(t, Config{MaxUploadBytes: 1024}, descriptor("cwebp", convert.Operational(), writeOK))

	t.Run("missing file", func(t *testing.T) {
		resp := upload(t, h.srv.URL, "", nil, map[string]string{"quality": "80"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
	t.Run("empty file", func(t *testing.T) {
		resp := upload(t, h.srv.URL, "a.png", []byte{}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid-request", decodeFailure(t, resp).Kind)
	})
	t.Run("too large", func(t *testing.T) {
		resp := upload(t, h.srv.URL, "a.png", bytes.Repeat([]byte("x"), 8192), nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
	t.Run("not multipart", func(t *testing.T) {
		resp, err := http.Post(h.srv.URL+"/convert", "application/json", bytes.NewReader([]byte("{}")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestConvertScopedFormOptions(t *testing.T) {
	var mu sync.Mutex
	var method int
	exec := func(_ context.Context, _, dst string, opts convert.Resolved) error {
		mu.Lock()
		method = opts.Int("method")
		mu.Unlock()
		return os.WriteFile(dst, tinyWebP(), 0o644)
	}
	h := newHarness(t, Config{Scoped: map[string]convert.Options{"cwebp": {"method": 2}}},
		descriptor("cwebp", convert.Operational(), exec))

	resp := upload(t, h.srv.URL, "a.png", []byte("png"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mu.Lock()
	assert.Equal(t, 2, method)
	mu.Unlock()

	resp = upload(t, h.srv.URL, "a.png", []byte("png"), map[string]string{"cwebp.method": "5"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mu.Lock()
	assert.Equal(t, 5, method)
	mu.Unlock()
}

func TestConverters(t *testing.T) {
	h := newHarness(t, Config{},
		descriptor("cwebp", convert.Unavailable(convert.ReasonToolNotInstalled, "cwebp not found"), writeOK),
		descriptor("vips", convert.Operational(), writeOK),
	)

	resp, err := http.Get(h.srv.URL + "/converters")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []converterDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "cwebp", got[0].Name)
	assert.False(t, got[0].Verdict.OK)
	assert.Equal(t, convert.ReasonToolNotInstalled, got[0].Verdict.Reason)
	assert.True(t, got[1].Verdict.OK)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, Config{}, descriptor("cwebp", convert.Operational(), writeOK))

	resp, err := http.Get(h.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	upload(t, h.srv.URL, "a.png", []byte("png"), nil)

	resp, err = http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `webpconv_attempts_total{converter="cwebp",outcome="succeeded"} 1`)
	assert.Contains(t, string(body), `webpconv_runs_total{status="succeeded"} 1`)
}

func TestUploadName(t *testing.T) {
	cases := map[string]string{
		"photo.png":           "photo.png",
		"../../etc/passwd":    "passwd",
		`C:\Users\x\shot.jpg`: "shot.jpg",
		".png":                "upload.png",
		"":                    "upload",
		"-rf.png":             "-rf.png",
		"a;b $(c).gif":        "a;b $(c).gif",
	}
	for in, want := range cases {
		assert.Equal(t, want, uploadName(in), in)
	}
}

func TestWriteConvertErrorCancelled(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	s.writeConvertError(rec, &convert.Report{RunID: "r"}, fmt.Errorf("conversion of a.png cancelled: %w", context.Canceled))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
