//go:build unix

package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnyUserName/webpconv/internal/convert"
)

type fakeService struct {
	mu          sync.Mutex
	convertCode int
	gotQuality  string
	gotKey      string
	gotFile     string
}

func (s *fakeService) setCode(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convertCode = code
}

func (s *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(apiKeyHeader) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/convert", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.gotKey = r.Header.Get(apiKeyHeader)
		s.gotQuality = r.FormValue("quality")
		if f, hdr, err := r.FormFile("file"); err == nil {
			s.gotFile = hdr.Filename
			io.Copy(io.Discard, f)
			f.Close()
		}
		if s.convertCode != 0 {
			http.Error(w, "quota exceeded", s.convertCode)
			return
		}
		w.Header().Set("Content-Type", "image/webp")
		w.Write(tinyWebP())
	})
	return mux
}

func TestWPCConverts(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	d, err := New(WPC, Settings{URL: srv.URL + "/", APIKey: "secret"})
	require.NoError(t, err)
	require.True(t, d.Probe(context.Background()).OK)

	src := source(t, "photo.png")
	dst := filepath.Join(t.TempDir(), "photo.webp")
	reg, err := convert.NewRegistry(d)
	require.NoError(t, err)
	_, err = convert.New(reg).Convert(context.Background(), convert.Request{
		Source: src, Destination: dst, Options: convert.Options{"quality": "77"},
	})
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, "77", svc.gotQuality)
	assert.Equal(t, "secret", svc.gotKey)
	assert.Equal(t, "photo.png", svc.gotFile)
	assert.FileExists(t, dst)
}

func TestWPCRequiresExplicitQualityWhenUndetectable(t *testing.T) {
	srv := httptest.NewServer((&fakeService{}).handler())
	defer srv.Close()

	d, err := New(WPC, Settings{URL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)
	_, err = convert.Resolver{}.Resolve(context.Background(), d.Options, "x.png")
	assert.True(t, errors.Is(err, convert.ErrOptionResolution))
}

func TestWPCVerdicts(t *testing.T) {
	srv := httptest.NewServer((&fakeService{}).handler())
	defer srv.Close()

	cases := []struct {
		name     string
		settings Settings
		reason   convert.Reason
	}{
		{"no url", Settings{APIKey: "secret"}, convert.ReasonMisconfigured},
		{"no key", Settings{URL: srv.URL}, convert.ReasonMisconfigured},
		{"wrong key", Settings{URL: srv.URL, APIKey: "nope"}, convert.ReasonMisconfigured},
		{"down", Settings{URL: "http://127.0.0.1:1", APIKey: "secret"}, convert.ReasonUnreachable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := New(WPC, tc.settings)
			require.NoError(t, err)
			v := d.Probe(context.Background())
			assert.False(t, v.OK)
			assert.Equal(t, tc.reason, v.Reason)
		})
	}
}

func TestWPCHTTPErrors(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	d, err := New(WPC, Settings{URL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)
	src := source(t, "a.png")
	opts := resolve(t, d, src, convert.Options{"quality": 80})

	svc.setCode(http.StatusTooManyRequests)
	err = d.Executor.Execute(context.Background(), src, src+".webp", opts)
	var f *convert.Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, convert.KindExecution, f.Kind)
	assert.Equal(t, http.StatusTooManyRequests, f.ExitCode)
	assert.Equal(t, "quota exceeded", f.Output)

	svc.setCode(http.StatusForbidden)
	err = d.Executor.Execute(context.Background(), src, src+".webp", opts)
	require.True(t, errors.As(err, &f))
	assert.Equal(t, convert.KindNotOperational, f.Kind)
	assert.Equal(t, convert.ReasonMisconfigured, f.Reason)
}
