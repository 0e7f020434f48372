package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AnyUserName/webpconv/internal/convert"
)

// apiKeyHeader carries the cloud converter credential.
const apiKeyHeader = "X-Api-Key"

// wpcConverter uploads the source to a remote WebP conversion service.
type wpcConverter struct {
	url    string
	apiKey string
	client *http.Client
}

func newWPC(s Settings) convert.Descriptor {
	c := &wpcConverter{
		url:    strings.TrimRight(s.URL, "/"),
		apiKey: s.APIKey,
		client: &http.Client{},
	}
	return convert.Descriptor{
		Name: WPC,
		Requirements: []convert.Requirement{
			{Name: "wpc credentials", Check: c.configured},
			{Name: "wpc service", Check: c.reachable},
		},
		Executor: c,
		Options: convert.OptionSpec{
			Defs: []convert.OptionDef{
				{Name: "lossless", Type: convert.TypeBool, Default: false},
			},
			AutoFallback: convert.AutoFail,
		},
	}
}

func (c *wpcConverter) configured(context.Context) convert.Verdict {
	switch {
	case c.url == "":
		return convert.Unavailable(convert.ReasonMisconfigured, "no service url configured")
	case c.apiKey == "":
		return convert.Unavailable(convert.ReasonMisconfigured, "no api key configured")
	}
	return convert.Operational()
}

func (c *wpcConverter) reachable(ctx context.Context) convert.Verdict {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/status", nil)
	if err != nil {
		return convert.Unavailable(convert.ReasonMisconfigured, "bad service url: %v", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return convert.Unavailable(convert.ReasonUnreachable, "%s: %v", c.url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return convert.Unavailable(convert.ReasonMisconfigured, "api key rejected (%s)", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return convert.Unavailable(convert.ReasonUnreachable, "status check returned %s", resp.Status)
	}
	return convert.Operational()
}

func (c *wpcConverter) Execute(ctx context.Context, src, dst string, opts convert.Resolved) error {
	body, contentType, err := c.form(src, opts)
	if err != nil {
		return &convert.Failure{Kind: convert.KindExecution, Msg: "cannot build upload", Err: err}
	}

	endpoint := c.url + "/convert"
	command := "POST " + endpoint
	zerolog.Ctx(ctx).Debug().Str("command", command).Int("bytes", body.Len()).Msg("upload")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return &convert.Failure{Kind: convert.KindNotOperational, Reason: convert.ReasonMisconfigured, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &convert.Failure{
			Kind:    convert.KindNotOperational,
			Reason:  convert.ReasonUnreachable,
			Msg:     "service went away during upload",
			Command: command,
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		f := &convert.Failure{
			Kind:     convert.KindExecution,
			Msg:      "remote conversion failed: " + resp.Status,
			Command:  command,
			ExitCode: resp.StatusCode,
			Output:   strings.TrimSpace(string(snippet)),
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			f.Kind, f.Reason = convert.KindNotOperational, convert.ReasonMisconfigured
		}
		return f
	}

	out, err := os.Create(dst)
	if err != nil {
		return &convert.Failure{Kind: convert.KindExecution, Msg: "cannot write result", Err: err}
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		return &convert.Failure{Kind: convert.KindExecution, Msg: "download interrupted", Command: command, Err: err}
	}
	return out.Close()
}

func (c *wpcConverter) form(src string, opts convert.Resolved) (*bytes.Buffer, string, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, "", err
	}
	defer in.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", filepath.Base(src))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, in); err != nil {
		return nil, "", fmt.Errorf("read source: %w", err)
	}
	if q, ok := opts.Quality(); ok {
		if err := mw.WriteField("quality", strconv.Itoa(q)); err != nil {
			return nil, "", err
		}
	}
	if opts.Bool("lossless") {
		if err := mw.WriteField("lossless", "1"); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return body, mw.FormDataContentType(), nil
}
