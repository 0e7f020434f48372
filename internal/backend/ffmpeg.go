package backend

import (
	"context"
	"regexp"
	"strconv"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/runner"
)

var libwebpEncoder = regexp.MustCompile(`\blibwebp\b`)

// ffmpegConverter encodes the first frame with libwebp.
type ffmpegConverter struct {
	bin string
}

func newFFmpeg(s Settings) convert.Descriptor {
	c := &ffmpegConverter{bin: orDefault(s.Binary, "ffmpeg")}
	return convert.Descriptor{
		Name: FFmpeg,
		Requirements: []convert.Requirement{
			binaryWorks(c.bin, "-version"),
			webpListed(c.bin, listing{args: []string{"-hide_banner", "-encoders"}, pattern: libwebpEncoder}),
		},
		Executor: c,
		Options: convert.OptionSpec{
			Defs: []convert.OptionDef{
				{Name: "compression-level", Type: convert.TypeInt, Default: 4, Min: 0, Max: 6},
				{Name: "lossless", Type: convert.TypeBool, Default: false},
				{Name: "preset", Type: convert.TypeString, Default: "default",
					Choices: []string{"none", "default", "picture", "photo", "drawing", "icon", "text"}},
			},
		},
	}
}

func (c *ffmpegConverter) Execute(ctx context.Context, src, dst string, opts convert.Resolved) error {
	// The file: protocol keeps names like "http:x.png" from being read as URLs.
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", "file:" + src,
		"-frames:v", "1",
		"-c:v", "libwebp",
	}
	if q, ok := opts.Quality(); ok {
		args = append(args, "-quality", strconv.Itoa(q))
	}
	if opts.Bool("lossless") {
		args = append(args, "-lossless", "1")
	}
	args = append(args,
		"-compression_level", strconv.Itoa(opts.Int("compression-level")),
		"-preset", opts.String("preset"),
		"-f", "webp",
		"file:"+dst,
	)
	return run(ctx, runner.Command{Name: c.bin, Args: args, Nice: opts.Bool(convert.OptUseNice)})
}
