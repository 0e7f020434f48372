package backend

import (
	"context"
	"regexp"
	"strconv"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/runner"
)

var (
	imagickDelegate  = regexp.MustCompile(`(?i)webp\s*=`)
	imagickConfigure = regexp.MustCompile(`(?i)DELEGATE.*webp`)
	gmagickFormat    = regexp.MustCompile(`(?im)^\s*WEBP\*?\s.*\brw`)
)

// magickConverter drives ImageMagick's convert or GraphicsMagick's
// "gm convert". Both take the output as "webp:<path>".
type magickConverter struct {
	bin    string
	prefix []string
}

func magickOptions() []convert.OptionDef {
	return []convert.OptionDef{
		{Name: "method", Type: convert.TypeInt, Default: 4, Min: 0, Max: 6},
		{Name: "lossless", Type: convert.TypeBool, Default: false},
	}
}

func newImagick(s Settings) convert.Descriptor {
	c := &magickConverter{bin: orDefault(s.Binary, "convert")}
	return convert.Descriptor{
		Name: ImagickBinary,
		Requirements: []convert.Requirement{
			binaryWorks(c.bin, "-version"),
			webpListed(c.bin,
				listing{args: []string{"-list", "delegate"}, pattern: imagickDelegate},
				listing{args: []string{"-list", "configure"}, pattern: imagickConfigure},
			),
		},
		Executor: c,
		Options: convert.OptionSpec{
			Defs:         magickOptions(),
			AutoFallback: convert.AutoOmit,
		},
	}
}

func newGmagick(s Settings) convert.Descriptor {
	c := &magickConverter{bin: orDefault(s.Binary, "gm"), prefix: []string{"convert"}}
	return convert.Descriptor{
		Name: GmagickBinary,
		Requirements: []convert.Requirement{
			binaryWorks(c.bin, "version"),
			webpListed(c.bin, listing{args: []string{"convert", "-list", "format"}, pattern: gmagickFormat}),
		},
		Executor: c,
		Options: convert.OptionSpec{
			Defs:         magickOptions(),
			AutoFallback: convert.AutoOmit,
		},
	}
}

func (c *magickConverter) Execute(ctx context.Context, src, dst string, opts convert.Resolved) error {
	args := append([]string(nil), c.prefix...)
	if q, ok := opts.Quality(); ok {
		args = append(args, "-quality", strconv.Itoa(q))
	}
	args = append(args, "-define", "webp:method="+strconv.Itoa(opts.Int("method")))
	if opts.Bool("lossless") {
		args = append(args, "-define", "webp:lossless=true")
	}
	args = append(args, runner.SafePath(src), "webp:"+dst)
	return run(ctx, runner.Command{Name: c.bin, Args: args, Nice: opts.Bool(convert.OptUseNice)})
}
