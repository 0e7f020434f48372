package backend

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/runner"
)

// cwebpInputs are the formats cwebp reads itself. Anything else is decoded
// in-process and handed over as PNG.
var cwebpInputs = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true, ".webp": true,
}

// cwebpConverter shells out to Google's reference encoder.
// Install: brew install webp / apt install webp
type cwebpConverter struct {
	bin string
}

func newCWebP(s Settings) convert.Descriptor {
	c := &cwebpConverter{bin: orDefault(s.Binary, "cwebp")}
	return convert.Descriptor{
		Name:         CWebP,
		Requirements: []convert.Requirement{binaryWorks(c.bin, "-version")},
		Executor:     c,
		Options: convert.OptionSpec{
			Defs: []convert.OptionDef{
				{Name: "method", Type: convert.TypeInt, Default: 6, Min: 0, Max: 6},
				{Name: "alpha-quality", Type: convert.TypeInt, Default: 100, Min: 0, Max: 100},
				{Name: "lossless", Type: convert.TypeBool, Default: false},
				{Name: "low-memory", Type: convert.TypeBool, Default: false},
				{Name: "auto-orient", Type: convert.TypeBool, Default: false},
				{Name: "metadata", Type: convert.TypeString, Default: "none",
					Choices: []string{"none", "all", "exif", "icc", "xmp"}},
			},
		},
	}
}

func (c *cwebpConverter) Execute(ctx context.Context, src, dst string, opts convert.Resolved) error {
	input := src
	autoOrient := opts.Bool("auto-orient")
	if autoOrient || !cwebpInputs[strings.ToLower(filepath.Ext(src))] {
		tmp, err := renderPNG(src, autoOrient)
		if err != nil {
			return &convert.Failure{Kind: convert.KindExecution, Msg: "cannot prepare source for cwebp", Err: err}
		}
		defer removeQuietly(tmp)
		input = tmp
	}

	args := make([]string, 0, 16)
	if q, ok := opts.Quality(); ok {
		args = append(args, "-q", strconv.Itoa(q))
	}
	args = append(args,
		"-m", strconv.Itoa(opts.Int("method")), // compression method (0=fast, 6=best)
		"-alpha_q", strconv.Itoa(opts.Int("alpha-quality")),
		"-metadata", opts.String("metadata"),
		"-mt",
		"-quiet",
	)
	if opts.Bool("lossless") {
		args = append(args, "-lossless")
	}
	if opts.Bool("low-memory") {
		args = append(args, "-low_memory")
	}
	args = append(args, runner.SafePath(input), "-o", runner.SafePath(dst))

	return run(ctx, runner.Command{Name: c.bin, Args: args, Nice: opts.Bool(convert.OptUseNice)})
}
