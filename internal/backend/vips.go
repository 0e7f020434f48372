package backend

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/runner"
)

// vipsConverter uses the libvips command line tool.
type vipsConverter struct {
	bin string
}

func newVips(s Settings) convert.Descriptor {
	c := &vipsConverter{bin: orDefault(s.Binary, "vips")}
	return convert.Descriptor{
		Name: Vips,
		Requirements: []convert.Requirement{
			binaryWorks(c.bin, "--version"),
			webpListed(c.bin, listing{args: []string{"-l", "foreign"}, pattern: regexp.MustCompile(`(?i)webpsave`)}),
		},
		Executor: c,
		Options: convert.OptionSpec{
			Defs: []convert.OptionDef{
				{Name: "effort", Type: convert.TypeInt, Default: 4, Min: 0, Max: 6},
				{Name: "lossless", Type: convert.TypeBool, Default: false},
				{Name: "strip", Type: convert.TypeBool, Default: true},
			},
		},
	}
}

func (c *vipsConverter) Execute(ctx context.Context, src, dst string, opts convert.Resolved) error {
	// vips reads "name[options]" as load/save options and has no escape.
	if strings.ContainsAny(src, "[]") || strings.ContainsAny(dst, "[]") {
		return convert.ExecutionFailed("vips cannot address file names containing brackets")
	}

	args := []string{"webpsave", runner.SafePath(src), runner.SafePath(dst)}
	if q, ok := opts.Quality(); ok {
		args = append(args, "--Q", strconv.Itoa(q))
	}
	args = append(args, "--effort", strconv.Itoa(opts.Int("effort")))
	if opts.Bool("lossless") {
		args = append(args, "--lossless")
	}
	if opts.Bool("strip") {
		args = append(args, "--strip")
	}
	return run(ctx, runner.Command{Name: c.bin, Args: args, Nice: opts.Bool(convert.OptUseNice)})
}
