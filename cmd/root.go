package cmd

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/AnyUserName/webpconv/internal/config"
	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/logging"
)

var (
	version = "0.1.0"
	verbose bool
	cfgFile string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "webpconv",
	Short: "Convert images to WebP with whatever encoder the host has",
	Long: `webpconv converts images to WebP by trying a list of converters in order
(cwebp, vips, ImageMagick, GraphicsMagick, ffmpeg, a remote conversion
service) and falling back to the next one when a converter is missing,
rejects its options, fails or times out.

Every run produces a report of what was tried and why it did not work.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load() // .env is optional

		var err error
		cfg, err = config.Load(configPath())
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(logging.Config{Level: level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
		return nil
	},
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "webpconv: %v\n", err)
	return ExitCode(err)
}

// ExitCode maps an error to the process exit status: 2 for bad input,
// 3 when every converter failed, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, convert.ErrInvalidRequest):
		return 2
	case errors.Is(err, convert.ErrAllExhausted):
		return 3
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $WEBPCONV_CONFIG or ./webpconv.yaml if present)")
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"webpconv %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))
}

// configPath picks the flag, then $WEBPCONV_CONFIG, then ./webpconv.yaml.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("WEBPCONV_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat("webpconv.yaml"); err == nil {
		return "webpconv.yaml"
	}
	return ""
}
