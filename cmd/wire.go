package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/webpconv/internal/backend"
	"github.com/AnyUserName/webpconv/internal/cache"
	"github.com/AnyUserName/webpconv/internal/convert"
	"github.com/AnyUserName/webpconv/internal/history"
	"github.com/AnyUserName/webpconv/internal/metrics"
	"github.com/AnyUserName/webpconv/internal/profile"
	"github.com/AnyUserName/webpconv/internal/quality"
)

// runFlags are the conversion flags shared by convert, watch and serve.
type runFlags struct {
	converters []string
	timeout    time.Duration
	profile    string
	quality    string
	opts       []string
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringSliceVar(&f.converters, "converters", nil, "converter order (default from config, then built-in)")
	fl.DurationVar(&f.timeout, "timeout", 0, "per-converter timeout (default from config)")
	fl.StringVarP(&f.profile, "profile", "p", "", "option profile: "+strings.Join(profile.Names(), ", "))
	fl.StringVarP(&f.quality, "quality", "q", "", `quality 0-100 or "auto"`)
	fl.StringArrayVar(&f.opts, "opt", nil, "option as key=value, or converter.key=value for one converter (repeatable)")
}

// app holds everything a conversion command needs, built from config and
// flags.
type app struct {
	orch     *convert.Orchestrator
	metrics  *metrics.Recorder
	history  *history.Store
	verdicts *cache.Verdicts
	client   cache.Client

	profile profile.Profile
	shared  convert.Options
	scoped  map[string]convert.Options
	order   []string
	timeout time.Duration
}

func newApp(ctx context.Context, f runFlags) (*app, error) {
	a := &app{metrics: metrics.NewRecorder(), timeout: cfg.Timeout}
	if f.timeout > 0 {
		a.timeout = f.timeout
	}

	order := cfg.Converters
	if len(f.converters) > 0 {
		order = f.converters
	}
	reg, err := backend.Registry(order, cfg.BackendSettings())
	if err != nil {
		return nil, err
	}
	a.order = reg.Names()

	profName := cfg.Profile
	if f.profile != "" {
		profName = f.profile
	}
	if a.profile, err = profile.Get(profName); err != nil {
		return nil, err
	}
	shared, scoped, err := f.options()
	if err != nil {
		return nil, err
	}
	a.shared, a.scoped = a.profile.Apply(mergeShared(cfg.SharedOptions(), shared), mergeScoped(cfg.ScopedOptions(), scoped))

	opts := []convert.Option{
		convert.WithTimeout(a.timeout),
		convert.WithLogger(logger),
		convert.WithDetector(quality.Detector{}),
		convert.WithObserver(a.metrics),
	}
	if a.client, err = newCacheClient(ctx); err != nil {
		return nil, err
	}
	if a.client != nil {
		a.verdicts = cache.NewVerdicts(a.client, cfg.ProbeCache.TTL, logger)
		opts = append(opts, convert.WithVerdictCache(a.verdicts))
	}
	a.orch = convert.New(reg, opts...)

	if cfg.History.Enabled {
		if a.history, err = history.Open(cfg.History.Path); err != nil {
			a.Close()
			return nil, err
		}
	}
	logger.Debug().Strs("converters", a.order).Str("profile", a.profile.Name).
		Dur("timeout", a.timeout).Msg("converters configured")
	return a, nil
}

// newCacheClient returns nil when probe caching is off. An unreachable
// Redis degrades to the in-process cache rather than failing the command.
func newCacheClient(ctx context.Context) (cache.Client, error) {
	switch cfg.ProbeCache.Driver {
	case "none":
		return nil, nil
	case "redis":
		rc := cfg.ProbeCache.Redis
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr: rc.Addr, Password: rc.Password, DB: rc.DB, Prefix: rc.Prefix,
		})
		if err == nil {
			return client, nil
		}
		logger.Warn().Err(err).Msg("redis probe cache unavailable, using memory")
	}
	return cache.NewMemoryClient(0), nil
}

// record stores a finished run in the history database when enabled.
func (a *app) record(ctx context.Context, r *convert.Report, err error) {
	if a.history == nil || r == nil {
		return
	}
	if herr := a.history.Record(context.WithoutCancel(ctx), r, err); herr != nil {
		logger.Warn().Err(herr).Str("run_id", r.RunID).Msg("cannot record history")
	}
}

// Close flushes metrics and releases the history and cache connections.
func (a *app) Close() {
	if path := cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("cannot write metrics textfile")
		}
	}
	if a.history != nil {
		a.history.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
}

// options parses -q and --opt into shared and per-converter layers.
func (f runFlags) options() (convert.Options, map[string]convert.Options, error) {
	shared := convert.Options{}
	scoped := map[string]convert.Options{}
	if f.quality != "" {
		shared[convert.OptQuality] = f.quality
	}
	for _, kv := range f.opts {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, nil, fmt.Errorf("--opt %q: expected key=value", kv)
		}
		if conv, name, ok := strings.Cut(key, "."); ok {
			if scoped[conv] == nil {
				scoped[conv] = convert.Options{}
			}
			scoped[conv][name] = value
			continue
		}
		shared[key] = value
	}
	return shared, scoped, nil
}

func mergeShared(base, over convert.Options) convert.Options {
	out := base.Clone()
	if out == nil {
		out = convert.Options{}
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func mergeScoped(base, over map[string]convert.Options) map[string]convert.Options {
	out := make(map[string]convert.Options, len(base)+len(over))
	for name, opts := range base {
		out[name] = opts.Clone()
	}
	for name, opts := range over {
		out[name] = mergeShared(out[name], opts)
	}
	return out
}
