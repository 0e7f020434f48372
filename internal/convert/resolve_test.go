package convert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cwebpLike = OptionSpec{
	Defs: []OptionDef{
		{Name: "method", Type: TypeInt, Default: 6, Min: 0, Max: 6},
		{Name: "lossless", Type: TypeBool, Default: false},
		{Name: "metadata", Type: TypeString, Default: "none", Choices: []string{"none", "all", "exif"}},
	},
}

func TestResolveDefaults(t *testing.T) {
	res, err := Resolver{}.Resolve(context.Background(), cwebpLike, "x.jpg")
	require.NoError(t, err)

	assert.Equal(t, 6, res.Int("method"))
	assert.False(t, res.Bool("lossless"))
	assert.Equal(t, "none", res.String("metadata"))
	assert.False(t, res.Bool(OptUseNice))

	q, ok := res.Quality()
	assert.True(t, ok)
	assert.Equal(t, 75, q, "auto without detector falls back to default-quality")
	assert.True(t, res.AutoDetectFailed())
}

func TestResolveLayersLaterWins(t *testing.T) {
	res, err := Resolver{}.Resolve(context.Background(), cwebpLike, "x.jpg",
		Options{"method": 4, OptQuality: 80},
		Options{"method": "2", "lossless": "true"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Int("method"))
	assert.True(t, res.Bool("lossless"))
	q, _ := res.Quality()
	assert.Equal(t, 80, q)
}

func TestResolveRejects(t *testing.T) {
	cases := map[string]Options{
		"unknown key":     {"speed": 3},
		"int range":       {"method": 9},
		"not an int":      {"method": "fast"},
		"fractional":      {"method": 2.5},
		"bad bool":        {"lossless": "sometimes"},
		"bad choice":      {"metadata": "gps"},
		"bad quality":     {OptQuality: "best"},
		"max-quality int": {OptMaxQuality: 101},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Resolver{}.Resolve(context.Background(), cwebpLike, "x.jpg", opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrOptionResolution))
		})
	}
}

func TestResolveClampsFixedQuality(t *testing.T) {
	spec := OptionSpec{QualityMin: 10, QualityMax: 90}
	res, err := Resolver{}.Resolve(context.Background(), spec, "x.jpg", Options{OptQuality: 150})
	require.NoError(t, err)
	q, _ := res.Quality()
	assert.Equal(t, 90, q)

	res, err = Resolver{}.Resolve(context.Background(), spec, "x.jpg", Options{OptQuality: 3})
	require.NoError(t, err)
	q, _ = res.Quality()
	assert.Equal(t, 10, q)

	// Flags, form fields and YAML strings arrive as text.
	for raw, want := range map[string]int{"150": 90, " 3 ": 10, "-5": 10, "42": 42} {
		res, err = Resolver{}.Resolve(context.Background(), spec, "x.jpg", Options{OptQuality: raw})
		require.NoError(t, err, raw)
		q, ok := res.Quality()
		assert.True(t, ok, raw)
		assert.Equal(t, want, q, raw)
	}
}

func TestResolveAutoCappedByMaxQuality(t *testing.T) {
	r := Resolver{Detector: DetectorFunc(func(context.Context, string) (int, bool) { return 95, true })}
	res, err := r.Resolve(context.Background(), OptionSpec{}, "x.jpg")
	require.NoError(t, err)
	q, ok := res.Quality()
	assert.True(t, ok)
	assert.True(t, res.Detected())
	assert.Equal(t, 85, q)

	res, err = r.Resolve(context.Background(), OptionSpec{}, "x.jpg", Options{OptMaxQuality: 99})
	require.NoError(t, err)
	q, _ = res.Quality()
	assert.Equal(t, 95, q)
}

func TestResolveAutoFallbackPolicies(t *testing.T) {
	undetectable := Resolver{Detector: DetectorFunc(func(context.Context, string) (int, bool) { return 0, false })}

	res, err := undetectable.Resolve(context.Background(), OptionSpec{AutoFallback: AutoOmit}, "x.png")
	require.NoError(t, err)
	_, ok := res.Quality()
	assert.False(t, ok)
	assert.Equal(t, "omitted", res.Values()[OptQuality])

	res, err = undetectable.Resolve(context.Background(), OptionSpec{}, "x.png", Options{OptDefaultQuality: 60})
	require.NoError(t, err)
	q, ok := res.Quality()
	assert.True(t, ok)
	assert.Equal(t, 60, q)

	_, err = undetectable.Resolve(context.Background(), OptionSpec{AutoFallback: AutoFail}, "x.png")
	assert.True(t, errors.Is(err, ErrOptionResolution))
}

func TestConverterCanOverrideCommonDefaults(t *testing.T) {
	spec := OptionSpec{Defs: []OptionDef{{Name: OptDefaultQuality, Type: TypeInt, Default: 80, Min: 0, Max: 100}}}
	res, err := Resolver{}.Resolve(context.Background(), spec, "x.png")
	require.NoError(t, err)
	q, _ := res.Quality()
	assert.Equal(t, 80, q)
}

func TestParseQuality(t *testing.T) {
	q, err := ParseQuality(" AUTO ")
	require.NoError(t, err)
	assert.True(t, q.IsAuto())
	assert.Equal(t, "auto", q.String())

	q, err = ParseQuality("42")
	require.NoError(t, err)
	assert.Equal(t, 42, q.Value())

	_, err = ParseQuality("-1")
	assert.Error(t, err)
}

func TestParseAutoFallback(t *testing.T) {
	for in, want := range map[string]AutoFallback{"": AutoUseDefault, "omit": AutoOmit, "FAIL": AutoFail} {
		got, err := ParseAutoFallback(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseAutoFallback("guess")
	assert.Error(t, err)
}

func TestRunDetectorMemoizesAndRecovers(t *testing.T) {
	calls := 0
	d := &runDetector{inner: DetectorFunc(func(context.Context, string) (int, bool) {
		calls++
		panic("corrupt jpeg")
	})}
	_, ok := d.DetectQuality(context.Background(), "x")
	assert.False(t, ok)
	_, ok = d.DetectQuality(context.Background(), "x")
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}
