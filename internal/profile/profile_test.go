package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnyUserName/webpconv/internal/backend"
	"github.com/AnyUserName/webpconv/internal/convert"
)

func TestGet(t *testing.T) {
	p, err := Get("")
	require.NoError(t, err)
	assert.Equal(t, "default", p.Name)

	_, err = Get("telegram")
	assert.ErrorContains(t, err, "unknown profile")

	assert.Equal(t, []string{"default", "fast", "graphic", "photo"}, Names())
}

// Every preset must resolve for every converter, otherwise choosing a
// profile would knock converters out of the fallback chain.
func TestProfilesResolveForEveryConverter(t *testing.T) {
	reg, err := backend.Registry(backend.DefaultOrder(), nil)
	require.NoError(t, err)
	resolver := convert.Resolver{Detector: convert.DetectorFunc(func(context.Context, string) (int, bool) {
		return 82, true
	})}

	for _, name := range Names() {
		p, err := Get(name)
		require.NoError(t, err)
		shared, scoped := p.Apply(nil, nil)
		for _, d := range reg.Descriptors() {
			_, err := resolver.Resolve(context.Background(), d.Options, "in.jpg", shared, scoped[d.Name])
			assert.NoError(t, err, "profile %s, converter %s", name, d.Name)
		}
	}
}

func TestApplyExplicitOptionsWin(t *testing.T) {
	p, err := Get("graphic")
	require.NoError(t, err)

	shared, scoped := p.Apply(
		convert.Options{convert.OptQuality: "auto"},
		map[string]convert.Options{backend.CWebP: {"lossless": false, "method": 3}},
	)
	assert.Equal(t, "auto", shared[convert.OptQuality])
	assert.Equal(t, false, scoped[backend.CWebP]["lossless"])
	assert.Equal(t, 3, scoped[backend.CWebP]["method"])
	assert.Equal(t, true, scoped[backend.Vips]["lossless"])

	// The preset itself is untouched.
	assert.Equal(t, true, p.Scoped[backend.CWebP]["lossless"])
	assert.Equal(t, 90, p.Options[convert.OptQuality])
}
