package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/AnyUserName/webpconv/internal/convert"
)

const verdictPrefix = "verdict:"

// Verdicts is a convert.VerdictCache over any Client. Keys include the
// host name because capabilities are per host while a Redis instance may be
// shared.
type Verdicts struct {
	client Client
	ttl    time.Duration
	host   string
	log    zerolog.Logger
}

// NewVerdicts wraps client. A non-positive ttl disables caching.
func NewVerdicts(client Client, ttl time.Duration, log zerolog.Logger) *Verdicts {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return &Verdicts{client: client, ttl: ttl, host: host, log: log}
}

func (v *Verdicts) key(converter string) string {
	return verdictPrefix + v.host + ":" + converter
}

// Get returns a cached verdict. Backend errors count as misses.
func (v *Verdicts) Get(ctx context.Context, converter string) (convert.Verdict, bool) {
	if v.ttl <= 0 {
		return convert.Verdict{}, false
	}
	data, err := v.client.Get(ctx, v.key(converter))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			v.log.Debug().Err(err).Str("converter", converter).Msg("verdict cache get failed")
		}
		return convert.Verdict{}, false
	}
	var verdict convert.Verdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		v.log.Warn().Err(err).Str("converter", converter).Msg("discarding corrupt cached verdict")
		return convert.Verdict{}, false
	}
	return verdict, true
}

func (v *Verdicts) Put(ctx context.Context, converter string, verdict convert.Verdict) {
	if v.ttl <= 0 {
		return
	}
	data, err := json.Marshal(verdict)
	if err != nil {
		return
	}
	if err := v.client.Set(ctx, v.key(converter), data, v.ttl); err != nil {
		v.log.Warn().Err(err).Str("converter", converter).Msg("verdict cache set failed")
	}
}

// Invalidate drops every cached verdict of this host.
func (v *Verdicts) Invalidate(ctx context.Context) error {
	return v.client.DeleteByPrefix(ctx, verdictPrefix+v.host+":")
}
