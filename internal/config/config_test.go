package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webpconv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Empty(t, cfg.Converters)
	assert.Equal(t, "memory", cfg.ProbeCache.Driver)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "WEBPCONV_WPC_API_KEY", cfg.ConverterSettings["wpc"].APIKeyEnv)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
converters: [vips, cwebp, wpc]
timeout: 30s
options:
  quality: auto
  max-quality: 80
converter_options:
  cwebp:
    method: 4
    lossless: true
converter_settings:
  cwebp:
    binary: /opt/libwebp/bin/cwebp
  wpc:
    url: https://wpc.example.com
    auto_fallback: default
probe_cache:
  driver: redis
  ttl: 1m
  redis:
    addr: redis:6379
log:
  level: debug
  format: json
`)
	t.Setenv("WEBPCONV_WPC_API_KEY", "k-123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"vips", "cwebp", "wpc"}, cfg.Converters)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "auto", cfg.Options["quality"])
	assert.Equal(t, 80, cfg.Options["max-quality"])
	assert.Equal(t, time.Minute, cfg.ProbeCache.TTL)

	settings := cfg.BackendSettings()
	assert.Equal(t, "/opt/libwebp/bin/cwebp", settings["cwebp"].Binary)
	assert.Equal(t, "https://wpc.example.com", settings["wpc"].URL)
	assert.Equal(t, "k-123", settings["wpc"].APIKey, "api_key_env default survives a partial wpc block")
	assert.Equal(t, "default", settings["wpc"].AutoFallback)

	scoped := cfg.ScopedOptions()
	assert.Equal(t, 4, scoped["cwebp"]["method"])
	assert.Equal(t, true, scoped["cwebp"]["lossless"])
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEBPCONV_CONVERTERS", "ffmpeg, cwebp")
	t.Setenv("WEBPCONV_TIMEOUT", "5s")
	t.Setenv("WEBPCONV_LOG_LEVEL", "warn")
	t.Setenv("WEBPCONV_WPC_URL", "http://localhost:9000")
	t.Setenv("WEBPCONV_REDIS_ADDR", "redis://cache:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"ffmpeg", "cwebp"}, cfg.Converters)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "http://localhost:9000", cfg.ConverterSettings["wpc"].URL)
	assert.Equal(t, "redis", cfg.ProbeCache.Driver)
	assert.Equal(t, "cache:6379", cfg.ProbeCache.Redis.Addr)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown converter":   "converters: [cwebp, gd]",
		"duplicate converter": "converters: [cwebp, cwebp]",
		"unknown scoped":      "converter_options:\n  gd:\n    quality: 1",
		"unknown settings":    "converter_settings:\n  gd:\n    binary: x",
		"bad timeout":         "timeout: 0s",
		"bad cache driver":    "probe_cache:\n  driver: memcached",
		"bad log format":      "log:\n  format: xml",
		"negative workers":    "workers: -1",
		"unknown profile":     "profile: telegram",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "converters: [cwebp"))
	assert.ErrorContains(t, err, "parse config file")
}
