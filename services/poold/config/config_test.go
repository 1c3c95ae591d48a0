package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :7000 "
env: dev
tls:
  allow_insecure: true
auth:
  enabled: false
  optional_paths: [" /v1/pool/stats ", " "]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.ListenAddress)
	require.Equal(t, defaultDataDir, cfg.DataDir)
	require.Equal(t, defaultParams, cfg.ParamsFile)
	require.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, []string{"/v1/pool/stats"}, cfg.Auth.OptionalPaths)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew)
	require.False(t, cfg.TLS.TLSEnabled())
}

func TestLoadConfigReadsSecretFromEnv(t *testing.T) {
	t.Setenv("POOLD_TEST_SECRET", " s3cret ")
	path := writeConfig(t, `
tls:
  cert: server.crt
  key: server.key
auth:
  enabled: true
  hmac_secret_env: POOLD_TEST_SECRET
  clock_skew: 30s
rate_limit:
  rate_per_second: 5
  burst: 10
logging:
  level: DEBUG
  file: /var/log/poold.log
  max_size_mb: 50
telemetry:
  traces: true
  sample_ratio: 0.25
  headers:
    api-key: abc
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Auth.HMACSecret)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew)
	require.Equal(t, 5.0, cfg.RateLimit.RatePerSecond)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 0.25, cfg.Telemetry.SampleRatio)
	require.Equal(t, "abc", cfg.Telemetry.Headers["api-key"])
	require.True(t, cfg.TLS.TLSEnabled())
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]string{
		"auth disabled outside dev": `
tls: {allow_insecure: true}
auth: {enabled: false}
`,
		"missing secret": `
tls: {allow_insecure: true}
auth: {enabled: true}
`,
		"half tls": `
tls: {cert: server.crt}
auth: {enabled: true, hmac_secret: x}
`,
		"plaintext not allowed": `
auth: {enabled: true, hmac_secret: x}
`,
		"negative rate": `
env: dev
tls: {allow_insecure: true}
rate_limit: {rate_per_second: -1}
`,
		"sample ratio": `
env: dev
tls: {allow_insecure: true}
telemetry: {sample_ratio: 2}
`,
		"unknown field": `
env: dev
tls: {allow_insecure: true}
colour: blue
`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, contents))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigRequiresPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}
