package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Options{Service: "poold", Env: "test", Output: &buf})
	logger.Info("call committed", "operation", "deposit")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "call committed", line["message"])
	require.Equal(t, "poold", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestSetupHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Options{Service: "poold", Level: "warn", Output: &buf})
	logger.Info("hidden")
	require.Zero(t, buf.Len())
	logger.Warn("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestSetupWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poold.log")
	var buf bytes.Buffer
	logger := Setup(Options{Service: "poold", Output: &buf, File: FileOptions{Path: path, MaxSizeMB: 1}})
	logger.Error("disk")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "disk")
	require.Contains(t, buf.String(), "disk")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetupRedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Options{Service: "poold", Output: &buf})
	logger.Info("auth configured",
		"hmac_secret", "hunter2",
		"bearer_token", "abc",
		"profile", `{"name":"x"}`,
		"profile_id", "kyc-1",
		"operation", "request_loan",
		"empty_token", "")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["hmac_secret"])
	require.Equal(t, RedactedValue, line["bearer_token"])
	require.Equal(t, RedactedValue, line["profile"])
	require.Equal(t, "kyc-1", line["profile_id"])
	require.Equal(t, "request_loan", line["operation"])
	require.Equal(t, "", line["empty_token"])
}

func TestSensitive(t *testing.T) {
	require.True(t, Sensitive("Authorization"))
	require.True(t, Sensitive("jwt_secret"))
	require.False(t, Sensitive("profile_digest"))
	require.False(t, Sensitive("caller"))
}
