package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "tapd", "test", slog.LevelInfo)
	logger.Info("receipt stored", slog.String("allocation_id", "0xdead"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "receipt stored", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "tapd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "0xdead", line["allocation_id"])
	require.Contains(t, line, "timestamp")
}

func TestNewHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "tapd", "", slog.LevelWarn)
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Contains(t, buf.String(), "kept")
	require.NotContains(t, buf.String(), `"env"`)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)

	_, err = ParseLevel("verbose")
	require.Error(t, err)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("passphrase", "hunter2").Value.String())
	require.Equal(t, "0xdead", MaskField("allocation_id", "0xdead").Value.String())
	require.Equal(t, "", MaskField("passphrase", "").Value.String())
	require.Contains(t, RedactionAllowlist(), "sender")
}

func TestRedactDSN(t *testing.T) {
	require.Equal(t, "postgres://indexer:xxxxx@db:5432/indexer?sslmode=disable",
		RedactDSN("postgres://indexer:secret@db:5432/indexer?sslmode=disable"))
	require.Equal(t, "postgres://db:5432/indexer", RedactDSN("postgres://db:5432/indexer"))
	require.Equal(t, RedactedValue, RedactDSN("host=db password=secret"))
	require.Equal(t, "", RedactDSN(""))
}
