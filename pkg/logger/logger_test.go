package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("switch", "debug", &buf)

	log.Info("Uplink ready", map[string]interface{}{"uplink_id": "abc"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Uplink ready", entry["message"])
	assert.Equal(t, "switch", entry["service"])
	assert.Equal(t, "abc", entry["uplink_id"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "timestamp")
}

func TestJSONLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("switch", "warn", &buf)

	log.Debug("hidden", nil)
	log.Info("hidden", nil)
	assert.Zero(t, buf.Len())

	log.Warn("shown", nil)
	assert.NotZero(t, buf.Len())
}
