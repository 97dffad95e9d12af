package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sar/internal/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(config.LogConfig{Level: "debug", Format: "json"}, "sar-api", &buf)

	log.WithField("module", "schedules").Debug("loaded")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sar-api", line["service"])
	assert.Equal(t, "schedules", line["module"])
	assert.Equal(t, "loaded", line["msg"])
	assert.Equal(t, "debug", line["level"])
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	log := NewWithOutput(config.LogConfig{Level: "chatty", Format: "text"}, "sar", &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, log.Logger.GetLevel())
}
