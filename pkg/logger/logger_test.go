package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLoggerWith(&buf, "info", "json").With("method", "cnn_faiss")

	log.Debugf("hidden %d", 1)
	log.Errorf(errors.New("disk full"), "snapshot %d failed", 7)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "snapshot 7 failed", entry["msg"])
	assert.Equal(t, "disk full", entry["error"])
	assert.Equal(t, "cnn_faiss", entry["method"])
}

func TestParseLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLoggerWith(&buf, "WARN", "text")

	log.Infof("skipped")
	assert.Empty(t, buf.String())

	log.Warnf("kept")
	assert.Contains(t, buf.String(), "kept")
}
