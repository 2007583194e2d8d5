package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/consume/logging"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestZerologKeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "debug")

	log.Info("event processed", "messageId", "abc", "retries", 2, "error", errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "event processed", lines[0]["message"])
	assert.Equal(t, "abc", lines[0]["messageId"])
	assert.Equal(t, float64(2), lines[0]["retries"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestZerologLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "warn")

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("shown too")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["level"])
}

func TestZerologOddArguments(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, "nonsense")

	log.Info("odd", 42, "answer", "dangling")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "answer", lines[0]["42"])
	assert.Equal(t, "dangling", lines[0]["!BADKEY"])
}
