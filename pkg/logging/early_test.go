package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEarlyLog_WritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	exitCode := -1
	l := &EarlyLog{service: "relay-service", out: &buf, exit: func(code int) { exitCode = code }}

	l.Warn("Failed to load env file %s", ".env")
	l.Fatal("boom")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]string
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "warn", first["level"])
	assert.Equal(t, "Failed to load env file .env", first["message"])
	assert.Equal(t, "relay-service", first["service_name"])
	assert.NotEmpty(t, first["timestamp"])

	assert.Equal(t, 1, exitCode)
}
