package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	Reconfigure(Config{Level: "debug", Output: buf, Service: "loris-test", Version: "test"})
	t.Cleanup(func() {
		Reconfigure(Config{Level: "debug", Service: "loris-test"})
	})
	return buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestBaseCarriesServiceAndVersion(t *testing.T) {
	buf := capture(t)

	logger := Base()
	logger.Info().Msg("hello")

	entry := lastLine(t, buf)
	assert.Equal(t, "loris-test", entry["service"])
	assert.Equal(t, "test", entry["version"])
	assert.Equal(t, "hello", entry["message"])
	assert.NotEmpty(t, entry["time"])
}

func TestWithComponent(t *testing.T) {
	buf := capture(t)

	logger := WithComponent("data")
	logger.Debug().Str(FieldConnectorID, "home.db").Msg("reading")

	entry := lastLine(t, buf)
	assert.Equal(t, "data", entry[FieldComponent])
	assert.Equal(t, "home.db", entry[FieldConnectorID])
}

func TestDerive(t *testing.T) {
	buf := capture(t)

	logger := Derive(func(ctx *zerolog.Context) {
		*ctx = ctx.Str(FieldSystemID, "home")
	})
	logger.Info().Msg("derived")

	entry := lastLine(t, buf)
	assert.Equal(t, "home", entry[FieldSystemID])
}
