package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json", "relay-1")

	log.Debug().Msg("hidden")
	log.Info().Str("room", "r1").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "relay-1", line["source"])
	assert.Equal(t, "r1", line["room"])
	assert.Contains(t, line, "time")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "console", "relay")
	log.Debug().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "relay")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.FatalLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in, zerolog.FatalLevel), in)
	}
}
