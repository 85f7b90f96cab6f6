package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitboard/internal/common/discord"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriters(zerolog.DebugLevel, &buf)

	log.Warn("endpoint rejected", "endpoint", "relay-1", "reason", "html payload")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "endpoint rejected", entry["message"])
	assert.Equal(t, "relay-1", entry["endpoint"])
	assert.Equal(t, "html payload", entry["reason"])
}

func TestErrorKeyUsesErrField(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriters(zerolog.DebugLevel, &buf)

	log.Error("cycle failed", "error", errors.New("all endpoints exhausted"))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "all endpoints exhausted", entry[zerolog.ErrorFieldName])
}

func TestMapFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriters(zerolog.DebugLevel, &buf)

	log.Info("board rendered", map[string]interface{}{"west": 3, "east": 2})

	entry := decodeLine(t, &buf)
	assert.EqualValues(t, 3, entry["west"])
	assert.EqualValues(t, 2, entry["east"])
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriters(zerolog.DebugLevel, &buf).With("component", "transport")

	log.Info("fetching")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "transport", entry["component"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriters(zerolog.WarnLevel, &buf)

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLogLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, ParseLogLevel("nonsense"))
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	log.Info("nothing")
	log.With("k", "v").Error("still nothing")
}

func TestDiscordHookReportsWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	var errOut bytes.Buffer
	hook := &discordHook{client: discord.NewClient(srv.URL), errOut: &errOut}

	// fatal events are sent synchronously
	hook.Run(nil, zerolog.FatalLevel, "cannot bind port")
	assert.Contains(t, errOut.String(), "failed to send log to Discord")
	assert.Contains(t, errOut.String(), "500")

	errOut.Reset()
	hook.Run(nil, zerolog.WarnLevel, "ignored")
	assert.Empty(t, errOut.String())
}
