package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerLevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LogLevelWarn)

	l.Debug("building reasoning plan")
	l.Info("dispatching to %s", "capi_gus")
	l.Warn("node %s timed out", "capi_datab")
	l.Error("turn failed: %v", "deadline exceeded")

	out := buf.String()
	assert.NotContains(t, out, "reasoning plan")
	assert.NotContains(t, out, "capi_gus")
	assert.Contains(t, out, "[WARN] node capi_datab timed out")
	assert.Contains(t, out, "[ERROR] turn failed: deadline exceeded")
}

func TestWriterLoggerNoneSilencesEverything(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LogLevelNone)

	l.Error("should not appear")
	assert.Zero(t, buf.Len())
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "NONE", LogLevelNone.String())
	assert.Equal(t, "LogLevel(42)", LogLevel(42).String())
}

func TestForTurnPrefixesSessionAndTrace(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger(&buf, LogLevelDebug)

	turn := ForTurn(base, "sess-23", "trace-7f")
	turn.Info("routing to %s", "branch")

	line := buf.String()
	assert.Contains(t, line, "session=sess-23 trace=trace-7f routing to branch")
}

func TestForTurnNilBaseFallsBackToDefault(t *testing.T) {
	turn := ForTurn(nil, "sess-1", "trace-1")
	require.NotNil(t, turn)
	// Must not panic writing through the process default.
	turn.Debug("noop at default info level")
}

func TestSetDefaultLogger(t *testing.T) {
	prev := GetDefaultLogger()
	defer SetDefaultLogger(prev)

	var buf bytes.Buffer
	SetDefaultLogger(NewWriterLogger(&buf, LogLevelInfo))
	GetDefaultLogger().Info("registry refreshed, %d agents enabled", 8)
	assert.True(t, strings.Contains(buf.String(), "8 agents enabled"))

	// nil is ignored rather than installed.
	SetDefaultLogger(nil)
	require.NotNil(t, GetDefaultLogger())
}
