package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextOutputContainsFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Info("session active",
		KeySession, "FIX.4.4:BANZAI->EXEC",
		KeySeqNum, 5)

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "session active")
	assert.Contains(t, out, "session=FIX.4.4:BANZAI->EXEC")
	assert.Contains(t, out, "seq_num=5")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")

	Debug("hidden debug")
	Info("hidden info")
	Warn("visible warn")
	Error("visible error")

	out := buf.String()
	assert.NotContains(t, out, "hidden debug")
	assert.NotContains(t, out, "hidden info")
	assert.Contains(t, out, "visible warn")
	assert.Contains(t, out, "visible error")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	Info("message sent", KeyMsgType, "D", KeySeqNum, 12)

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "message sent", record["msg"])
	assert.Equal(t, "D", record[KeyMsgType])
	assert.Equal(t, float64(12), record[KeySeqNum])
}

func TestContextBoundFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	ctx := WithContext(t.Context(), NewLogContext("FIX.4.4:A->B", "10.0.0.1:4242"))
	InfoCtx(ctx, "inbound gap", KeyExpected, 5)

	out := buf.String()
	assert.Contains(t, out, "session=FIX.4.4:A->B")
	assert.Contains(t, out, "client_addr=10.0.0.1:4242")
	assert.Contains(t, out, "expected=5")
}

func TestInvalidLevelIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")
	SetLevel("NONSENSE")

	Info("still works")
	assert.Contains(t, buf.String(), "still works")
}
