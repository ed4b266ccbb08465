package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, "sensor-bridge", "warn", "json")

	l.Info().Msg("hidden")
	l.Warn().Str("topic", "sensors/x").Msg("shown")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "shown" || line["service"] != "sensor-bridge" || line["topic"] != "sensors/x" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, "svc", "loud", "")
	l.Debug().Msg("debug")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at default level, got %q", buf.String())
	}
	l.Info().Msg("info")
	if buf.Len() == 0 {
		t.Fatalf("info should be logged at default level")
	}
}
