package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New("bondd", "test", Options{Level: "debug", Writer: &buf})
	logger.Debug("bond created", slog.String("bond", "0x01"), slog.String("jwt_secret", "hunter2"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "bond created" || line["severity"] != "DEBUG" {
		t.Fatalf("unexpected envelope %v", line)
	}
	if line["service"] != "bondd" || line["env"] != "test" {
		t.Fatalf("missing service attributes %v", line)
	}
	if line["jwt_secret"] != RedactedValue {
		t.Fatalf("expected secret masked, got %v", line["jwt_secret"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp key")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New("bondd", "", Options{Level: "warn", Writer: &buf})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unknown levels default to info")
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("bond", "0x01"); attr.Value.String() != "0x01" {
		t.Fatalf("non sensitive keys pass through")
	}
	if attr := MaskField("journal_dsn", "postgres://u:p@h/db"); attr.Value.String() != RedactedValue {
		t.Fatalf("dsn must be masked")
	}
	if MaskValue("  ") != "  " {
		t.Fatalf("empty values are not masked")
	}
}
