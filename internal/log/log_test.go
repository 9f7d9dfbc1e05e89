package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{})

	logger.Info("entry saved", "entry_id", "e1")

	line := buf.String()
	if !strings.Contains(line, "entry saved") || !strings.Contains(line, "entry_id=e1") {
		t.Fatalf("text line = %q", line)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{JSON: true})

	logger.Warn("slow query", "duration_ms", 120)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not one JSON object: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "slow query" || rec["level"] != "WARN" {
		t.Fatalf("record = %v", rec)
	}
	if rec["duration_ms"] != float64(120) {
		t.Fatalf("duration_ms = %v", rec["duration_ms"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelWarn})

	logger.Debug("below threshold")
	logger.Info("below threshold too")
	logger.Warn("kept")
	logger.Error("also kept")

	out := buf.String()
	if strings.Contains(out, "below threshold") {
		t.Fatalf("records below warn leaked: %s", out)
	}
	if !strings.Contains(out, "kept") || !strings.Contains(out, "also kept") {
		t.Fatalf("warn/error records missing: %s", out)
	}
}

func TestWithCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{}).With("component", "intake")

	logger.Info("stored")

	if !strings.Contains(buf.String(), "component=intake") {
		t.Fatalf("derived logger lost its attribute: %s", buf.String())
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := NewNop()
	if logger == nil {
		t.Fatal("NewNop returned nil")
	}
	// Must be safe to log at any level.
	logger.Debug("dropped")
	logger.Error("dropped", "error", "ignored")
}
