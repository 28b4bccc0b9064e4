package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", "json", &buf)

	logger.Info().Msg("dropped")
	logger.Warn().Str("symbol", "AAPL").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["message"] != "kept" || entry["symbol"] != "AAPL" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_ConsoleDefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("", "console", &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug written at default level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("info missing: %q", out)
	}
}
