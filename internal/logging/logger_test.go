package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandlerLiftsComponent(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	NewComponentLogger(logger, "capture").Info("stream opened", Int("sample_rate", 44100))

	line := buf.String()
	if !strings.Contains(line, " INFO capture: stream opened") {
		t.Fatalf("component not lifted into prefix: %q", line)
	}
	if !strings.Contains(line, "sample_rate=44100") {
		t.Fatalf("attr missing: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should not repeat as attr: %q", line)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger.Warn("upload retry", String("reason", "connection reset"))

	if !strings.Contains(buf.String(), `reason="connection reset"`) {
		t.Fatalf("expected quoted value: %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != slog.LevelDebug {
		t.Fatal("debug level not parsed")
	}
	if parseLevel("") != slog.LevelInfo {
		t.Fatal("empty level should default to info")
	}
}
