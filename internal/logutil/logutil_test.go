package logutil

import (
	"bytes"
	"strings"
	"testing"

	log "github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"", log.InfoLevel},
		{"debug", log.DebugLevel},
		{"TRACE", log.DebugLevel},
		{" warn ", log.WarnLevel},
		{"warning", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"  Error\n", log.ErrorLevel},
		{"\tINFO", log.InfoLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseLevel("chatty"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewWithWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "warn")
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}

	logger.Info("hidden message")
	logger.Warn("cache write failed", "table", "prices")

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Errorf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "cache write failed") || !strings.Contains(out, "table=prices") {
		t.Errorf("warn line missing: %q", out)
	}
}
