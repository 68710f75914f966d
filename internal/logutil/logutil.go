package logutil

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
)

// New returns a logger writing to stderr at the given level
func New(levelRaw string) (*log.Logger, error) {
	return NewWithWriter(os.Stderr, levelRaw)
}

// NewWithWriter returns a logger writing to w at the given level
func NewWithWriter(w io.Writer, levelRaw string) (*log.Logger, error) {
	level, err := ParseLevel(levelRaw)
	if err != nil {
		return nil, err
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "gridcache",
	}), nil
}

// Discard returns a logger that drops everything
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// ParseLevel maps a configured level name to a log level. Empty means info.
func ParseLevel(levelRaw string) (log.Level, error) {
	level := strings.ToLower(strings.TrimSpace(levelRaw))
	switch level {
	case "":
		return log.InfoLevel, nil
	case "trace", "trac":
		// The logger has no native trace enum; map trace to most verbose mode.
		return log.DebugLevel, nil
	case "warning":
		return log.WarnLevel, nil
	default:
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return 0, fmt.Errorf("invalid loglevel %q", levelRaw)
		}
		return parsed, nil
	}
}
