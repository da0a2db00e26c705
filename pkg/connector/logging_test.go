// Copyright 2024-2026 Aiku AI

package connector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// NewLogger sets zerolog globals, so these tests do not run in parallel.

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	cfg := LoggingConfig{MinLevel: "warn", File: FileLogConfig{Path: path, MaxSize: 1}}
	log, err := NewLogger(cfg, LogFlags{NoLocal: true, NoSyslog: true})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("visible")
	if err = log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level:\n%s", out)
	}
	if !strings.Contains(out, `"message":"visible"`) || !strings.Contains(out, `"component":"test"`) {
		t.Errorf("warn record missing from log file:\n%s", out)
	}
}

func TestNewLoggerVerbose(t *testing.T) {
	log, err := NewLogger(LoggingConfig{MinLevel: "error"}, LogFlags{Verbose: true, NoLocal: true, NoSyslog: true})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer log.Close()
	if got := log.GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("level: got %v, want debug", got)
	}
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger(LoggingConfig{MinLevel: "chatty"}, LogFlags{NoLocal: true, NoSyslog: true})
	if err == nil || !strings.Contains(err.Error(), "logging.min_level") {
		t.Errorf("got %v, want a min_level error", err)
	}
}
