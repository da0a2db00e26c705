// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"fmt"
	"io"
	"log/syslog"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFlags are the command-line switches that affect logging.
type LogFlags struct {
	Verbose   bool
	NoLocal   bool
	NoSyslog  bool
	LogToFile bool
}

// Logger is the process logger plus the resources its sinks hold open.
type Logger struct {
	zerolog.Logger
	closers []io.Closer
}

// Close releases the file and syslog sinks.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewLogger builds the logger from the logging config and the command-line
// flags. A sink that cannot be opened is skipped with a warning on the
// remaining ones.
func NewLogger(cfg LoggingConfig, flags LogFlags) (*Logger, error) {
	if err := cfg.postProcess(); err != nil {
		return nil, err
	}
	l := &Logger{}
	var writers []io.Writer
	var warnings []error

	if !flags.NoLocal {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMilli})
	}
	if !flags.NoSyslog {
		tag := cfg.SyslogTag
		if tag == "" {
			tag = "chat-bridge"
		}
		sw, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("syslog unavailable: %w", err))
		} else {
			writers = append(writers, zerolog.SyslogLevelWriter(sw))
			l.closers = append(l.closers, sw)
		}
	}
	path := cfg.File.Path
	if path == "" && flags.LogToFile {
		path = fmt.Sprintf("chat-bridge-%s.log", time.Now().Format("20060102-150405"))
	}
	if path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		writers = append(writers, lj)
		l.closers = append(l.closers, lj)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	level := cfg.minLevel
	if flags.Verbose {
		level = zerolog.DebugLevel
	}
	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	exzerolog.SetupDefaults(&l.Logger)
	for _, w := range warnings {
		l.Warn().Err(w).Msg("Log sink disabled")
	}
	return l, nil
}

// EventLevel is the lowest level republished as internal_log events.
func (c LoggingConfig) EventLevel() zerolog.Level {
	return c.eventMinLevel
}
