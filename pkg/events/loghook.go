// Copyright 2024-2026 Aiku AI

package events

import (
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// SourceLogging is the source tag of internal_log events.
const SourceLogging = "logging"

// LogHook is a zerolog hook that republishes log records as internal_log
// events. Loggers used by the Dispatcher and by destination plumbing must
// not carry this hook.
type LogHook struct {
	dispatcher *Dispatcher
	minLevel   zerolog.Level
}

var _ zerolog.Hook = (*LogHook)(nil)

func NewLogHook(dispatcher *Dispatcher, minLevel zerolog.Level) *LogHook {
	return &LogHook{dispatcher: dispatcher, minLevel: minLevel}
}

func (h *LogHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if h == nil || h.dispatcher == nil || level == zerolog.NoLevel || level < h.minLevel {
		return
	}
	file, line := logCaller()
	h.dispatcher.Dispatch(SourceLogging, NewInternalLog(level.String(), file, line, msg, nil))
}

// logCaller finds the first stack frame outside zerolog and this file.
func logCaller() (string, int) {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, "github.com/rs/zerolog") &&
			!strings.HasSuffix(frame.Function, "events.(*LogHook).Run") {
			return frame.File, frame.Line
		}
		if !more {
			return "", 0
		}
	}
}
