// Copyright 2024-2026 Aiku AI

package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRestartDelay is how long Supervise waits before restarting a task.
const DefaultRestartDelay = 1 * time.Second

// Supervise runs task until ctx is cancelled. Whenever the task returns or
// panics it is restarted after delay.
func Supervise(ctx context.Context, log zerolog.Logger, name string, delay time.Duration, task func(ctx context.Context) error) {
	if delay <= 0 {
		delay = DefaultRestartDelay
	}
	log = log.With().Str("task", name).Logger()
	for {
		err := runGuarded(ctx, task)
		if ctx.Err() != nil {
			log.Debug().Msg("Task stopped")
			return
		}
		if err != nil {
			log.Error().Err(err).Dur("restart_in", delay).Msg("Task failed, restarting")
		} else {
			log.Warn().Dur("restart_in", delay).Msg("Task exited unexpectedly, restarting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func runGuarded(ctx context.Context, task func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}
