// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 250 * time.Millisecond

// WatchConfig calls onChange after the config file at path is written,
// created or renamed into place. Bursts of events within reloadDebounce
// produce a single call. The directory is watched rather than the file so
// that editors replacing the file atomically are noticed. WatchConfig
// blocks until ctx is cancelled.
func WatchConfig(ctx context.Context, path string, log zerolog.Logger, onChange func(ctx context.Context)) error {
	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer w.Close()
	if err = w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	log = log.With().Str("component", "config_watcher").Str("path", path).Logger()
	log.Debug().Msg("Watching config file for changes")

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce.Reset(reloadDebounce)
			}
		case <-debounce.C:
			log.Info().Msg("Config file changed, reloading")
			onChange(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Config watcher error")
		}
	}
}
