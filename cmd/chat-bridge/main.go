// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command chat-bridge relays messages between one IRC channel and one
// Discord channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "maunium.net/go/mauflag"

	"github.com/aiku/chat-bridge/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath     = flag.MakeFull("c", "config", "The path to your config file.", "").String()
	verbose        = flag.MakeFull("v", "verbose", "Log at debug level.", "false").Bool()
	noLocalLogging = flag.Make().LongKey("no-local-logging").Usage("Don't log to stdout.").Default("false").Bool()
	noSyslog       = flag.Make().LongKey("no-syslog-logging").Usage("Don't log to syslog.").Default("false").Bool()
	logToFile      = flag.Make().LongKey("log-to-file").Usage("Also log to a timestamped file in the working directory.").Default("false").Bool()
	dontSaveConfig = flag.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
	writeExample   = flag.MakeFull("e", "generate-example-config", "Save the example config to the config path and quit.", "false").Bool()
	version        = flag.Make().LongKey("version").Usage("View bridge version and quit.").Default("false").Bool()
	wantHelp, _    = flag.MakeHelpFlag()
)

func versionString() string {
	return fmt.Sprintf("chat-bridge %s (commit %s, built %s)", Tag, Commit, BuildTime)
}

func main() {
	flag.SetHelpTitles(
		"chat-bridge - An IRC and Discord chat bridge.",
		"chat-bridge [-hvne] -c <path> [--no-local-logging] [--no-syslog-logging] [--log-to-file]",
	)
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *version {
		fmt.Println(versionString())
		return
	}
	if *configPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "The config path is required (-c/--config)")
		flag.PrintHelp()
		os.Exit(1)
	}
	if *writeExample {
		if err := os.WriteFile(*configPath, []byte(connector.ExampleConfig), 0o600); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote example config to", *configPath)
		return
	}
	os.Exit(run())
}

func run() int {
	cfg, err := connector.LoadConfig(*configPath, !*dontSaveConfig)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		return 10
	}
	logger, err := connector.NewLogger(cfg.Logging, connector.LogFlags{
		Verbose:   *verbose,
		NoLocal:   *noLocalLogging,
		NoSyslog:  *noSyslog,
		LogToFile: *logToFile,
	})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to set up logging:", err)
		return 11
	}
	defer func() {
		_ = logger.Close()
	}()
	log := logger.Logger
	log.Info().Str("version", Tag).Str("commit", Commit).Str("built_at", BuildTime).Msg("Starting chat-bridge")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridge := connector.New(cfg, *configPath, log)
	if err = bridge.Start(ctx); err != nil {
		if errors.Is(err, connector.ErrNoModules) {
			log.Error().Msg("Neither irc nor discord is configured, nothing to bridge")
		} else {
			log.Error().Err(err).Msg("Failed to start bridge")
		}
		return 12
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-hup:
			log.Info().Msg("Received SIGHUP, reloading config")
			_ = bridge.Reload(ctx)
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			bridge.Wait()
			log.Info().Msg("Shutdown complete")
			return 0
		}
	}
}
