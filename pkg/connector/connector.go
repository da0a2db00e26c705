// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aiku/chat-bridge/pkg/connector/discord"
	"github.com/aiku/chat-bridge/pkg/connector/irc"
	"github.com/aiku/chat-bridge/pkg/events"
)

// SourceConfig tags config_reload events.
const SourceConfig = "config"

var (
	ErrNoModules  = errors.New("neither irc nor discord is configured")
	ErrNotStarted = errors.New("bridge is not running")
)

// Connector owns the two platform adapters, the dispatcher between them and
// the operational surfaces around it.
type Connector struct {
	configPath string
	log        zerolog.Logger
	config     atomic.Pointer[Config]

	dispatcher *events.Dispatcher
	metrics    *Metrics
	irc        *irc.Client
	ircRelay   *irc.Relay
	discord    *discord.Client
	queues     []*events.Destination

	reloadMu      sync.Mutex
	reloadLimiter *rate.Limiter
	started       atomic.Bool
	running       atomic.Bool
	wg            sync.WaitGroup
}

// New creates a connector for an already loaded config. configPath is
// re-read on Reload; an empty path disables reloading and the file watcher.
// The logger must not carry a hook that dispatches events.
func New(cfg *Config, configPath string, log zerolog.Logger) *Connector {
	c := &Connector{
		configPath:    configPath,
		log:           log,
		reloadLimiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	c.config.Store(cfg)
	return c
}

// Config returns the active configuration.
func (c *Connector) Config() *Config {
	return c.config.Load()
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// Start builds the configured modules and starts every loop in the
// background. The loops stop when ctx is cancelled; Wait blocks until they
// have.
func (c *Connector) Start(ctx context.Context) error {
	cfg := c.config.Load()
	if cfg.IRC == nil && cfg.Discord == nil {
		return ErrNoModules
	}
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("bridge already started")
	}

	c.metrics = NewMetrics()
	c.dispatcher = events.NewDispatcher(c.log)
	c.dispatcher.SetObserver(c.metrics)
	c.dispatcher.RegisterTarget(c.metrics)
	log := c.log.Hook(events.NewLogHook(c.dispatcher, cfg.Logging.EventLevel()))

	var tasks []task
	var destinations []*events.Destination
	if cfg.IRC == nil {
		log.Warn().Msg("No irc section in config, IRC side disabled")
	} else {
		c.irc = irc.NewClient(cfg.IRC.ClientConfig(), c.dispatcher, log)
		c.ircRelay = irc.NewRelay(cfg.IRC.Channel, c.irc, c.irc, c.ircRelayOptions, log)
		destinations = append(destinations, events.NewDestination(irc.TargetName, c.ircRelay.Accept, c.ircRelay, c.log))
		tasks = append(tasks, task{"irc_client", c.irc.Run})
	}
	if cfg.Discord == nil {
		log.Warn().Msg("No discord section in config, Discord side disabled")
	} else {
		client, err := discord.NewClient(cfg.Discord.ClientConfig(), c.dispatcher, log)
		if err != nil {
			return err
		}
		c.discord = client
		relay := discord.NewRelay(client, client, c.discordRelayOptions, log)
		destinations = append(destinations, events.NewDestination(discord.TargetName, relay.Accept, relay, c.log))
		tasks = append(tasks, task{"discord_client", client.Run})
	}
	if c.ircRelay != nil && c.discord != nil {
		c.ircRelay.SetDirectory(c.discord)
	}
	c.queues = destinations

	for _, dest := range destinations {
		dest.SetObserver(c.metrics)
		c.metrics.TrackQueue(dest.Name(), dest.Pending)
		c.dispatcher.RegisterTarget(dest)
		tasks = append(tasks, task{"destination_" + dest.Name(), dest.Run})
	}
	if c.configPath != "" {
		tasks = append(tasks, task{"config_watcher", func(ctx context.Context) error {
			return WatchConfig(ctx, c.configPath, c.log, func(ctx context.Context) {
				_ = c.Reload(ctx)
			})
		}})
	}
	for _, t := range tasks {
		c.wg.Go(func() {
			events.Supervise(ctx, c.log, t.name, events.DefaultRestartDelay, t.run)
		})
	}
	if cfg.AdminAPIAddr != "" {
		c.startAdminAPI(ctx, cfg.AdminAPIAddr)
	}
	c.running.Store(true)
	log.Info().
		Bool("irc", c.irc != nil).
		Bool("discord", c.discord != nil).
		Msg("Bridge started")
	return nil
}

// Wait blocks until every loop started by Start has returned.
func (c *Connector) Wait() {
	c.wg.Wait()
}

func (c *Connector) ircRelayOptions() irc.RelayOptions {
	if cfg := c.config.Load(); cfg.IRC != nil {
		return cfg.IRC.RelayOptions()
	}
	return irc.RelayOptions{}
}

func (c *Connector) discordRelayOptions() discord.RelayOptions {
	if cfg := c.config.Load(); cfg.Discord != nil {
		return cfg.Discord.RelayOptions()
	}
	return discord.RelayOptions{EscapeMarkdown: true}
}

// Reload re-reads the config file, swaps it in and tells every destination
// to refresh its options. Settings that need a new connection are only
// applied after a restart, which is logged as a warning.
func (c *Connector) Reload(ctx context.Context) error {
	if !c.running.Load() {
		return ErrNotStarted
	}
	if c.configPath == "" {
		return errors.New("no config file to reload")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	cfg, err := LoadConfig(c.configPath, false)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to reload config, keeping the current one")
		return fmt.Errorf("failed to reload config: %w", err)
	}
	old := c.config.Swap(cfg)

	restart := (old.IRC == nil) != (cfg.IRC == nil) ||
		(old.Discord == nil) != (cfg.Discord == nil) ||
		old.AdminAPIAddr != cfg.AdminAPIAddr ||
		old.Logging != cfg.Logging
	if c.irc != nil && cfg.IRC != nil && c.irc.Reconfigure(cfg.IRC.ClientConfig()) {
		restart = true
	}
	if c.discord != nil && cfg.Discord != nil && c.discord.Reconfigure(cfg.Discord.ClientConfig()) {
		restart = true
	}

	c.dispatcher.Dispatch(SourceConfig, events.NewConfigReload())
	c.log.Info().Msg("Reloaded config")
	if restart {
		c.log.Warn().Msg("Connection or logging settings changed, restart the bridge to apply them")
	}
	return nil
}

// health reports which adapters are currently connected and how many
// events each destination still has to relay.
func (c *Connector) health() healthResponse {
	resp := healthResponse{Status: "ok", Queues: make(map[string]int, len(c.queues))}
	for _, dest := range c.queues {
		resp.Queues[dest.Name()] = dest.Pending()
	}
	if c.irc != nil {
		resp.IRC = c.irc.Connected()
	}
	if c.discord != nil {
		resp.Discord = c.discord.Connected()
	}
	return resp
}

func (c *Connector) startAdminAPI(ctx context.Context, addr string) {
	server := &http.Server{
		Addr:         addr,
		Handler:      c.AdminHandler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	c.wg.Go(func() {
		c.log.Info().Str("addr", addr).Msg("Starting bridge admin API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error().Err(err).Msg("Bridge admin API error")
		}
	})
	c.wg.Go(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.log.Warn().Err(err).Msg("Failed to shut down admin API")
		}
	})
}
