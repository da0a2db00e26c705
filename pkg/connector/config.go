// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/util/exslices"
	"gopkg.in/yaml.v3"

	"github.com/aiku/chat-bridge/pkg/connector/discord"
	"github.com/aiku/chat-bridge/pkg/connector/irc"
)

//go:embed example-config.yaml
var ExampleConfig string

// DefaultAdminAPIAddr is used when the config file does not set
// admin_api_addr at all.
const DefaultAdminAPIAddr = "127.0.0.1:29330"

// moduleSections are the top-level sections whose absence disables a module.
var moduleSections = []string{"irc", "discord"}

// Config is the bridge configuration. A nil module section means that
// module is not configured.
type Config struct {
	IRC          *IRCConfig     `yaml:"irc"`
	Discord      *DiscordConfig `yaml:"discord"`
	AdminAPIAddr string         `yaml:"admin_api_addr"`
	Logging      LoggingConfig  `yaml:"logging"`
}

// IRCConfig configures the IRC connection and what is relayed to IRC.
type IRCConfig struct {
	Server       string   `yaml:"server"`
	Port         int      `yaml:"port"`
	TLS          bool     `yaml:"tls"`
	Nick         string   `yaml:"nick"`
	Realname     string   `yaml:"realname"`
	Channel      string   `yaml:"channel"`
	SASLUsername string   `yaml:"sasl_username"`
	SASLPassword string   `yaml:"sasl_password"`
	IgnoreUsers  []string `yaml:"ignore_users"`

	RelayEdits        bool `yaml:"relay_edits"`
	RelayDeletes      bool `yaml:"relay_deletes"`
	RelayReactions    bool `yaml:"relay_reactions"`
	RelayAttachments  bool `yaml:"relay_attachments"`
	TranslateMarkdown bool `yaml:"translate_markdown"`

	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

// DiscordConfig configures the Discord bot and what is relayed to Discord.
type DiscordConfig struct {
	Token          string   `yaml:"token"`
	GuildID        string   `yaml:"guild_id"`
	ChannelID      string   `yaml:"channel_id"`
	IgnoreUsers    []string `yaml:"ignore_users"`
	EscapeMarkdown bool     `yaml:"escape_markdown"`
}

type LoggingConfig struct {
	MinLevel      string        `yaml:"min_level"`
	EventMinLevel string        `yaml:"event_min_level"`
	SyslogTag     string        `yaml:"syslog_tag"`
	File          FileLogConfig `yaml:"file"`

	minLevel      zerolog.Level `yaml:"-"`
	eventMinLevel zerolog.Level `yaml:"-"`
}

// FileLogConfig configures the rotating log file. Sizes are in megabytes
// and ages in days.
type FileLogConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	raw := rawConfig{AdminAPIAddr: DefaultAdminAPIAddr}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*c = Config(raw)
	return nil
}

// PostProcess validates the config and normalises the ignore lists.
func (c *Config) PostProcess() error {
	var errs []error
	if c.IRC != nil {
		errs = append(errs, c.IRC.postProcess())
	}
	if c.Discord != nil {
		errs = append(errs, c.Discord.postProcess())
	}
	errs = append(errs, c.Logging.postProcess())
	return errors.Join(errs...)
}

func (c *IRCConfig) postProcess() error {
	var errs []error
	if c.Server == "" {
		errs = append(errs, errors.New("irc.server is required"))
	}
	if c.Nick == "" {
		errs = append(errs, errors.New("irc.nick is required"))
	}
	if c.Channel == "" || !strings.ContainsRune("#&+!", rune(c.Channel[0])) {
		errs = append(errs, fmt.Errorf("irc.channel %q is not a channel name", c.Channel))
	}
	if c.Port == 0 {
		c.Port = 6667
		if c.TLS {
			c.Port = 6697
		}
	} else if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("irc.port %d is out of range", c.Port))
	}
	if c.SASLUsername != "" && c.SASLPassword == "" {
		errs = append(errs, errors.New("irc.sasl_password is required when irc.sasl_username is set"))
	}
	if c.MessagesPerSecond < 0 || c.Burst < 0 {
		errs = append(errs, errors.New("irc.messages_per_second and irc.burst must not be negative"))
	}
	c.IgnoreUsers = normaliseList(c.IgnoreUsers, strings.ToLower)
	return errors.Join(errs...)
}

func (c *DiscordConfig) postProcess() error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if c.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}
	if c.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id is required"))
	}
	c.IgnoreUsers = normaliseList(c.IgnoreUsers, nil)
	return errors.Join(errs...)
}

func (c *LoggingConfig) postProcess() error {
	var err error
	if c.minLevel, err = parseLevel(c.MinLevel, zerolog.InfoLevel); err != nil {
		return fmt.Errorf("invalid logging.min_level: %w", err)
	}
	if c.eventMinLevel, err = parseLevel(c.EventMinLevel, zerolog.WarnLevel); err != nil {
		return fmt.Errorf("invalid logging.event_min_level: %w", err)
	}
	return nil
}

func parseLevel(name string, def zerolog.Level) (zerolog.Level, error) {
	if name == "" {
		return def, nil
	}
	return zerolog.ParseLevel(strings.ToLower(name))
}

// normaliseList trims entries, drops empty ones and removes duplicates.
func normaliseList(list []string, transform func(string) string) []string {
	out := exslices.CastFuncFilter(list, func(item string) (string, bool) {
		item = strings.TrimSpace(item)
		if transform != nil {
			item = transform(item)
		}
		return item, item != ""
	})
	return exslices.DeduplicateUnsorted(out)
}

// ClientConfig returns the connection settings of the IRC client.
func (c *IRCConfig) ClientConfig() irc.Config {
	return irc.Config{
		Server:            c.Server,
		Port:              c.Port,
		TLS:               c.TLS,
		Nick:              c.Nick,
		Realname:          c.Realname,
		Channel:           c.Channel,
		SASLUsername:      c.SASLUsername,
		SASLPassword:      c.SASLPassword,
		IgnoreUsers:       slices.Clone(c.IgnoreUsers),
		MessagesPerSecond: c.MessagesPerSecond,
		Burst:             c.Burst,
	}
}

// RelayOptions returns the switches of the IRC destination.
func (c *IRCConfig) RelayOptions() irc.RelayOptions {
	return irc.RelayOptions{
		RelayEdits:        c.RelayEdits,
		RelayDeletes:      c.RelayDeletes,
		RelayReactions:    c.RelayReactions,
		RelayAttachments:  c.RelayAttachments,
		TranslateMarkdown: c.TranslateMarkdown,
	}
}

func (c *DiscordConfig) ClientConfig() discord.Config {
	return discord.Config{
		Token:       c.Token,
		GuildID:     c.GuildID,
		ChannelID:   c.ChannelID,
		IgnoreUsers: slices.Clone(c.IgnoreUsers),
	}
}

func (c *DiscordConfig) RelayOptions() discord.RelayOptions {
	return discord.RelayOptions{EscapeMarkdown: c.EscapeMarkdown}
}

func upgradeConfig(helper up.Helper) {
	if helper.GetNode("irc") != nil {
		helper.Copy(up.Str, "irc", "server")
		helper.Copy(up.Int, "irc", "port")
		helper.Copy(up.Bool, "irc", "tls")
		helper.Copy(up.Str, "irc", "nick")
		helper.Copy(up.Str, "irc", "realname")
		helper.Copy(up.Str, "irc", "channel")
		helper.Copy(up.Str, "irc", "sasl_username")
		helper.Copy(up.Str, "irc", "sasl_password")
		helper.Copy(up.List, "irc", "ignore_users")
		helper.Copy(up.Bool, "irc", "relay_edits")
		helper.Copy(up.Bool, "irc", "relay_deletes")
		helper.Copy(up.Bool, "irc", "relay_reactions")
		helper.Copy(up.Bool, "irc", "relay_attachments")
		helper.Copy(up.Bool, "irc", "translate_markdown")
		helper.Copy(up.Int|up.Float, "irc", "messages_per_second")
		helper.Copy(up.Int, "irc", "burst")
	}
	if helper.GetNode("discord") != nil {
		helper.Copy(up.Str, "discord", "token")
		helper.Copy(up.Str|up.Int, "discord", "guild_id")
		helper.Copy(up.Str|up.Int, "discord", "channel_id")
		helper.Copy(up.List, "discord", "ignore_users")
		helper.Copy(up.Bool, "discord", "escape_markdown")
	}
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Str, "logging", "min_level")
	helper.Copy(up.Str, "logging", "event_min_level")
	helper.Copy(up.Str, "logging", "syslog_tag")
	helper.Copy(up.Str, "logging", "file", "path")
	helper.Copy(up.Int, "logging", "file", "max_size")
	helper.Copy(up.Int, "logging", "file", "max_backups")
	helper.Copy(up.Int, "logging", "file", "max_age")
	helper.Copy(up.Bool, "logging", "file", "compress")
}

// upgradeBase returns the example config minus the module sections that
// the user's config does not have, so that upgrading never enables a
// module. It also returns the top-level keys that should be preceded by a
// blank line.
func upgradeBase(userConfig []byte) (string, [][]string, error) {
	var user yaml.Node
	if err := yaml.Unmarshal(userConfig, &user); err != nil {
		return "", nil, fmt.Errorf("failed to parse config: %w", err)
	}
	present := map[string]bool{}
	if len(user.Content) > 0 {
		root := user.Content[0]
		if root.Kind != yaml.MappingNode {
			return "", nil, errors.New("config root must be a mapping")
		}
		for i := 0; i+1 < len(root.Content); i += 2 {
			present[root.Content[i].Value] = true
		}
	}

	var base yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &base); err != nil {
		return "", nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	root := base.Content[0]
	var kept []*yaml.Node
	var blocks [][]string
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if slices.Contains(moduleSections, key) && !present[key] {
			continue
		}
		if len(kept) > 0 {
			blocks = append(blocks, []string{key})
		}
		kept = append(kept, root.Content[i], root.Content[i+1])
	}
	root.Content = kept
	out, err := yaml.Marshal(&base)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal example config: %w", err)
	}
	return string(out), blocks, nil
}

// LoadConfig reads the config file, fills in missing keys from the example
// config and validates the result. When save is set the upgraded config is
// written back to path.
func LoadConfig(path string, save bool) (*Config, error) {
	userConfig, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	base, blocks, err := upgradeBase(userConfig)
	if err != nil {
		return nil, err
	}
	data, _, err := up.Do(path, save, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         blocks,
		Base:           base,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
