// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package discord connects the bridge to a single Discord guild channel.
// Client turns gateway events into bridge events and serves live member,
// role and channel lookups; Relay posts IRC lines into the channel.
package discord

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/chat-bridge/pkg/connector/mention"
	"github.com/aiku/chat-bridge/pkg/events"
)

// SourceName tags events produced by the Discord adapter.
const SourceName = "discord"

const (
	stateMessageCount = 500
	auditLogLimit     = 5
	intents           = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent
)

// Config holds the Discord connection settings.
type Config struct {
	Token       string
	GuildID     string
	ChannelID   string
	IgnoreUsers []string
}

func (c Config) connectionChanged(other Config) bool {
	return c.Token != other.Token || c.GuildID != other.GuildID || c.ChannelID != other.ChannelID
}

// restAPI is the part of *discordgo.Session the adapter calls. Tests
// substitute a fake.
type restAPI interface {
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildAuditLog(guildID, userID, beforeID string, actionType, limit int, options ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

type eventDispatcher interface {
	Dispatch(source string, evt events.Event)
}

// Client is the Discord side of the bridge.
type Client struct {
	cfg      Config
	log      zerolog.Logger
	dispatch eventDispatcher
	session  *discordgo.Session
	api      restAPI
	state    *discordgo.State
	ignore   *exsync.Set[string]

	connected atomic.Bool
	botUser   atomic.Pointer[events.User]
}

var _ mention.Directory = (*Client)(nil)

// NewClient creates the gateway session and registers its handlers. It does
// not connect until Run is called.
func NewClient(cfg Config, dispatch eventDispatcher, log zerolog.Logger) (*Client, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = intents
	session.State.MaxMessageCount = stateMessageCount
	session.State.TrackMembers = true

	c := newClient(cfg, session, session.State, dispatch, log)
	c.session = session
	session.AddHandler(c.onReady)
	session.AddHandler(c.onConnect)
	session.AddHandler(c.onDisconnect)
	session.AddHandler(c.onGuildCreate)
	session.AddHandler(c.onMessageCreate)
	session.AddHandler(c.onMessageUpdate)
	session.AddHandler(c.onMessageDelete)
	session.AddHandler(c.onMessageReactionAdd)
	return c, nil
}

func newClient(cfg Config, api restAPI, state *discordgo.State, dispatch eventDispatcher, log zerolog.Logger) *Client {
	c := &Client{
		cfg:      cfg,
		log:      log.With().Str("component", "discord_client").Logger(),
		dispatch: dispatch,
		api:      api,
		state:    state,
		ignore:   exsync.NewSet[string](),
	}
	c.botUser.Store(&events.User{})
	c.SetIgnoreUsers(cfg.IgnoreUsers)
	return c
}

// Run opens the gateway and keeps it open until ctx is cancelled.
// discordgo reconnects dropped gateway connections on its own.
func (c *Client) Run(ctx context.Context) error {
	c.log.Info().Str("guild_id", c.cfg.GuildID).Str("channel_id", c.cfg.ChannelID).Msg("Connecting to Discord")
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord gateway: %w", err)
	}
	<-ctx.Done()
	c.connected.Store(false)
	if err := c.session.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to close Discord gateway")
	}
	return ctx.Err()
}

// Connected reports whether the gateway session is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// BotUser returns the bridge's own Discord identity, or the zero User before
// the gateway is ready.
func (c *Client) BotUser() events.User {
	return *c.botUser.Load()
}

// SetIgnoreUsers replaces the list of user IDs whose activity is not
// relayed.
func (c *Client) SetIgnoreUsers(ids []string) {
	c.ignore.ReplaceAll(exsync.NewSetWithItems(ids))
}

// Reconfigure applies the settings that can change on a live session. It
// reports whether the remaining changes need a restart.
func (c *Client) Reconfigure(cfg Config) (restartRequired bool) {
	c.SetIgnoreUsers(cfg.IgnoreUsers)
	return c.cfg.connectionChanged(cfg)
}

func (c *Client) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		bot := convertUser(r.User)
		c.botUser.Store(&bot)
		c.log.Info().Str("user_id", bot.ID).Str("username", bot.Name).Msg("Discord gateway ready")
	}
	c.connected.Store(true)
}

func (c *Client) onConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	c.connected.Store(true)
}

func (c *Client) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	c.connected.Store(false)
	c.log.Warn().Msg("Disconnected from Discord gateway")
}

func (c *Client) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.ID != c.cfg.GuildID {
		return
	}
	if err := s.RequestGuildMembers(g.ID, "", 0, "", false); err != nil {
		c.log.Error().Err(err).Str("guild_id", g.ID).Msg("Failed to request guild members")
		return
	}
	c.log.Debug().Str("guild_id", g.ID).Msg("Requested guild member list")
}

func (c *Client) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	c.handleMessage(m.Message, false)
}

func (c *Client) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	c.handleMessage(m.Message, true)
}

func (c *Client) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	c.handleMessageDelete(m)
}

func (c *Client) onMessageReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	c.handleReactionAdd(r)
}

// relayable applies the filters shared by new and edited messages.
func (c *Client) relayable(m *discordgo.Message) bool {
	if m == nil || m.ChannelID != c.cfg.ChannelID || m.Author == nil {
		return false
	}
	if m.Author.ID == c.BotUser().ID {
		return false
	}
	if c.ignore.Has(m.Author.ID) {
		c.log.Debug().Str("user_id", m.Author.ID).Msg("Ignoring message from ignored user")
		return false
	}
	return m.Type == discordgo.MessageTypeDefault || m.Type == discordgo.MessageTypeReply
}

func (c *Client) handleMessage(m *discordgo.Message, edited bool) {
	if !c.relayable(m) {
		return
	}
	if !edited {
		c.dispatch.Dispatch(SourceName, events.NewPlatformMessage(c.convertMessage(m)))
		return
	}
	// Embed unfurls arrive as updates without an edit timestamp.
	if m.EditedTimestamp == nil {
		return
	}
	c.dispatch.Dispatch(SourceName, events.NewPlatformMessageEdit(c.convertMessage(m)))
}

func (c *Client) handleMessageDelete(m *discordgo.MessageDelete) {
	if m.ChannelID != c.cfg.ChannelID {
		return
	}
	before := m.BeforeDelete
	if before == nil || before.Author == nil {
		c.log.Debug().Str("message_id", m.ID).Msg("Deleted message was not cached, not relaying")
		return
	}
	if c.ignore.Has(before.Author.ID) {
		return
	}
	deleter := c.findDeleter(before)
	c.dispatch.Dispatch(SourceName, events.NewPlatformMessageDelete(deleter, c.convertMessage(before), c.BotUser()))
}

// findDeleter looks for a recent audit log entry covering the deletion.
// Authors deleting their own messages leave no entry, so no match means the
// author did it. A failed lookup leaves the deleter unknown.
func (c *Client) findDeleter(msg *discordgo.Message) events.User {
	auditLog, err := c.api.GuildAuditLog(c.cfg.GuildID, "", "", int(discordgo.AuditLogActionMessageDelete), auditLogLimit)
	if err != nil {
		c.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to fetch audit log for deleted message")
		return events.User{}
	}
	for _, entry := range auditLog.AuditLogEntries {
		if entry.TargetID != msg.Author.ID || entry.Options == nil || entry.Options.ChannelID != msg.ChannelID {
			continue
		}
		for _, u := range auditLog.Users {
			if u.ID == entry.UserID {
				return convertUser(u)
			}
		}
		return c.resolveUser(entry.UserID)
	}
	return convertUser(msg.Author)
}

func (c *Client) handleReactionAdd(r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || r.ChannelID != c.cfg.ChannelID {
		return
	}
	if r.UserID == c.BotUser().ID || c.ignore.Has(r.UserID) {
		return
	}
	msg, err := c.fetchMessage(r.ChannelID, r.MessageID)
	if err != nil {
		c.log.Error().Err(err).Str("message_id", r.MessageID).Msg("Failed to fetch reacted message")
		return
	}
	var user events.User
	if r.Member != nil && r.Member.User != nil {
		user = convertUser(r.Member.User)
	} else {
		u, err := c.api.User(r.UserID)
		if err != nil {
			c.log.Error().Err(err).Str("user_id", r.UserID).Msg("Failed to fetch reacting user")
			return
		}
		user = convertUser(u)
	}
	emoji := events.Emoji{ID: r.Emoji.ID, Name: r.Emoji.Name}
	c.dispatch.Dispatch(SourceName, events.NewPlatformReactionAdd(c.convertMessage(msg), emoji, user, c.BotUser()))
}

func (c *Client) fetchMessage(channelID, messageID string) (*discordgo.Message, error) {
	if msg, err := c.state.Message(channelID, messageID); err == nil {
		return msg, nil
	}
	return c.api.ChannelMessage(channelID, messageID)
}

func (c *Client) resolveUser(id string) events.User {
	if member, err := c.state.Member(c.cfg.GuildID, id); err == nil && member.User != nil {
		return convertUser(member.User)
	}
	if u, err := c.api.User(id); err == nil {
		return convertUser(u)
	}
	return events.User{ID: id, Name: id}
}

// Send posts text to the bridged channel. Link previews are suppressed and
// only user mentions may ping.
func (c *Client) Send(ctx context.Context, text string) error {
	_, err := c.api.ChannelMessageSendComplex(c.cfg.ChannelID, &discordgo.MessageSend{
		Content: text,
		Flags:   discordgo.MessageFlagsSuppressEmbeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send Discord message: %w", err)
	}
	return nil
}

// FindMember resolves a name to a user ID among the guild's current
// members. Usernames are tried first, then global display names, then
// server nicknames. Matching is exact.
func (c *Client) FindMember(name string) (string, bool) {
	guild, err := c.state.Guild(c.cfg.GuildID)
	if err != nil {
		return "", false
	}
	c.state.RLock()
	defer c.state.RUnlock()
	fields := []func(*discordgo.Member) string{
		func(m *discordgo.Member) string { return m.User.Username },
		func(m *discordgo.Member) string { return m.User.GlobalName },
		func(m *discordgo.Member) string { return m.Nick },
	}
	for _, field := range fields {
		for _, member := range guild.Members {
			if member.User != nil && field(member) == name {
				return member.User.ID, true
			}
		}
	}
	return "", false
}

func (c *Client) User(id string) (string, bool) {
	member, err := c.state.Member(c.cfg.GuildID, id)
	if err != nil || member.User == nil {
		return "", false
	}
	return member.User.Username, true
}

func (c *Client) Role(id string) (string, bool) {
	role, err := c.state.Role(c.cfg.GuildID, id)
	if err != nil {
		return "", false
	}
	return role.Name, true
}

func (c *Client) Channel(id string) (string, bool) {
	channel, err := c.state.Channel(id)
	if err != nil {
		return "", false
	}
	return channel.Name, true
}
