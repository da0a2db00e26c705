// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package events defines the bridge event model and the fan-out bus that
// carries events from platform adapters to destination workers.
package events

// Type is the closed set of event tags.
type Type string

const (
	TypeIRCMessage            Type = "irc_message"
	TypePlatformMessage       Type = "platform_message"
	TypePlatformMessageEdit   Type = "platform_message_edit"
	TypePlatformMessageDelete Type = "platform_message_delete"
	TypePlatformReactionAdd   Type = "platform_reaction_add"
	TypeConfigReload          Type = "config_reload"
	TypeInternalLog           Type = "internal_log"
)

// AllTypes lists every event type in declaration order.
var AllTypes = []Type{
	TypeIRCMessage,
	TypePlatformMessage,
	TypePlatformMessageEdit,
	TypePlatformMessageDelete,
	TypePlatformReactionAdd,
	TypeConfigReload,
	TypeInternalLog,
}

// Payload is implemented only by the payload types in this package.
type Payload interface {
	eventType() Type
}

// Event is an immutable record of something that happened on one of the
// bridged networks or inside the bridge. Events are passed by value; the
// payload pointers they carry must not be mutated after construction.
type Event struct {
	Source  string
	Payload Payload
}

// Type returns the variant tag, or an empty string for an event without a
// payload.
func (e Event) Type() Type {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.eventType()
}

// WithSource returns a copy of the event tagged with the given source.
func (e Event) WithSource(source string) Event {
	e.Source = source
	return e
}

// IRCMessage is a line said in the bridged IRC channel.
type IRCMessage struct {
	Who    string
	What   string
	Action bool
}

// User identifies a Discord account.
type User struct {
	ID   string
	Name string
	Bot  bool
}

// IsZero reports whether the user is unknown.
func (u User) IsZero() bool {
	return u.ID == "" && u.Name == ""
}

// Identity pairs an opaque platform identifier with its display name.
type Identity struct {
	ID   string
	Name string
}

// Attachment is a file attached to a Discord message.
type Attachment struct {
	URL      string
	Filename string
}

// EmbedKind is the Discord embed type string ("rich", "poll_result", ...).
type EmbedKind string

const (
	EmbedRich       EmbedKind = "rich"
	EmbedPollResult EmbedKind = "poll_result"
)

// ReferenceKind distinguishes replies from forwards.
type ReferenceKind int

const (
	ReferenceReply ReferenceKind = iota
	ReferenceForward
)

// Reference points at the message a reply or forward refers to. Resolved
// is nil when the referenced message could not be fetched.
type Reference struct {
	Kind     ReferenceKind
	Resolved *PlatformMessage
}

// PlatformMessage is a message posted in the bridged Discord channel.
type PlatformMessage struct {
	ID        string
	ChannelID string
	Author    User
	Content   string
	Reference *Reference

	Mentions        []Identity
	RoleMentions    []Identity
	ChannelMentions []Identity
	// MentionsEveryone is set for @everyone and @here.
	MentionsEveryone bool

	Attachments []Attachment
	Stickers    []string
	Embeds      []EmbedKind
	HasPoll     bool

	// BotUser is the bridge's own Discord identity at the time the event
	// was produced.
	BotUser User
}

// MentionsUser reports whether the message pings the given user ID.
func (m *PlatformMessage) MentionsUser(id string) bool {
	if m == nil || id == "" {
		return false
	}
	if m.MentionsEveryone {
		return true
	}
	for _, mention := range m.Mentions {
		if mention.ID == id {
			return true
		}
	}
	return false
}

// PlatformMessageEdit carries the new state of an edited message.
type PlatformMessageEdit struct {
	PlatformMessage
}

// PlatformMessageDelete describes a deleted message. Deleter is the zero
// User when the deleting account could not be determined.
type PlatformMessageDelete struct {
	Deleter User
	Message PlatformMessage
	BotUser User
}

// Emoji is a reaction emoji. ID is empty for unicode emoji.
type Emoji struct {
	ID   string
	Name string
}

// IsCustom reports whether the emoji is a guild custom emoji.
func (e Emoji) IsCustom() bool {
	return e.ID != ""
}

// PlatformReactionAdd describes a reaction added to a message.
type PlatformReactionAdd struct {
	Message PlatformMessage
	Emoji   Emoji
	User    User
	BotUser User
}

// ConfigReload signals that the configuration was re-read.
type ConfigReload struct{}

// InternalLog mirrors a log record emitted by the bridge itself.
type InternalLog struct {
	Level    string
	Pathname string
	Line     int
	Msg      string
	Args     map[string]any
}

func (*IRCMessage) eventType() Type            { return TypeIRCMessage }
func (*PlatformMessage) eventType() Type       { return TypePlatformMessage }
func (*PlatformMessageEdit) eventType() Type   { return TypePlatformMessageEdit }
func (*PlatformMessageDelete) eventType() Type { return TypePlatformMessageDelete }
func (*PlatformReactionAdd) eventType() Type   { return TypePlatformReactionAdd }
func (*ConfigReload) eventType() Type          { return TypeConfigReload }
func (*InternalLog) eventType() Type           { return TypeInternalLog }

func NewIRCMessage(who, what string, action bool) Event {
	return Event{Payload: &IRCMessage{Who: who, What: what, Action: action}}
}

func NewPlatformMessage(msg PlatformMessage) Event {
	return Event{Payload: &msg}
}

func NewPlatformMessageEdit(msg PlatformMessage) Event {
	return Event{Payload: &PlatformMessageEdit{PlatformMessage: msg}}
}

func NewPlatformMessageDelete(deleter User, msg PlatformMessage, botUser User) Event {
	return Event{Payload: &PlatformMessageDelete{Deleter: deleter, Message: msg, BotUser: botUser}}
}

func NewPlatformReactionAdd(msg PlatformMessage, emoji Emoji, user, botUser User) Event {
	return Event{Payload: &PlatformReactionAdd{Message: msg, Emoji: emoji, User: user, BotUser: botUser}}
}

func NewConfigReload() Event {
	return Event{Payload: &ConfigReload{}}
}

func NewInternalLog(level, pathname string, line int, msg string, args map[string]any) Event {
	return Event{Payload: &InternalLog{Level: level, Pathname: pathname, Line: line, Msg: msg, Args: args}}
}
