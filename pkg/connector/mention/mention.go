// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mention translates identity references between the "[name]"
// convention used on IRC and Discord's native mention tokens.
package mention

import (
	"regexp"

	"github.com/aiku/chat-bridge/pkg/events"
)

// Placeholders used when a native mention cannot be resolved.
const (
	UnknownUser    = "@unknown-user"
	UnknownRole    = "@unknown-role"
	UnknownChannel = "#unknown-channel"
)

var (
	bracketRe     = regexp.MustCompile(`\[(.*?)\]`)
	nativeRe      = regexp.MustCompile(`<(@&|@!?|#)(\d+)>`)
	customEmojiRe = regexp.MustCompile(`<a?:(\w+):\d+>`)
)

// LookupFunc resolves a display name to a native mention token.
type LookupFunc func(name string) (token string, ok bool)

// ResolveBrackets replaces every "[name]" with the token returned by lookup,
// or with the bare name when lookup fails. Brackets never survive.
func ResolveBrackets(text string, lookup LookupFunc) string {
	return bracketRe.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		if lookup != nil {
			if token, ok := lookup(name); ok {
				return token
			}
		}
		return name
	})
}

// Directory resolves native identifiers to current display names.
type Directory interface {
	User(id string) (string, bool)
	Role(id string) (string, bool)
	Channel(id string) (string, bool)
}

// ReplaceNative substitutes user, role and channel mention tokens with their
// display names passed through sanitize. Unresolvable tokens become
// placeholders.
func ReplaceNative(text string, dir Directory, sanitize func(string) string) string {
	if sanitize == nil {
		sanitize = func(s string) string { return s }
	}
	return nativeRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := nativeRe.FindStringSubmatch(match)
		kind, id := parts[1], parts[2]
		switch kind {
		case "@&":
			if name, ok := lookup(dir, Directory.Role, id); ok {
				return "@" + sanitize(name)
			}
			return UnknownRole
		case "#":
			if name, ok := lookup(dir, Directory.Channel, id); ok {
				return "#" + sanitize(name)
			}
			return UnknownChannel
		default:
			if name, ok := lookup(dir, Directory.User, id); ok {
				return "@" + sanitize(name)
			}
			return UnknownUser
		}
	})
}

func lookup(dir Directory, fn func(Directory, string) (string, bool), id string) (string, bool) {
	if dir == nil {
		return "", false
	}
	return fn(dir, id)
}

// ReplaceCustomEmoji renders custom emoji tokens as descriptive text.
func ReplaceCustomEmoji(text string, bold func(string) string) string {
	return customEmojiRe.ReplaceAllStringFunc(text, func(match string) string {
		name := customEmojiRe.FindStringSubmatch(match)[1]
		if bold != nil {
			name = bold(name)
		}
		return `[custom emoji "` + name + `"]`
	})
}

// MessageDirectory serves names from a message's own mention lists and
// falls back to a live directory.
type MessageDirectory struct {
	Users    []events.Identity
	Roles    []events.Identity
	Channels []events.Identity
	Fallback Directory
}

var _ Directory = (*MessageDirectory)(nil)

// ForMessage builds a directory from the mentions carried by msg.
func ForMessage(msg *events.PlatformMessage, fallback Directory) *MessageDirectory {
	return &MessageDirectory{
		Users:    msg.Mentions,
		Roles:    msg.RoleMentions,
		Channels: msg.ChannelMentions,
		Fallback: fallback,
	}
}

func (d *MessageDirectory) User(id string) (string, bool) {
	return d.find(d.Users, id, Directory.User)
}

func (d *MessageDirectory) Role(id string) (string, bool) {
	return d.find(d.Roles, id, Directory.Role)
}

func (d *MessageDirectory) Channel(id string) (string, bool) {
	return d.find(d.Channels, id, Directory.Channel)
}

func (d *MessageDirectory) find(list []events.Identity, id string, fallback func(Directory, string) (string, bool)) (string, bool) {
	for _, ident := range list {
		if ident.ID == id && ident.Name != "" {
			return ident.Name, true
		}
	}
	if d.Fallback != nil {
		return fallback(d.Fallback, id)
	}
	return "", false
}
