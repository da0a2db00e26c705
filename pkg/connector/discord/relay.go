// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package discord

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aiku/chat-bridge/pkg/connector/discordfmt"
	"github.com/aiku/chat-bridge/pkg/connector/ircfmt"
	"github.com/aiku/chat-bridge/pkg/connector/mention"
	"github.com/aiku/chat-bridge/pkg/events"
)

// TargetName is the dispatcher name of the Discord destination.
const TargetName = "discord"

// Sender posts text to the bridged channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// MemberFinder resolves a name against the guild's live member list.
type MemberFinder interface {
	FindMember(name string) (id string, ok bool)
}

// RelayOptions are the reloadable settings of the Discord destination.
type RelayOptions struct {
	EscapeMarkdown bool
}

// Relay renders IRC lines as Discord messages.
type Relay struct {
	sender  Sender
	members MemberFinder
	load    func() RelayOptions
	opts    atomic.Pointer[RelayOptions]
	log     zerolog.Logger
}

var _ events.Handler = (*Relay)(nil)

func NewRelay(sender Sender, members MemberFinder, load func() RelayOptions, log zerolog.Logger) *Relay {
	r := &Relay{
		sender:  sender,
		members: members,
		load:    load,
		log:     log.With().Str("component", "discord_relay").Logger(),
	}
	r.refresh()
	return r
}

func (r *Relay) refresh() {
	opts := r.load()
	r.opts.Store(&opts)
}

// Accept reports whether the destination relays events of type t.
func (r *Relay) Accept(t events.Type) bool {
	return t == events.TypeIRCMessage || t == events.TypeConfigReload
}

func (r *Relay) HandleEvent(ctx context.Context, evt events.Event) error {
	switch payload := evt.Payload.(type) {
	case *events.IRCMessage:
		if err := r.sender.Send(ctx, r.render(payload)); err != nil {
			return fmt.Errorf("failed to relay IRC message from %s: %w", payload.Who, err)
		}
		return nil
	case *events.ConfigReload:
		r.refresh()
		r.log.Debug().Msg("Reloaded relay options")
		return nil
	default:
		return events.UnknownEvent(evt)
	}
}

func (r *Relay) render(msg *events.IRCMessage) string {
	renderer := discordfmt.Renderer{EscapeMarkdown: r.opts.Load().EscapeMarkdown}
	who := discordfmt.Escape(msg.Who)
	body := renderer.Render(ircfmt.Parse(msg.What))
	body = mention.ResolveBrackets(body, r.lookupMember)
	if msg.Action {
		return fmt.Sprintf("＊ **%s** %s", who, body)
	}
	return fmt.Sprintf("**<%s>** %s", who, body)
}

func (r *Relay) lookupMember(name string) (string, bool) {
	if r.members == nil {
		return "", false
	}
	id, ok := r.members.FindMember(discordfmt.Unescape(name))
	if !ok {
		return "", false
	}
	return "<@" + id + ">", true
}
