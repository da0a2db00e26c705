// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package irc

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aiku/chat-bridge/pkg/connector/discordfmt"
	"github.com/aiku/chat-bridge/pkg/connector/ircfmt"
	"github.com/aiku/chat-bridge/pkg/connector/mention"
	"github.com/aiku/chat-bridge/pkg/connector/nicksanitize"
	"github.com/aiku/chat-bridge/pkg/events"
)

// TargetName is the dispatcher name of the IRC destination.
const TargetName = "irc"

// UnknownSender stands in for the author of a relayed message whose
// original IRC nick cannot be recovered.
const UnknownSender = "???"

var relayedSenderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\*\*<(.*?)>\*\* `),
	regexp.MustCompile(`^＊ \*\*(.*?)\*\* `),
}

// Sender delivers text to an IRC target.
type Sender interface {
	Say(ctx context.Context, target, text string) error
}

// NickLister returns the current members of the bridged channel.
type NickLister interface {
	Nicks() []string
}

// RelayOptions are the per-feature switches of the IRC destination.
type RelayOptions struct {
	RelayEdits        bool
	RelayDeletes      bool
	RelayReactions    bool
	RelayAttachments  bool
	TranslateMarkdown bool
}

// Relay renders Discord events as IRC lines.
type Relay struct {
	channel   string
	sender    Sender
	nicks     NickLister
	directory mention.Directory
	load      func() RelayOptions
	opts      atomic.Pointer[RelayOptions]
	log       zerolog.Logger
}

var _ events.Handler = (*Relay)(nil)

// NewRelay creates the IRC destination handler. load is called once here
// and again on every config_reload event.
func NewRelay(channel string, sender Sender, nicks NickLister, load func() RelayOptions, log zerolog.Logger) *Relay {
	r := &Relay{
		channel: channel,
		sender:  sender,
		nicks:   nicks,
		load:    load,
		log:     log.With().Str("component", "irc_relay").Logger(),
	}
	r.refresh()
	return r
}

// SetDirectory installs the live Discord directory used for mentions that
// the message itself does not describe. It must be called before the
// destination starts.
func (r *Relay) SetDirectory(dir mention.Directory) {
	r.directory = dir
}

func (r *Relay) refresh() {
	opts := r.load()
	r.opts.Store(&opts)
}

func (r *Relay) options() RelayOptions {
	return *r.opts.Load()
}

// Accept reports whether the destination currently relays events of type t.
func (r *Relay) Accept(t events.Type) bool {
	opts := r.options()
	switch t {
	case events.TypePlatformMessage, events.TypeConfigReload:
		return true
	case events.TypePlatformMessageEdit:
		return opts.RelayEdits
	case events.TypePlatformMessageDelete:
		return opts.RelayDeletes
	case events.TypePlatformReactionAdd:
		return opts.RelayReactions
	default:
		return false
	}
}

func (r *Relay) HandleEvent(ctx context.Context, evt events.Event) error {
	switch payload := evt.Payload.(type) {
	case *events.PlatformMessage:
		return r.say(ctx, r.renderMessage(payload, false))
	case *events.PlatformMessageEdit:
		return r.say(ctx, r.renderMessage(&payload.PlatformMessage, true))
	case *events.PlatformMessageDelete:
		return r.say(ctx, []string{r.renderDelete(payload)})
	case *events.PlatformReactionAdd:
		return r.say(ctx, []string{r.renderReaction(payload)})
	case *events.ConfigReload:
		r.refresh()
		r.log.Debug().Msg("Reloaded relay options")
		return nil
	default:
		return events.UnknownEvent(evt)
	}
}

func (r *Relay) say(ctx context.Context, lines []string) error {
	for _, line := range lines {
		if err := r.sender.Say(ctx, r.channel, line); err != nil {
			return fmt.Errorf("failed to send message to IRC: %w", err)
		}
	}
	return nil
}

func (r *Relay) renderMessage(msg *events.PlatformMessage, edited bool) []string {
	opts := r.options()

	var items []string
	if edited {
		items = append(items, "edited previous message")
	}
	if ref := msg.Reference; ref != nil {
		switch {
		case ref.Resolved == nil:
			items = append(items, "unresolved reference")
		case ref.Kind == events.ReferenceReply:
			items = append(items, "in reply to "+extractSender(ref.Resolved, msg, msg.BotUser))
		case ref.Kind == events.ReferenceForward:
			items = append(items, "forwarded message from "+extractSender(ref.Resolved, nil, msg.BotUser))
		}
	}
	preamble := ""
	if len(items) > 0 {
		preamble = "(" + strings.Join(items, ", ") + ") "
	}

	header := ircfmt.Bold(nicksanitize.SanitizeName(msg.Author.Name)) + ircfmt.Bold(":") + " "
	var lines []string
	for i, line := range strings.Split(r.renderText(msg, opts), "\n") {
		if i == 0 {
			lines = append(lines, header+preamble+line)
		} else if line != "" {
			lines = append(lines, header+line)
		}
	}

	if !opts.RelayAttachments {
		return lines
	}
	if msg.HasPoll {
		lines = append(lines, "Poll - user started a poll, unable to render or vote on IRC")
	}
	for _, embed := range msg.Embeds {
		switch embed {
		case events.EmbedRich:
			lines = append(lines, "Embedded content - rich embed, unable to render on IRC")
		case events.EmbedPollResult:
			lines = append(lines, "Embedded content - poll result, unable to render on IRC")
		}
	}
	for _, attachment := range msg.Attachments {
		lines = append(lines, "Attachment - "+attachment.URL)
	}
	for _, sticker := range msg.Stickers {
		lines = append(lines, `Sticker - "`+sticker+`"`)
	}
	return lines
}

func (r *Relay) renderText(msg *events.PlatformMessage, opts RelayOptions) string {
	if msg.Content == "" {
		return ""
	}
	sanitizer := nicksanitize.New(r.nicks.Nicks())
	dir := mention.ForMessage(msg, r.directory)
	rewrite := func(text string) string {
		text = mention.ReplaceNative(text, dir, nicksanitize.SanitizeName)
		text = mention.ReplaceCustomEmoji(text, ircfmt.Bold)
		return sanitizer.Sanitize(text)
	}
	if !opts.TranslateMarkdown {
		return rewrite(msg.Content)
	}
	seq := discordfmt.Parse(msg.Content)
	for i := range seq {
		seq[i].Text = rewrite(seq[i].Text)
	}
	return ircfmt.Render(seq)
}

func (r *Relay) renderDelete(evt *events.PlatformMessageDelete) string {
	if evt.Deleter.IsZero() {
		return fmt.Sprintf("%s deleted a message by %s",
			ircfmt.Bold("unknown"), ircfmt.Bold(extractSender(&evt.Message, nil, evt.BotUser)))
	}
	deleter := ircfmt.Bold(nicksanitize.SanitizeName(evt.Deleter.Name))
	if evt.Deleter.ID == evt.Message.Author.ID {
		return deleter + " deleted their message"
	}
	return fmt.Sprintf("%s deleted a message by %s", deleter, ircfmt.Bold(extractSender(&evt.Message, nil, evt.BotUser)))
}

func (r *Relay) renderReaction(evt *events.PlatformReactionAdd) string {
	emoji := evt.Emoji.Name
	if evt.Emoji.IsCustom() {
		emoji = "custom emoji " + evt.Emoji.Name
	}
	return fmt.Sprintf("%s reacted with %s to a message by %s",
		ircfmt.Bold(nicksanitize.SanitizeName(evt.User.Name)),
		emoji,
		ircfmt.Bold(extractSender(&evt.Message, nil, evt.BotUser)))
}

// extractSender names the author of msg as IRC should see it. Messages the
// bridge itself posted carry the IRC nick in their header; that nick is
// left pingable only when parent mentions the bridge bot.
func extractSender(msg, parent *events.PlatformMessage, bot events.User) string {
	if bot.ID == "" || msg.Author.ID != bot.ID {
		return nicksanitize.SanitizeName(msg.Author.Name)
	}
	for _, re := range relayedSenderPatterns {
		match := re.FindStringSubmatch(msg.Content)
		if match == nil {
			continue
		}
		nick := discordfmt.Unescape(match[1])
		if parent != nil && parent.MentionsUser(bot.ID) {
			return nick
		}
		return nicksanitize.SanitizeName(nick)
	}
	return UnknownSender
}
