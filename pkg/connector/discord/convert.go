// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/aiku/chat-bridge/pkg/events"
)

func convertUser(u *discordgo.User) events.User {
	if u == nil {
		return events.User{}
	}
	return events.User{ID: u.ID, Name: u.Username, Bot: u.Bot}
}

// convertMessage snapshots a gateway message, resolving its reply or forward
// target one level deep.
func (c *Client) convertMessage(m *discordgo.Message) events.PlatformMessage {
	msg := c.convertFlat(m)
	ref := m.MessageReference
	if ref == nil {
		return msg
	}
	switch {
	case ref.Type == discordgo.MessageReferenceTypeForward:
		msg.Reference = &events.Reference{Kind: events.ReferenceForward}
		if target, err := c.fetchMessage(ref.ChannelID, ref.MessageID); err != nil {
			c.log.Debug().Err(err).Str("message_id", ref.MessageID).Msg("Failed to fetch forwarded message")
		} else {
			resolved := c.convertFlat(target)
			msg.Reference.Resolved = &resolved
		}
	case m.Type == discordgo.MessageTypeReply:
		msg.Reference = &events.Reference{Kind: events.ReferenceReply}
		if m.ReferencedMessage != nil {
			resolved := c.convertFlat(m.ReferencedMessage)
			msg.Reference.Resolved = &resolved
		}
	}
	return msg
}

func (c *Client) convertFlat(m *discordgo.Message) events.PlatformMessage {
	msg := events.PlatformMessage{
		ID:               m.ID,
		ChannelID:        m.ChannelID,
		Author:           convertUser(m.Author),
		Content:          m.Content,
		MentionsEveryone: m.MentionEveryone,
		HasPoll:          m.Poll != nil,
		BotUser:          c.BotUser(),
	}
	for _, u := range m.Mentions {
		if u != nil {
			msg.Mentions = append(msg.Mentions, events.Identity{ID: u.ID, Name: u.Username})
		}
	}
	for _, id := range m.MentionRoles {
		if name, ok := c.Role(id); ok {
			msg.RoleMentions = append(msg.RoleMentions, events.Identity{ID: id, Name: name})
		}
	}
	for _, ch := range m.MentionChannels {
		if ch != nil {
			msg.ChannelMentions = append(msg.ChannelMentions, events.Identity{ID: ch.ID, Name: ch.Name})
		}
	}
	for _, a := range m.Attachments {
		if a != nil {
			msg.Attachments = append(msg.Attachments, events.Attachment{URL: a.URL, Filename: a.Filename})
		}
	}
	for _, s := range m.StickerItems {
		if s != nil {
			msg.Stickers = append(msg.Stickers, s.Name)
		}
	}
	for _, e := range m.Embeds {
		if e != nil {
			msg.Embeds = append(msg.Embeds, events.EmbedKind(e.Type))
		}
	}
	return msg
}
