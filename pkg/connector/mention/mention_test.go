// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mention

import (
	"strings"
	"testing"

	"github.com/aiku/chat-bridge/pkg/events"
)

type mapDirectory struct {
	users, roles, channels map[string]string
}

func (m mapDirectory) User(id string) (string, bool)    { v, ok := m.users[id]; return v, ok }
func (m mapDirectory) Role(id string) (string, bool)    { v, ok := m.roles[id]; return v, ok }
func (m mapDirectory) Channel(id string) (string, bool) { v, ok := m.channels[id]; return v, ok }

func memberLookup(members map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		id, ok := members[name]
		if !ok {
			return "", false
		}
		return "<@" + id + ">", true
	}
}

func TestResolveBrackets(t *testing.T) {
	t.Parallel()
	lookup := memberLookup(map[string]string{"bob": "42", "Alice": "7"})
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"known member", "hello [bob]", "hello <@42>"},
		{"case sensitive", "hello [Bob]", "hello Bob"},
		{"unknown member", "hi [carol]!", "hi carol!"},
		{"several", "[Alice] and [bob] and [x]", "<@7> and <@42> and x"},
		{"empty brackets", "a [] b", "a  b"},
		{"no brackets", "plain text", "plain text"},
		{"unbalanced", "[bob", "[bob"},
		{"nested takes shortest", "[[bob]]", "[bob]"},
	}
	for _, tt := range tests {
		if got := ResolveBrackets(tt.input, lookup); got != tt.want {
			t.Errorf("%s: ResolveBrackets(%q): got %q, want %q", tt.name, tt.input, got, tt.want)
		}
	}
	if got := ResolveBrackets("[bob]", nil); got != "bob" {
		t.Errorf("nil lookup: got %q, want %q", got, "bob")
	}
}

func TestReplaceNative(t *testing.T) {
	t.Parallel()
	dir := mapDirectory{
		users:    map[string]string{"1": "alice", "2": "bob"},
		roles:    map[string]string{"9": "mods"},
		channels: map[string]string{"5": "general"},
	}
	upper := func(s string) string { return strings.ToUpper(s) }
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"user", "hi <@1>", "hi @ALICE"},
		{"legacy nick mention", "hi <@!2>", "hi @BOB"},
		{"role", "ping <@&9>", "ping @MODS"},
		{"channel", "see <#5>", "see #GENERAL"},
		{"unknown user", "who <@404>", "who " + UnknownUser},
		{"unknown role", "<@&404>", UnknownRole},
		{"unknown channel", "<#404>", UnknownChannel},
		{"mixed", "<@1> <@404> <#5>", "@ALICE " + UnknownUser + " #GENERAL"},
		{"not a mention", "<@abc> <3", "<@abc> <3"},
	}
	for _, tt := range tests {
		if got := ReplaceNative(tt.input, dir, upper); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
	if got := ReplaceNative("<@1>", nil, nil); got != UnknownUser {
		t.Errorf("nil directory: got %q", got)
	}
}

func TestMessageDirectoryFallback(t *testing.T) {
	t.Parallel()
	msg := &events.PlatformMessage{
		Mentions:        []events.Identity{{ID: "1", Name: "alice"}},
		RoleMentions:    []events.Identity{{ID: "9", Name: ""}},
		ChannelMentions: []events.Identity{{ID: "5", Name: "general"}},
	}
	live := mapDirectory{
		users: map[string]string{"3": "carol"},
		roles: map[string]string{"9": "mods"},
	}
	dir := ForMessage(msg, live)
	got := ReplaceNative("<@1> <@3> <@&9> <#5> <#6>", dir, nil)
	want := "@alice @carol @mods #general " + UnknownChannel
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	noFallback := ForMessage(msg, nil)
	if _, ok := noFallback.User("3"); ok {
		t.Error("expected lookup of 3 to fail without fallback")
	}
}

func TestReplaceCustomEmoji(t *testing.T) {
	t.Parallel()
	bold := func(s string) string { return "\x02" + s + "\x02" }
	tests := []struct{ input, want string }{
		{"nice <:blobcat:123>", "nice [custom emoji \"\x02blobcat\x02\"]"},
		{"<a:party_parrot:456>!", "[custom emoji \"\x02party_parrot\x02\"]!"},
		{"<:bad name:1>", "<:bad name:1>"},
		{"no emoji", "no emoji"},
	}
	for _, tt := range tests {
		if got := ReplaceCustomEmoji(tt.input, bold); got != tt.want {
			t.Errorf("ReplaceCustomEmoji(%q): got %q, want %q", tt.input, got, tt.want)
		}
	}
	if got := ReplaceCustomEmoji("<:x:1>", nil); got != `[custom emoji "x"]` {
		t.Errorf("nil bold: got %q", got)
	}
}
