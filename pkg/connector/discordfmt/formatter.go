// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package discordfmt renders styled text as Discord markdown and lexes
// Discord markdown back into styled text.
package discordfmt

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aiku/chat-bridge/pkg/connector/richtext"
)

var (
	basicEscaper    = strings.NewReplacer(`\`, `\\`, `<`, `\<`)
	markdownEscaper = strings.NewReplacer(
		`\`, `\\`,
		`<`, `\<`,
		`*`, `\*`,
		`_`, `\_`,
		`~`, `\~`,
		"`", "\\`",
		`|`, `\|`,
		`>`, `\>`,
	)
)

// Escape escapes backslashes and the mention opener '<'.
func Escape(s string) string {
	return basicEscaper.Replace(s)
}

// EscapeMarkdown additionally escapes every inline markdown character.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// Unescape removes backslash escapes in front of ASCII punctuation.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && isASCIIPunct(s[i+1]) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func isASCIIPunct(c byte) bool {
	return c >= '!' && c <= '/' || c >= ':' && c <= '@' || c >= '[' && c <= '`' || c >= '{' && c <= '~'
}

// Renderer converts styled text into Discord markdown.
type Renderer struct {
	// EscapeMarkdown escapes inline markdown characters in the text so that
	// relayed text cannot produce styling of its own.
	EscapeMarkdown bool
}

func (r Renderer) escape(s string) string {
	if r.EscapeMarkdown {
		return EscapeMarkdown(s)
	}
	return Escape(s)
}

// Render escapes and wraps every chunk. Reset chunks are emitted without
// styling; empty chunks are still wrapped.
func (r Renderer) Render(seq richtext.Sequence) string {
	var sb strings.Builder
	for _, chunk := range seq {
		text := r.escape(chunk.Text)
		if chunk.Style.Has(richtext.Reset) {
			sb.WriteString(text)
			continue
		}
		if chunk.Style.Has(richtext.Bold) {
			text = "**" + text + "**"
		}
		if chunk.Style.Has(richtext.Monospace) {
			text = "`" + text + "`"
		}
		if chunk.Style.Has(richtext.Italic) {
			text = "*" + text + "*"
		}
		if chunk.Style.Has(richtext.Strikethrough) {
			text = "~~" + text + "~~"
		}
		if chunk.Style.Has(richtext.Underline) {
			text = "__" + text + "__"
		}
		sb.WriteString(text)
	}
	return sb.String()
}

type marker struct {
	token string
	style richtext.Style
}

// Longer tokens first so "**" wins over "*".
var markers = []marker{
	{"**", richtext.Bold},
	{"__", richtext.Underline},
	{"~~", richtext.Strikethrough},
	{"*", richtext.Italic},
	{"_", richtext.Italic},
}

// Parse lexes inline Discord markdown. A marker opens a style only when a
// matching closer exists later in the text; unmatched markers stay literal.
func Parse(md string) richtext.Sequence {
	p := parser{src: md, openedBy: make(map[richtext.Style]string)}
	return p.run()
}

type parser struct {
	src      string
	seq      richtext.Sequence
	style    richtext.Style
	openedBy map[richtext.Style]string
	buf      strings.Builder
}

func (p *parser) flush() {
	if p.buf.Len() == 0 {
		return
	}
	p.seq = append(p.seq, richtext.Chunk{Text: p.buf.String(), Style: p.style})
	p.buf.Reset()
}

func (p *parser) run() richtext.Sequence {
	src := p.src
	for i := 0; i < len(src); {
		c := src[i]
		if c == '\\' && i+1 < len(src) && isASCIIPunct(src[i+1]) {
			p.buf.WriteByte(src[i+1])
			i += 2
			continue
		}
		if c == '`' {
			if end := strings.IndexByte(src[i+1:], '`'); end >= 0 {
				p.flush()
				p.seq = append(p.seq, richtext.Chunk{Text: src[i+1 : i+1+end], Style: p.style | richtext.Monospace})
				i += end + 2
				continue
			}
		}
		if m, ok := p.matchMarker(i); ok {
			p.flush()
			if p.style.Has(m.style) {
				delete(p.openedBy, m.style)
			} else {
				p.openedBy[m.style] = m.token
			}
			p.style = p.style.Toggle(m.style)
			i += len(m.token)
			continue
		}
		p.buf.WriteByte(c)
		i++
	}
	p.flush()
	if len(p.seq) == 0 {
		p.seq = richtext.Sequence{{Text: ""}}
	}
	return p.seq
}

func (p *parser) matchMarker(i int) (marker, bool) {
	src := p.src
	for _, m := range markers {
		if !strings.HasPrefix(src[i:], m.token) {
			continue
		}
		end := i + len(m.token)
		if p.style.Has(m.style) {
			if p.openedBy[m.style] != m.token {
				continue
			}
			if m.token == "_" && end < len(src) && isWordRune(firstRune(src[end:])) {
				continue
			}
			return m, true
		}
		if len(m.token) == 1 {
			if end >= len(src) || unicode.IsSpace(firstRune(src[end:])) {
				continue
			}
			if m.token == "_" && i > 0 && isWordRune(lastRune(src[:i])) {
				continue
			}
		}
		if strings.Contains(src[end:], m.token) {
			return m, true
		}
	}
	return marker{}, false
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
