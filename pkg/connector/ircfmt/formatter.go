// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ircfmt converts between mIRC-style control codes and styled text.
package ircfmt

import (
	"strings"

	"github.com/aiku/chat-bridge/pkg/connector/richtext"
)

// mIRC formatting control codes.
const (
	CodeBold          = '\x02'
	CodeColor         = '\x03'
	CodeHexColor      = '\x04'
	CodeReset         = '\x0f'
	CodeMonospace     = '\x11'
	CodeReverse       = '\x16'
	CodeItalic        = '\x1d'
	CodeStrikethrough = '\x1e'
	CodeUnderline     = '\x1f'
)

var toggles = map[byte]richtext.Style{
	CodeBold:          richtext.Bold,
	CodeItalic:        richtext.Italic,
	CodeUnderline:     richtext.Underline,
	CodeStrikethrough: richtext.Strikethrough,
	CodeMonospace:     richtext.Monospace,
}

// Parse splits IRC text into styled chunks. A new chunk starts at every
// control code, so adjacent codes produce empty chunks. Colors are consumed
// and dropped.
func Parse(text string) richtext.Sequence {
	var seq richtext.Sequence
	var style richtext.Style
	start := 0
	flush := func(end int) {
		seq = append(seq, richtext.Chunk{Text: text[start:end], Style: style})
	}
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case toggles[c] != 0:
			flush(i)
			style = style.Toggle(toggles[c]) &^ richtext.Reset
			i++
		case c == CodeReset:
			flush(i)
			style = richtext.Reset
			i++
		case c == CodeReverse:
			flush(i)
			i++
		case c == CodeColor:
			flush(i)
			i = skipColor(text, i+1, isDigit, 2)
		case c == CodeHexColor:
			flush(i)
			i = skipColor(text, i+1, isHexDigit, 6)
		default:
			i++
			continue
		}
		start = i
	}
	flush(len(text))
	return seq
}

// skipColor consumes "fg[,bg]" where each part has at most width digits.
func skipColor(text string, i int, digit func(byte) bool, width int) int {
	n := 0
	for n < width && i < len(text) && digit(text[i]) {
		i++
		n++
	}
	if n > 0 && i+1 < len(text) && text[i] == ',' && digit(text[i+1]) {
		i++
		for m := 0; m < width && i < len(text) && digit(text[i]); m++ {
			i++
		}
	}
	return i
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

// Render converts styled chunks back into control codes.
func Render(seq richtext.Sequence) string {
	var sb strings.Builder
	var current richtext.Style
	for _, chunk := range seq {
		want := chunk.Effective()
		if chunk.Style.Has(richtext.Reset) && current != 0 {
			sb.WriteByte(CodeReset)
			current = 0
		}
		writeTransition(&sb, current, want)
		current = want
		sb.WriteString(chunk.Text)
	}
	writeTransition(&sb, current, 0)
	return sb.String()
}

var renderOrder = []byte{CodeBold, CodeMonospace, CodeItalic, CodeStrikethrough, CodeUnderline}

func writeTransition(sb *strings.Builder, from, to richtext.Style) {
	for _, code := range renderOrder {
		if from.Has(toggles[code]) != to.Has(toggles[code]) {
			sb.WriteByte(code)
		}
	}
}

// Bold wraps s in bold codes.
func Bold(s string) string {
	return string(CodeBold) + s + string(CodeBold)
}

// Strip removes every formatting code.
func Strip(text string) string {
	return Parse(text).PlainText()
}
