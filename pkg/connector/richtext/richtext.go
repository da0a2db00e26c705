// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package richtext is the platform-neutral representation of styled text
// shared by the IRC and Discord formatters.
package richtext

import "strings"

// Style is a set of text attributes.
type Style uint8

const (
	Bold Style = 1 << iota
	Italic
	Underline
	Strikethrough
	Monospace
	// Reset marks a chunk that follows a formatting reset. It suppresses
	// every other attribute when rendering.
	Reset
)

// Has reports whether all attributes in other are set.
func (s Style) Has(other Style) bool {
	return s&other == other
}

// Toggle flips the given attributes.
func (s Style) Toggle(other Style) Style {
	return s ^ other
}

func (s Style) String() string {
	if s == 0 {
		return "plain"
	}
	var parts []string
	for _, a := range []struct {
		style Style
		name  string
	}{
		{Bold, "bold"},
		{Italic, "italic"},
		{Underline, "underline"},
		{Strikethrough, "strikethrough"},
		{Monospace, "monospace"},
		{Reset, "reset"},
	} {
		if s.Has(a.style) {
			parts = append(parts, a.name)
		}
	}
	return strings.Join(parts, "+")
}

// Chunk is a contiguous run of text with one set of attributes.
type Chunk struct {
	Text  string
	Style Style
}

// Sequence is an ordered list of chunks.
type Sequence []Chunk

// PlainText concatenates the text of every chunk.
func (seq Sequence) PlainText() string {
	var sb strings.Builder
	for _, c := range seq {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// Effective returns the attributes that render for the chunk: none when the
// chunk is a reset chunk.
func (c Chunk) Effective() Style {
	if c.Style.Has(Reset) {
		return 0
	}
	return c.Style
}
