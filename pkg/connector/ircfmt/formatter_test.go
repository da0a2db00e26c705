// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package ircfmt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aiku/chat-bridge/pkg/connector/richtext"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  richtext.Sequence
	}{
		{
			name:  "plain",
			input: "hello world",
			want:  richtext.Sequence{{Text: "hello world"}},
		},
		{
			name:  "empty",
			input: "",
			want:  richtext.Sequence{{Text: ""}},
		},
		{
			name:  "bold",
			input: "a \x02b\x02 c",
			want: richtext.Sequence{
				{Text: "a "},
				{Text: "b", Style: richtext.Bold},
				{Text: " c"},
			},
		},
		{
			name:  "nested styles",
			input: "\x02\x1dx\x1dy",
			want: richtext.Sequence{
				{Text: ""},
				{Text: "", Style: richtext.Bold},
				{Text: "x", Style: richtext.Bold | richtext.Italic},
				{Text: "y", Style: richtext.Bold},
			},
		},
		{
			name:  "underline strike monospace",
			input: "\x1fu\x1f\x1es\x1e\x11m",
			want: richtext.Sequence{
				{Text: ""},
				{Text: "u", Style: richtext.Underline},
				{Text: ""},
				{Text: "s", Style: richtext.Strikethrough},
				{Text: ""},
				{Text: "m", Style: richtext.Monospace},
			},
		},
		{
			name:  "reset clears styles",
			input: "\x02bold\x0fplain",
			want: richtext.Sequence{
				{Text: ""},
				{Text: "bold", Style: richtext.Bold},
				{Text: "plain", Style: richtext.Reset},
			},
		},
		{
			name:  "style after reset drops reset",
			input: "\x0f\x02b",
			want: richtext.Sequence{
				{Text: ""},
				{Text: "", Style: richtext.Reset},
				{Text: "b", Style: richtext.Bold},
			},
		},
		{
			name:  "colors are dropped",
			input: "\x0304,12red\x03 plain \x0399x",
			want: richtext.Sequence{
				{Text: ""},
				{Text: "red"},
				{Text: " plain "},
				{Text: "x"},
			},
		},
		{
			name:  "color without digits keeps comma",
			input: "\x03,5",
			want: richtext.Sequence{
				{Text: ""},
				{Text: ",5"},
			},
		},
		{
			name:  "hex color",
			input: "\x04FF00AA,00ff00hi",
			want: richtext.Sequence{
				{Text: ""},
				{Text: "hi"},
			},
		},
		{
			name:  "reverse ignored",
			input: "a\x16b",
			want: richtext.Sequence{
				{Text: "a"},
				{Text: "b"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("Parse(%q): got %d chunks %+v, want %d %+v", tt.input, len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		seq  richtext.Sequence
		want string
	}{
		{"plain", richtext.Sequence{{Text: "hi"}}, "hi"},
		{"bold", richtext.Sequence{{Text: "a"}, {Text: "b", Style: richtext.Bold}, {Text: "c"}}, "a\x02b\x02c"},
		{"bold italic", richtext.Sequence{{Text: "x", Style: richtext.Bold | richtext.Italic}}, "\x02\x1dx\x02\x1d"},
		{"reset", richtext.Sequence{{Text: "b", Style: richtext.Bold}, {Text: "p", Style: richtext.Reset}}, "\x02b\x0fp"},
	}
	for _, tt := range tests {
		if got := Render(tt.seq); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRenderParseKeepsStyles(t *testing.T) {
	t.Parallel()
	seq := richtext.Sequence{
		{Text: "plain "},
		{Text: "bold ", Style: richtext.Bold},
		{Text: "both ", Style: richtext.Bold | richtext.Underline},
		{Text: "mono", Style: richtext.Monospace},
		{Text: " done", Style: richtext.Reset},
	}
	parsed := Parse(Render(seq))
	if parsed.PlainText() != seq.PlainText() {
		t.Fatalf("PlainText: got %q, want %q", parsed.PlainText(), seq.PlainText())
	}
	styleAt := func(s richtext.Sequence, substr string) richtext.Style {
		for _, c := range s {
			if c.Text == substr {
				return c.Effective()
			}
		}
		return 255
	}
	for _, c := range seq {
		if got := styleAt(parsed, c.Text); got != c.Effective() {
			t.Errorf("%q: got %s, want %s", c.Text, got, c.Effective())
		}
	}
}

func TestBoldAndStrip(t *testing.T) {
	t.Parallel()
	if got := Bold("alice"); got != "\x02alice\x02" {
		t.Errorf("Bold: got %q", got)
	}
	if got := Strip("\x02al\x1dice\x0f \x0304red"); got != "alice red" {
		t.Errorf("Strip: got %q, want %q", got, "alice red")
	}
}

// ---------------------------------------------------------------------------
// FuzzParse: arbitrary IRC text must parse without panicking, and the
// chunks must reconstruct the text minus control codes.
// ---------------------------------------------------------------------------

func FuzzParse(f *testing.F) {
	f.Add("hello")
	f.Add("\x02bold\x02")
	f.Add("\x0312,04colored\x03")
	f.Add("\x04")
	f.Add("\x03")
	f.Add("\x0f\x0f\x1d")
	f.Add("ünïcödé \x1fü\x1f")

	f.Fuzz(func(t *testing.T, input string) {
		seq := Parse(input)
		if len(seq) == 0 {
			t.Fatal("Parse returned no chunks")
		}
		plain := seq.PlainText()
		for _, code := range []string{"\x02", "\x0f", "\x11", "\x16", "\x1d", "\x1e", "\x1f", "\x03", "\x04"} {
			if strings.Contains(plain, code) {
				t.Errorf("plain text still contains code %q: %q", code, plain)
			}
		}
		if utf8.ValidString(input) && !utf8.ValidString(plain) {
			t.Errorf("Parse broke UTF-8: %q -> %q", input, plain)
		}
		if again := Strip(Render(seq)); again != plain {
			t.Errorf("Render/Strip: got %q, want %q", again, plain)
		}
	})
}
