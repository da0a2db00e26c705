// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package irc

import (
	"strings"

	"github.com/pkg/errors"
)

// Message is one parsed IRC protocol line.
type Message struct {
	Tags    map[string]string
	Source  string
	Command string
	Params  []string
}

// ParseMessage parses a line without its trailing CRLF.
func ParseMessage(line string) (*Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errors.New("empty line")
	}
	msg := &Message{}
	rest := strings.TrimLeft(line, " ")

	if strings.HasPrefix(rest, "@") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return nil, errors.Errorf("line has tags but no command: %q", line)
		}
		msg.Tags = parseTags(rest[1:idx])
		rest = strings.TrimLeft(rest[idx+1:], " ")
	}

	if strings.HasPrefix(rest, ":") {
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			return nil, errors.Errorf("line has a source but no command: %q", line)
		}
		msg.Source = rest[1:idx]
		rest = strings.TrimLeft(rest[idx+1:], " ")
	}

	command, rest, _ := strings.Cut(rest, " ")
	if command == "" || command[0] == ':' || command[0] == '@' {
		return nil, errors.Errorf("line has no command: %q", line)
	}
	msg.Command = strings.ToUpper(command)
	rest = strings.TrimLeft(rest, " ")

	for rest != "" {
		if rest[0] == ':' {
			msg.Params = append(msg.Params, rest[1:])
			break
		}
		idx := strings.IndexByte(rest, ' ')
		if idx == -1 {
			msg.Params = append(msg.Params, rest)
			break
		}
		msg.Params = append(msg.Params, rest[:idx])
		rest = strings.TrimLeft(rest[idx+1:], " ")
	}
	return msg, nil
}

// Nick returns the nickname part of the message source.
func (m *Message) Nick() string {
	if idx := strings.IndexByte(m.Source, '!'); idx != -1 {
		return m.Source[:idx]
	}
	return m.Source
}

// Param returns the i-th parameter or an empty string.
func (m *Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// String encodes the message without tags. The last parameter is sent as a
// trailing parameter when it needs to be.
func (m *Message) String() string {
	var sb strings.Builder
	if m.Source != "" {
		sb.WriteByte(':')
		sb.WriteString(m.Source)
		sb.WriteByte(' ')
	}
	sb.WriteString(m.Command)
	for i, param := range m.Params {
		sb.WriteByte(' ')
		if i == len(m.Params)-1 && (param == "" || param[0] == ':' || strings.ContainsRune(param, ' ')) {
			sb.WriteByte(':')
		}
		sb.WriteString(param)
	}
	return sb.String()
}

// ErrUnsafeParam is returned for parameters that would break out of the
// line they are written on.
var ErrUnsafeParam = errors.New("parameter contains CR, LF or NUL")

// Validate checks that the message encodes to exactly one protocol line.
func (m *Message) Validate() error {
	if m.Command == "" || strings.ContainsAny(m.Command, " \r\n\x00") {
		return errors.Errorf("invalid command %q", m.Command)
	}
	for i, param := range m.Params {
		if strings.ContainsAny(param, "\r\n\x00") {
			return errors.Wrapf(ErrUnsafeParam, "%s parameter %d", m.Command, i)
		}
		if i < len(m.Params)-1 && (param == "" || param[0] == ':' || strings.ContainsRune(param, ' ')) {
			return errors.Errorf("%s parameter %d must be the last one: %q", m.Command, i, param)
		}
	}
	return nil
}

func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, kv := range strings.Split(raw, ";") {
		if kv == "" {
			continue
		}
		key, val, _ := strings.Cut(kv, "=")
		tags[key] = unescapeTag(val)
	}
	return tags
}

func unescapeTag(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			break
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

const ctcpDelim = "\x01"

// parseCTCP splits a CTCP-framed message into its command and argument.
// The closing delimiter is optional.
func parseCTCP(text string) (command, arg string, ok bool) {
	if !strings.HasPrefix(text, ctcpDelim) {
		return "", "", false
	}
	text = strings.TrimSuffix(text[1:], ctcpDelim)
	command, arg, _ = strings.Cut(text, " ")
	return strings.ToUpper(command), arg, true
}

// stripNickPrefix removes channel membership prefixes from a NAMES entry.
func stripNickPrefix(name string) string {
	return strings.TrimLeft(name, "~&@%+")
}

// lineBreaks turns every CR, LF or CRLF into a single LF and drops NULs.
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\x00", "")

// SplitText breaks text into IRC-sized lines. CR and LF always split; lines
// longer than limit bytes are cut at rune boundaries. Empty lines and NUL
// bytes are dropped.
func SplitText(text string, limit int) []string {
	var out []string
	for _, line := range strings.Split(lineBreaks.Replace(text), "\n") {
		for len(line) > limit && limit > 0 {
			cut := limit
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
			out = append(out, line[:cut])
			line = line[cut:]
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
