// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package nicksanitize stops relayed text from highlighting IRC users whose
// nicknames appear in it.
package nicksanitize

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Breaker is inserted after the first character of a nickname. It is
// invisible but makes IRC clients stop matching the nickname.
const Breaker = "\ufeff"

// SanitizeName breaks a single name so it no longer highlights its owner.
func SanitizeName(name string) string {
	if name == "" {
		return name
	}
	_, size := utf8.DecodeRuneInString(name)
	return name[:size] + Breaker + name[size:]
}

// Sanitizer neutralises every standalone occurrence of a fixed set of
// nicknames. "[nick]" passes through as "nick" to allow intentional pings.
type Sanitizer struct {
	re *regexp.Regexp
}

// New compiles a sanitizer for the given nicknames. Empty nicknames are
// ignored; longer nicknames take precedence over their prefixes.
func New(nicks []string) *Sanitizer {
	filtered := make([]string, 0, len(nicks))
	for _, nick := range nicks {
		if nick != "" {
			filtered = append(filtered, nick)
		}
	}
	if len(filtered) == 0 {
		return &Sanitizer{}
	}
	slices.SortStableFunc(filtered, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	quoted := make([]string, len(filtered))
	for i, nick := range filtered {
		quoted[i] = regexp.QuoteMeta(nick)
	}
	alt := strings.Join(quoted, "|")
	return &Sanitizer{re: regexp.MustCompile(`(?i)\[(` + alt + `)\]|(` + alt + `)`)}
}

// Sanitize rewrites text in a single pass. Offsets are taken from the
// original text.
func (s *Sanitizer) Sanitize(text string) string {
	if s == nil || s.re == nil || text == "" {
		return text
	}
	matches := s.re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text) + len(matches)*len(Breaker))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		sb.WriteString(text[last:start])
		last = end
		if m[2] >= 0 {
			sb.WriteString(text[m[2]:m[3]])
			continue
		}
		found := text[start:end]
		if partialWord(text, start, end) {
			sb.WriteString(found)
			continue
		}
		sb.WriteString(SanitizeName(found))
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// partialWord reports whether text[start:end] continues an alphanumeric
// word on either side. The check applies only on a side where the match
// itself starts or ends with an alphanumeric character, so "_bob" inside
// "my_bob" is still broken.
func partialWord(text string, start, end int) bool {
	found := text[start:end]
	first, _ := utf8.DecodeRuneInString(found)
	if isAlnum(first) && start > 0 {
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		if isAlnum(before) {
			return true
		}
	}
	lastRune, _ := utf8.DecodeLastRuneInString(found)
	if isAlnum(lastRune) && end < len(text) {
		after, _ := utf8.DecodeRuneInString(text[end:])
		if isAlnum(after) {
			return true
		}
	}
	return false
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Sanitize is a convenience wrapper for one-off use.
func Sanitize(text string, nicks []string) string {
	return New(nicks).Sanitize(text)
}
