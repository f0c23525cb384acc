package llm

import "strings"

// SanitizeChunk cleans one streamed token before it is wrapped as a Token
// event. Control characters other than newline and tab, C1 controls, byte
// order marks, and bytes that do not form valid UTF-8 are dropped. The result
// may be empty; emitting an empty token is the caller's call.
func SanitizeChunk(s string) string {
	if s == "" {
		return s
	}
	if isCleanChunk(s) {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keepRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isCleanChunk is the fast path: most chunks carry no junk and need no copy.
func isCleanChunk(s string) bool {
	for _, r := range s {
		if !keepRune(r) || r == '�' {
			return false
		}
	}
	return true
}

func keepRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return true
	case r < 0x20 || r == 0x7F:
		return false
	case r >= 0x80 && r <= 0x9F:
		return false
	case r == '﻿':
		return false
	}
	return true
}
