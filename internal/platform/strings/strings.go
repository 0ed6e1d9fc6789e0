// Package strings provides text helpers shared by transformers and adapters
package strings

import (
	std "strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Shorten collapses whitespace and truncates s on word boundaries so the result,
// placeholder included, is at most width runes. A first word that cannot fit
// yields the placeholder alone.
func Shorten(s string, width int, placeholder string) string {
	words := std.Fields(s)
	joined := std.Join(words, " ")
	if utf8.RuneCountInString(joined) <= width {
		return joined
	}

	budget := width - utf8.RuneCountInString(placeholder)
	var b std.Builder
	n := 0
	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		next := n + wl
		if n > 0 {
			next++
		}
		if next > budget {
			break
		}
		if n > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		n = next
	}
	if n == 0 {
		return std.TrimLeft(placeholder, " ")
	}
	return b.String() + placeholder
}

// NFC returns s in Unicode normalization form C
func NFC(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

// LastSegment returns the part of a slash separated path after the final slash
func LastSegment(path string) string {
	path = std.TrimRight(path, "/")
	if i := std.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
