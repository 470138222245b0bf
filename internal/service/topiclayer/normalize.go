package topiclayer

import (
	"strings"
	"unicode/utf8"
)

const (
	minTextLen = 5
	maxTextLen = 320
)

// NormalizeText collapses whitespace runs to single spaces, trims, and
// appends a period when the text does not already end in a sentence
// terminator. Returns ErrInvalidLength when the result falls outside
// 5..320 characters.
func NormalizeText(raw string) (string, error) {
	text := strings.Join(strings.Fields(raw), " ")
	if text != "" && !strings.ContainsAny(text[len(text)-1:], ".!?") {
		text += "."
	}
	if n := utf8.RuneCountInString(text); n < minTextLen || n > maxTextLen {
		return "", ErrInvalidLength
	}
	return text, nil
}

// TextKey derives the duplicate-detection key: trailing sentence
// terminators stripped, whitespace collapsed, lowercased. Matches the
// unique expression index on the insights table.
func TextKey(text string) string {
	key := strings.TrimRight(text, ".!?")
	key = strings.Join(strings.Fields(key), " ")
	return strings.ToLower(key)
}
