package strings

import (
	"strings"
)

// DefaultSnippetLen is the default length of server response snippets quoted
// in error messages.
const DefaultSnippetLen = 120

// minSnippetLen leaves room for one character plus "...".
const minSnippetLen = 4

// Snippet collapses s to a single line and truncates it to maxLen runes,
// ending in "..." when shortened. maxLen values below 4 are raised to 4.
func Snippet(s string, maxLen int) string {
	if maxLen < minSnippetLen {
		maxLen = minSnippetLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
