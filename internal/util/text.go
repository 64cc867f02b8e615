package util

import "strings"

// SanitizePostgresText strips invalid UTF-8 sequences and NUL bytes,
// neither of which Postgres text columns accept.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// FirstNWords returns the first n whitespace-separated words of content,
// or all of it when shorter. Used to bound corpus samples fed to prompts.
func FirstNWords(content string, n int) string {
	words := strings.Fields(content)
	if len(words) <= n {
		return content
	}
	return strings.Join(words[:n], " ")
}
