package common

import "strings"

// NormalizeName returns the lookup form of an entity surface name or type
// label: trimmed, inner whitespace collapsed to single spaces, upper-cased.
// All exact-match resolution and alias comparison goes through it.
func NormalizeName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.Join(strings.Fields(value), " ")
	return strings.ToUpper(value)
}

// NormalizeValue is the comparison form of an attribute value: trimmed,
// whitespace-collapsed, lower-cased. Two attribute values conflict only
// when their normalized forms differ.
func NormalizeValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.Join(strings.Fields(value), " ")
	return strings.ToLower(value)
}

// IdentityKey is the exact-match index key for an entity: normalized name
// plus normalized type, so same-named entities of different types never
// collide.
func IdentityKey(name, entityType string) string {
	return NormalizeName(name) + "|" + NormalizeName(entityType)
}
