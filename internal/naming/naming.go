// Package naming derives file and table names from input identities.
package naming

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var invalidChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)
var multiUnderscores = regexp.MustCompile(`_+`)

// SplitStanza splits a modular input stanza such as "bigquery://orders" into
// its scheme kind and input name.
func SplitStanza(stanza string) (kind, name string, err error) {
	kind, name, ok := strings.Cut(stanza, "://")
	if !ok || kind == "" || name == "" {
		return "", "", fmt.Errorf("invalid stanza name %q: expected kind://name", stanza)
	}
	return kind, name, nil
}

// CheckpointFile converts an input name into a checkpoint file name.
//
// Only letters, digits and spaces are kept, and trailing spaces are trimmed.
// Distinct names can collapse onto the same file; "a-b" and "ab" both map to
// "ab".
func CheckpointFile(name string) string {
	kept := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			return r
		}
		return -1
	}, name)
	return strings.TrimRight(kept, " \t\r\n")
}

// TableName converts an input name into a destination table name, prefixed
// with "bigquery_".
//
// Invalid characters (hyphens, dots, spaces, etc.) are replaced with "_",
// consecutive underscores are collapsed, and leading and trailing underscores
// are trimmed before the prefix is applied.
func TableName(name string) string {
	raw := strings.ToLower(name)
	raw = invalidChars.ReplaceAllString(raw, "_")
	raw = multiUnderscores.ReplaceAllString(raw, "_")
	raw = strings.Trim(raw, "_")
	if raw == "" {
		return "bigquery_events"
	}
	return "bigquery_" + raw
}
