package util

import "strings"

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// Returns the original string if it's shorter than maxLen, otherwise returns
// the first maxLen characters. This prevents index out of bounds errors when
// logging sensitive data like tokens, where only a prefix should be shown.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for concatenation and comparison by removing
// trailing slashes. Joining a well-known suffix onto an issuer must neither
// drop nor duplicate path separators, so callers normalize first.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// JoinSpaceDelimited canonicalizes a list of values into the single
// space-delimited string shape used by the scope, prompt and ui_locales
// parameters. Empty and whitespace-only elements are dropped; an empty
// resulting list canonicalizes to the empty string, which the request
// builders treat as "unset".
func JoinSpaceDelimited(values []string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, " ")
}

// SplitSpaceDelimited splits a space-delimited parameter value back into its
// elements. Consecutive separators produce no empty elements; an empty or
// whitespace-only input yields nil.
func SplitSpaceDelimited(joined string) []string {
	fields := strings.Fields(joined)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
