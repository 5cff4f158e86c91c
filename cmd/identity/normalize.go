package identity

import "strings"

// NormalizeIdentifier canonicalizes a login identifier.
// Emails are trimmed and lower-cased; phone numbers lose spaces, dashes,
// dots and parentheses so "+1 (555) 010-2030" and "+15550102030" match.
func NormalizeIdentifier(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, s)
}
