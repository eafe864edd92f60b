package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString cleans free text sent by agents and operators (reject and
// reassign reasons, request ids). It trims the input, drops control
// characters and caps it at maxLen bytes without splitting a rune. A maxLen
// of zero or less disables the cap.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input))
	if maxLen <= 0 || len(cleaned) <= maxLen {
		return cleaned
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
		cut--
	}
	return strings.TrimSpace(cleaned[:cut])
}
