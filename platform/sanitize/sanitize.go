// Package sanitize cleans free text captured from callers and web forms
// before it is stored or put into a buyer email.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// MaxFreeTextRunes caps free-text slots such as the zone.
const MaxFreeTextRunes = 120

// StripHTML removes all HTML tags from a string, including tags hidden behind entities.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = strings.ReplaceAll(result, "&lt;", "<")
	result = strings.ReplaceAll(result, "&gt;", ">")
	result = strings.ReplaceAll(result, "&amp;", "&")
	result = strings.ReplaceAll(result, "&quot;", "\"")
	result = strings.ReplaceAll(result, "&#39;", "'")
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text strips markup, collapses whitespace and truncates to MaxFreeTextRunes.
func Text(s string) string {
	result := whitespaceRegex.ReplaceAllString(StripHTML(s), " ")
	result = strings.Trim(result, " .,;")
	if utf8.RuneCountInString(result) > MaxFreeTextRunes {
		runes := []rune(result)
		result = strings.TrimSpace(string(runes[:MaxFreeTextRunes]))
	}
	return result
}
