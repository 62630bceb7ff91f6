// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when callers pass an empty region.
const DefaultRegion = "IT"

// MinDigits is the shortest digit count accepted as a callback number.
const MinDigits = 9

// Normalize cleans a spoken or typed phone number into international form.
//
// Everything except digits and a leading "+" is dropped. "00" becomes "+",
// a national trunk "0" is replaced by the region's calling code and a bare
// calling code gets its "+". Numbers without any prefix that parse as valid
// national numbers are formatted to E.164. Normalize is idempotent.
func Normalize(input, region string) string {
	if region == "" {
		region = DefaultRegion
	}
	cleaned := clean(input)
	if cleaned == "" {
		return ""
	}

	cc := strconv.Itoa(phonenumbers.GetCountryCodeForRegion(region))

	switch {
	case strings.HasPrefix(cleaned, "+"):
	case strings.HasPrefix(cleaned, "00"):
		cleaned = "+" + cleaned[2:]
	case strings.HasPrefix(cleaned, "0"):
		cleaned = "+" + cc + strings.TrimLeft(cleaned, "0")
	default:
		if formatted, ok := formatValid(cleaned, region); ok {
			return formatted
		}
		if cc != "0" && strings.HasPrefix(cleaned, cc) {
			cleaned = "+" + cleaned
		}
	}

	if !strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	if formatted, ok := formatValid(cleaned, region); ok {
		return formatted
	}
	return cleaned
}

// DigitCount returns the number of decimal digits in s.
func DigitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// IsPlausible reports whether a normalized number has enough digits to call back.
func IsPlausible(normalized string) bool {
	return DigitCount(normalized) >= MinDigits
}

// Mask hides all but the first and last one or two digits of a number.
// "+393331234567" becomes "+39 *** 67".
func Mask(normalized string) string {
	prefix := ""
	digits := normalized
	if strings.HasPrefix(digits, "+") {
		prefix = "+"
		digits = digits[1:]
	}
	if DigitCount(digits) != len(digits) {
		digits = clean(digits)
	}

	switch {
	case len(digits) >= 8:
		return prefix + digits[:2] + " *** " + digits[len(digits)-2:]
	case len(digits) > 5:
		return prefix + digits[:1] + " *** " + digits[len(digits)-1:]
	default:
		return "******"
	}
}

func clean(input string) string {
	trimmed := strings.TrimSpace(input)
	var b strings.Builder
	b.Grow(len(trimmed))
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0 && i == strings.IndexRune(trimmed, '+'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

func formatValid(number, region string) (string, bool) {
	parsed, err := phonenumbers.Parse(number, region)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return "", false
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), true
}
