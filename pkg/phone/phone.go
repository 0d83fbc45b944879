// Package phone provides phone number utilities.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const DefaultRegion = "US"

// NormalizeE164 formats a phone number to E.164 using region for numbers
// without a country prefix. If parsing fails, it returns the trimmed input.
func NormalizeE164(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	if region == "" {
		region = DefaultRegion
	}

	number, err := phonenumbers.Parse(trimmed, strings.ToUpper(region))
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// Digits strips everything but digits, e.g. "+1 (555) 123" -> "1555123".
func Digits(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
