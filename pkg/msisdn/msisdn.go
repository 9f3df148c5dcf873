// Package msisdn normalizes Nigerian phone numbers to their international
// form (234XXXXXXXXXX) as used for WhatsApp identifiers.
package msisdn

import "strings"

const countryCode = "234"

// Normalize strips formatting characters and rewrites local notation to the
// international 234 form. Output is a fixed point: normalizing an already
// normalized number returns it unchanged. Inputs that do not look Nigerian
// are returned digits-only and untouched otherwise.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, countryCode) && len(digits) == 13:
		return digits
	case strings.HasPrefix(digits, "0") && len(digits) == 11:
		return countryCode + digits[1:]
	case len(digits) == 10 && isMobilePrefix(digits[0]):
		return countryCode + digits
	default:
		return digits
	}
}

// IsValid reports whether s is a normalized Nigerian mobile number.
func IsValid(s string) bool {
	if len(s) != 13 || !strings.HasPrefix(s, countryCode) {
		return false
	}
	if !isMobilePrefix(s[3]) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Mask hides the middle of an identifier for logs and alert mails.
func Mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:6] + strings.Repeat("*", len(s)-8) + s[len(s)-2:]
}

func isMobilePrefix(c byte) bool {
	return c == '7' || c == '8' || c == '9'
}
