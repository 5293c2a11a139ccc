package domain

import "strings"

// NormalizePhoneNumber reduces a phone number to "+" and digits.
// Ten-digit numbers are assumed to be North American and get a leading 1.
func NormalizePhoneNumber(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		digits = "1" + digits
	}
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidPhoneNumber
	}
	return "+" + digits, nil
}
