package util

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

var (
	phonePattern = regexp.MustCompile(`^[0-9]{9,15}$`)
	sixDigits    = regexp.MustCompile(`^[0-9]{6}$`)
)

// ContainsSuspicious reports markup delimiters, template fragments or
// control characters in user text. Ordinary words are never matched.
func ContainsSuspicious(s string) bool {
	for _, c := range []string{"<", ">", "${", "{{"} {
		if strings.Contains(s, c) {
			return true
		}
	}
	return strings.ContainsFunc(s, unicode.IsControl)
}

// NormalizePhone strips formatting characters and a leading plus sign.
// The result is digits only when the input was a plausible phone number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			// keep the invalid rune so validation rejects it
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidPhone expects an already normalized phone number.
func IsValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// IsSixDigits validates PINs and one-time codes.
func IsSixDigits(s string) bool {
	return sixDigits.MatchString(s)
}

// NormalizeEmail lowercases and trims an address, returning false when it
// does not parse as a bare address.
func NormalizeEmail(email string) (string, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return email, true
}

// IsEmail reports whether an identifier should be treated as an email
// address rather than a phone number.
func IsEmail(identifier string) bool {
	return strings.ContainsRune(identifier, '@')
}

// HasLetterOrDigit reports whether s contains at least one letter or digit.
func HasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
