package model

import "regexp"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks like an email address. It is a shape
// check only; deliverability is proven by the verification email.
func ValidEmail(s string) bool {
	return len(s) <= 254 && emailPattern.MatchString(s)
}
