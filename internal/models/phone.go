package models

import "regexp"

// Telnyx-friendly E.164: "+" followed by 7-14 digits (8-15 chars total).
var e164Pattern = regexp.MustCompile(`^\+[0-9]{7,14}$`)

// IsE164 reports whether phone is a syntactically valid E.164 number.
func IsE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}
