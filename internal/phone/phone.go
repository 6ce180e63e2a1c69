// Package phone normalizes phone numbers and WhatsApp chat identifiers.
package phone

import (
	"errors"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	PersonSuffix = "@c.us"
	GroupSuffix  = "@g.us"

	defaultRegion = "IL"
)

var (
	ErrInvalidNumber = errors.New("invalid phone number")
	ErrInvalidChatID = errors.New("invalid chat id")

	chatIDRe   = regexp.MustCompile(`^.+@(c|g)\.us$`)
	nonDigitRe = regexp.MustCompile(`[^0-9]`)
)

// Normalize returns the E.164 digits of raw without the leading '+'.
// Israeli national numbers ("050…") are converted to "97250…".
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidNumber
	}
	var candidate string
	switch {
	case strings.HasPrefix(s, "+"):
		candidate = "+" + nonDigitRe.ReplaceAllString(s, "")
	case strings.HasPrefix(nonDigitRe.ReplaceAllString(s, ""), "00"):
		candidate = "+" + strings.TrimPrefix(nonDigitRe.ReplaceAllString(s, ""), "00")
	case strings.HasPrefix(nonDigitRe.ReplaceAllString(s, ""), "0"):
		candidate = nonDigitRe.ReplaceAllString(s, "")
	default:
		candidate = "+" + nonDigitRe.ReplaceAllString(s, "")
	}

	num, err := phonenumbers.Parse(candidate, defaultRegion)
	if err != nil {
		return "", ErrInvalidNumber
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidNumber
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+"), nil
}

// IsChatID reports whether s looks like a WhatsApp person or group JID.
func IsChatID(s string) bool {
	return chatIDRe.MatchString(s)
}

// IsGroup reports whether s is a group JID.
func IsGroup(s string) bool {
	return strings.HasSuffix(s, GroupSuffix)
}

// ChatID turns a phone number or JID into a chat id. Group and person JIDs
// pass through (person JIDs are re-normalized); anything else must be a
// valid phone number.
func ChatID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if IsGroup(s) {
		return s, nil
	}
	s = strings.TrimSuffix(s, PersonSuffix)
	digits, err := Normalize(s)
	if err != nil {
		return "", ErrInvalidChatID
	}
	return digits + PersonSuffix, nil
}

// Digits strips the JID suffix from a chat id.
func Digits(chatID string) string {
	return strings.TrimSuffix(strings.TrimSuffix(chatID, PersonSuffix), GroupSuffix)
}

// LooksLikeNumber reports whether s is made only of phone-number characters.
func LooksLikeNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return true
}
