package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxQueryLength is the longest accepted query, in characters.
const MaxQueryLength = 1000

// MaxDisplayNameLength bounds names chosen with joinChat.
const MaxDisplayNameLength = 64

// MaxSessionIDLength bounds client-chosen REST session ids.
const MaxSessionIDLength = 128

// ValidateQuery validates a chat query.
func ValidateQuery(query string) error {
	if !utf8.ValidString(query) {
		return errors.New("query must be valid UTF-8")
	}
	if strings.TrimSpace(query) == "" {
		return errors.New("query is required and cannot be empty")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return errors.New("query must be at most 1000 characters")
	}
	return nil
}

// ValidateDisplayName validates a display name.
func ValidateDisplayName(name string) error {
	if !utf8.ValidString(name) {
		return errors.New("display name must be valid UTF-8")
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("display name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return errors.New("display name exceeds maximum length")
	}
	return nil
}

// ValidateSessionID validates an optional REST session id. Empty is allowed.
func ValidateSessionID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > MaxSessionIDLength {
		return errors.New("session id exceeds maximum length")
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || r == '.' || r == ':' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')) {
			return errors.New("session id may only contain letters, digits and -_.:")
		}
	}
	return nil
}
