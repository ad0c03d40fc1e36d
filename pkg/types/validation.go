package types

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxDisplayNameLength bounds student display names
const MaxDisplayNameLength = 50

// SessionCodeLength is the number of characters in a session code
const SessionCodeLength = 8

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var sessionCodeRegex = regexp.MustCompile(`^[0-9A-Z]{8}$`)

// IsValidSessionCode reports whether code has the 8-character uppercase base-36 form.
func IsValidSessionCode(code string) bool {
	return sessionCodeRegex.MatchString(code)
}

// NormalizeSessionCode trims and uppercases a code typed by a user
func NormalizeSessionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeDisplayName trims the name and checks it.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrMissingDisplayName
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", ErrInvalidDisplayName
	}
	return name, nil
}

// IsValidModeType checks the mode against the allowed values
func IsValidModeType(m ModeType) bool {
	return m == ModeInternet || m == ModeLAN
}

// IsValidShareType checks the share type against the allowed values
func IsValidShareType(s ShareType) bool {
	return s == ShareFullScreen || s == SharePartial
}

// Validate checks the settings and clears the expiration field that does
// not belong to the chosen expiration type.
// ARCHITECTURAL DISCOVERY: Normalizing here keeps the "exactly one expiration
// field" rule true for every store implementation
func (s *SessionSettings) Validate() error {
	if !IsValidModeType(s.ModeType) {
		return fmt.Errorf("%w: modeType must be 'internet' or 'lan'", ErrInvalidSettings)
	}
	if !IsValidShareType(s.ShareType) {
		return fmt.Errorf("%w: shareType must be 'full-screen' or 'partial'", ErrInvalidSettings)
	}
	if s.ExpirationType == "" {
		s.ExpirationType = ExpirationNone
	}
	switch s.ExpirationType {
	case ExpirationNone:
		s.ExpirationDate = nil
		s.ExpirationMinutes = nil
	case ExpirationFixedDate:
		if s.ExpirationDate == nil || s.ExpirationDate.IsZero() {
			return fmt.Errorf("%w: expirationDate is required for fixed-date expiration", ErrInvalidSettings)
		}
		s.ExpirationMinutes = nil
	case ExpirationDurationMinutes:
		if s.ExpirationMinutes == nil || *s.ExpirationMinutes < 1 {
			return fmt.Errorf("%w: expirationMinutes must be at least 1", ErrInvalidSettings)
		}
		s.ExpirationDate = nil
	default:
		return fmt.Errorf("%w: unknown expirationType %q", ErrInvalidSettings, s.ExpirationType)
	}
	if s.DeviceLimit != nil && *s.DeviceLimit < 1 {
		return fmt.Errorf("%w: deviceLimit must be at least 1", ErrInvalidSettings)
	}
	return nil
}
