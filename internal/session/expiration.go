package session

import (
	"time"

	"classwatch/pkg/types"
)

// IsExpired reports whether the session's expiration policy has elapsed at now.
// A policy missing its date or duration never expires.
func IsExpired(s *types.Session, now time.Time) bool {
	switch s.ExpirationType {
	case types.ExpirationFixedDate:
		if s.ExpirationDate == nil {
			return false
		}
		return now.After(*s.ExpirationDate)
	case types.ExpirationDurationMinutes:
		if s.ExpirationMinutes == nil {
			return false
		}
		return now.After(s.CreatedAt.Add(time.Duration(*s.ExpirationMinutes) * time.Minute))
	default:
		return false
	}
}

// IsJoinable is the gate every join passes: active and not expired
func IsJoinable(s *types.Session, now time.Time) bool {
	return s.IsActive && !IsExpired(s, now)
}
