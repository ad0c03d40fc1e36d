package types

import (
	"time"
)

// ModeType is the network mode the lecturer chose for screen sharing.
type ModeType string

const (
	ModeInternet ModeType = "internet"
	ModeLAN      ModeType = "lan"
)

// ShareType tells students whether to share the full screen or a window.
type ShareType string

const (
	ShareFullScreen ShareType = "full-screen"
	SharePartial    ShareType = "partial"
)

// ExpirationType selects how a session expires.
type ExpirationType string

const (
	ExpirationNone            ExpirationType = "none"
	ExpirationFixedDate       ExpirationType = "fixed-date"
	ExpirationDurationMinutes ExpirationType = "duration-minutes"
)

// Role of a connection inside a session room
type Role string

const (
	RoleLecturer Role = "lecturer"
	RoleStudent  Role = "student"
)

// Session is one lecturer-initiated monitoring period.
// ARCHITECTURAL DISCOVERY: Code is the public identity used by students,
// ID is the storage identity used by participant rows
type Session struct {
	ID                string         `json:"id"`
	Code              string         `json:"sessionCode"`
	OwnerID           string         `json:"ownerId"`
	ModeType          ModeType       `json:"modeType"`
	ShareType         ShareType      `json:"shareType"`
	ExpirationType    ExpirationType `json:"expirationType"`
	ExpirationDate    *time.Time     `json:"expirationDate,omitempty"`
	ExpirationMinutes *int           `json:"expirationMinutes,omitempty"`
	DeviceLimit       *int           `json:"deviceLimit,omitempty"`
	IsActive          bool           `json:"isActive"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Settings returns the mutable part of the session
func (s *Session) Settings() SessionSettings {
	return SessionSettings{
		ModeType:          s.ModeType,
		ShareType:         s.ShareType,
		ExpirationType:    s.ExpirationType,
		ExpirationDate:    s.ExpirationDate,
		ExpirationMinutes: s.ExpirationMinutes,
		DeviceLimit:       s.DeviceLimit,
	}
}

// Apply replaces every mutable field with the given settings.
func (s *Session) Apply(settings SessionSettings) {
	s.ModeType = settings.ModeType
	s.ShareType = settings.ShareType
	s.ExpirationType = settings.ExpirationType
	s.ExpirationDate = settings.ExpirationDate
	s.ExpirationMinutes = settings.ExpirationMinutes
	s.DeviceLimit = settings.DeviceLimit
}

// SessionSettings holds the fields a lecturer chooses at creation and may edit later.
type SessionSettings struct {
	ModeType          ModeType       `json:"modeType"`
	ShareType         ShareType      `json:"shareType"`
	ExpirationType    ExpirationType `json:"expirationType"`
	ExpirationDate    *time.Time     `json:"expirationDate,omitempty"`
	ExpirationMinutes *int           `json:"expirationMinutes,omitempty"`
	DeviceLimit       *int           `json:"deviceLimit,omitempty"`
}

// ParticipantRecord is the durable row for one student connection in a session.
// FUNCTIONAL DISCOVERY: Rows are never deleted, only marked inactive,
// so the history stays available for counting and audit
type ParticipantRecord struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"sessionId"`
	ConnectionID   string     `json:"connectionId"`
	DisplayName    string     `json:"displayName"`
	IsActive       bool       `json:"isActive"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// Identity is a verified caller of the HTTP API
type Identity struct {
	OwnerID    string `json:"ownerId"`
	Role       string `json:"role"`
	IsApproved bool   `json:"isApproved"`
}
