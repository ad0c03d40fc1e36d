package types

import "encoding/json"

// Real-time event names exchanged over the websocket channel
const (
	EventConnected           = "connected"
	EventJoinSession         = "join-session"
	EventJoined              = "joined"
	EventPeerReady           = "peer-ready"
	EventParticipantJoined   = "participant-joined"
	EventParticipantLeft     = "participant-left"
	EventDeviceLimitExceeded = "device-limit-exceeded"
	EventOffer               = "offer"
	EventAnswer              = "answer"
	EventIceCandidate        = "ice-candidate"
	EventError               = "error"
)

// Envelope is the frame shape for every message in both directions.
// ARCHITECTURAL DISCOVERY: Data stays raw until the event name has been
// inspected, so each handler decodes exactly the payload it owns
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope is used when the server writes a frame
type OutboundEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// JoinSessionRequest is the wire form of join-session before it is
// narrowed into a lecturer or student join.
type JoinSessionRequest struct {
	SessionCode string `json:"sessionCode"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type JoinedPayload struct {
	SessionID string    `json:"sessionId"`
	ModeType  ModeType  `json:"modeType"`
	ShareType ShareType `json:"shareType"`
}

type PeerReadyPayload struct {
	LecturerConnectionID string `json:"lecturerConnectionId"`
	SenderConnectionID   string `json:"senderConnectionId,omitempty"`
}

type ParticipantJoinedPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	ConnectionID  string `json:"connectionId"`
	Count         int    `json:"count"`
	Limit         *int   `json:"limit,omitempty"`
}

type ParticipantLeftPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Count         int    `json:"count"`
	Limit         *int   `json:"limit,omitempty"`
}

type DeviceLimitExceededPayload struct {
	SessionCode  string `json:"sessionCode"`
	CurrentCount int    `json:"currentCount"`
	Limit        int    `json:"limit"`
	AttemptedBy  string `json:"attemptedBy"`
}

// SignalRequest is an inbound offer, answer or ice-candidate.
// The payload is opaque and forwarded unexamined.
type SignalRequest struct {
	Payload            json.RawMessage `json:"payload"`
	TargetConnectionID string          `json:"targetConnectionId"`
}

// SignalPayload is the outbound form delivered to the target
type SignalPayload struct {
	Payload            json.RawMessage `json:"payload"`
	SenderConnectionID string          `json:"senderConnectionId"`
}

// PeerReadyRequest lets a lecturer tell one student it is ready
type PeerReadyRequest struct {
	LecturerConnectionID string `json:"lecturerConnectionId"`
	TargetConnectionID   string `json:"targetConnectionId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
