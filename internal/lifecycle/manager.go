// Package lifecycle runs the per-connection join/leave state machine and
// owns the device-limit critical section of every session.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"classwatch/internal/metrics"
	"classwatch/internal/participant"
	"classwatch/internal/session"
	"classwatch/internal/websocket"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// State of one connection
type State string

const (
	StateConnecting       State = "connecting"
	StateJoinedAsLecturer State = "joined-as-lecturer"
	StateJoinedAsStudent  State = "joined-as-student"
	StateLeft             State = "left"
)

// Manager coordinates the session registry, the participant registry and the
// live room membership.
// ARCHITECTURAL DISCOVERY: Membership changes of one session are serialized
// through a per-session lock; different sessions never contend
type Manager struct {
	sessions     *session.Registry
	participants *participant.Registry
	registry     *websocket.Registry
	locks        *sessionLocks
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock replaces the time source used for expiration checks
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a lifecycle manager
func NewManager(sessions *session.Registry, participants *participant.Registry, registry *websocket.Registry, opts ...Option) *Manager {
	m := &Manager{
		sessions:     sessions,
		participants: participants,
		registry:     registry,
		locks:        newSessionLocks(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "lifecycle")
	return m
}

// Connect registers a new connection and tells it its id
func (m *Manager) Connect(conn interfaces.Connection) error {
	if err := m.registry.Register(conn); err != nil {
		return err
	}
	if err := conn.Send(types.EventConnected, types.ConnectedPayload{ConnectionID: conn.ID()}); err != nil {
		m.logger.Debug("failed to send connected event", "connection_id", conn.ID(), "error", err)
	}
	return nil
}

// State reports where the connection is in its lifecycle
func (m *Manager) State(connID string) State {
	if member, attached := m.registry.Membership(connID); attached {
		if member.Role == types.RoleLecturer {
			return StateJoinedAsLecturer
		}
		return StateJoinedAsStudent
	}
	if _, registered := m.registry.Get(connID); registered {
		return StateConnecting
	}
	return StateLeft
}

// Join attaches a connection to a session room.
// The returned error is meant for the requesting connection only; the
// device-limit broadcast to the rest of the room has already happened.
func (m *Manager) Join(ctx context.Context, connID string, cmd JoinCommand) error {
	role := cmd.role()
	err := m.join(ctx, connID, cmd)
	switch {
	case err == nil:
		m.metrics.Join(string(role), metrics.ResultOK)
	case errors.Is(err, types.ErrStoreFailure):
		m.metrics.Join(string(role), metrics.ResultError)
		m.logger.Error("join failed", "connection_id", connID, "role", role, "error", err)
	default:
		m.metrics.Join(string(role), metrics.ResultRejected)
		m.logger.Info("join rejected", "connection_id", connID, "role", role, "reason", err)
	}
	return err
}

func (m *Manager) join(ctx context.Context, connID string, cmd JoinCommand) error {
	conn, registered := m.registry.Get(connID)
	if !registered {
		return fmt.Errorf("join from unknown connection %s: %w", connID, websocket.ErrConnectionNotFound)
	}
	if _, attached := m.registry.Membership(connID); attached {
		return types.ErrAlreadyJoined
	}

	s, err := m.sessions.FindByCode(ctx, cmd.code())
	if err != nil {
		return err
	}
	if !session.IsJoinable(s, m.now()) {
		return types.ErrSessionUnavailable
	}

	switch c := cmd.(type) {
	case LecturerJoin:
		return m.joinLecturer(conn, s)
	case StudentJoin:
		return m.joinStudent(ctx, conn, s, c.DisplayName)
	default:
		return types.ErrInvalidRole
	}
}

func (m *Manager) joinLecturer(conn interfaces.Connection, s *types.Session) error {
	unlock := m.locks.Lock(s.ID)
	defer unlock()

	if err := m.registry.Attach(s.ID, conn.ID(), types.RoleLecturer); err != nil {
		return err
	}

	m.broadcast(s.ID, conn.ID(), types.EventPeerReady, types.PeerReadyPayload{LecturerConnectionID: conn.ID()})
	m.reply(conn, types.EventJoined, joinedPayload(s))

	m.logger.Info("lecturer joined", "session_id", s.ID, "connection_id", conn.ID())
	return nil
}

// joinStudent enforces the device limit.
// TECHNICAL DISCOVERY: Count, upsert and attach run inside one per-session
// critical section, otherwise two joins can both observe count < limit
func (m *Manager) joinStudent(ctx context.Context, conn interfaces.Connection, s *types.Session, displayName string) error {
	name, err := types.NormalizeDisplayName(displayName)
	if err != nil {
		return err
	}

	unlock := m.locks.Lock(s.ID)
	defer unlock()

	count, err := m.participants.CountActive(ctx, s.ID)
	if err != nil {
		return err
	}
	if s.DeviceLimit != nil && count >= *s.DeviceLimit {
		m.broadcast(s.ID, conn.ID(), types.EventDeviceLimitExceeded, types.DeviceLimitExceededPayload{
			SessionCode:  s.Code,
			CurrentCount: count,
			Limit:        *s.DeviceLimit,
			AttemptedBy:  name,
		})
		return types.DeviceLimitError(*s.DeviceLimit)
	}

	record, err := m.participants.UpsertActive(ctx, s.ID, conn.ID(), name)
	if err != nil {
		return err
	}

	if err := m.registry.Attach(s.ID, conn.ID(), types.RoleStudent); err != nil {
		// the connection vanished mid-join, give the slot back
		if _, _, markErr := m.participants.MarkInactive(ctx, conn.ID()); markErr != nil {
			m.logger.Warn("failed to release participant after attach failure", "connection_id", conn.ID(), "error", markErr)
		}
		return err
	}

	count, err = m.participants.CountActive(ctx, s.ID)
	if err != nil {
		// the join itself is durable; report the best count we have
		m.logger.Warn("failed to recount participants", "session_id", s.ID, "error", err)
		count++
	}

	m.broadcast(s.ID, "", types.EventParticipantJoined, types.ParticipantJoinedPayload{
		ParticipantID: record.ID,
		DisplayName:   record.DisplayName,
		ConnectionID:  conn.ID(),
		Count:         count,
		Limit:         s.DeviceLimit,
	})
	m.reply(conn, types.EventJoined, joinedPayload(s))

	m.logger.Info("student joined",
		"session_id", s.ID,
		"connection_id", conn.ID(),
		"participant_id", record.ID,
		"count", count)
	return nil
}

// Leave handles a transport disconnect. It always completes locally: the
// connection is removed from the room before any store access, and store
// failures are logged and swallowed.
func (m *Manager) Leave(ctx context.Context, connID string) {
	member, attached := m.registry.Unregister(connID)
	if !attached {
		// never joined, or a concurrent Leave already took it
		return
	}
	if member.Role == types.RoleLecturer {
		m.logger.Info("lecturer left", "session_id", member.SessionID, "connection_id", connID)
		return
	}

	unlock := m.locks.Lock(member.SessionID)
	defer unlock()

	record, transitioned, err := m.participants.MarkInactive(ctx, connID)
	if err != nil {
		m.logger.Error("failed to mark participant inactive", "session_id", member.SessionID, "connection_id", connID, "error", err)
		return
	}
	if !transitioned {
		return
	}
	m.metrics.Leave()

	count, err := m.participants.CountActive(ctx, member.SessionID)
	if err != nil {
		m.logger.Warn("failed to recount participants", "session_id", member.SessionID, "error", err)
		return
	}

	var limit *int
	if s, err := m.sessions.FindByID(ctx, member.SessionID); err == nil {
		limit = s.DeviceLimit
	} else {
		m.logger.Warn("failed to load session for participant-left", "session_id", member.SessionID, "error", err)
	}

	m.broadcast(member.SessionID, "", types.EventParticipantLeft, types.ParticipantLeftPayload{
		ParticipantID: record.ID,
		DisplayName:   record.DisplayName,
		Count:         count,
		Limit:         limit,
	})
	m.logger.Info("student left", "session_id", member.SessionID, "connection_id", connID, "count", count)
}

// broadcast sends to every connection of the session room except exclude.
// FUNCTIONAL DISCOVERY: Best-effort, a failed send is logged and skipped
func (m *Manager) broadcast(sessionID, exclude, event string, data interface{}) {
	for _, conn := range m.registry.RoomConnections(sessionID) {
		if conn.ID() == exclude {
			continue
		}
		if err := conn.Send(event, data); err != nil {
			m.logger.Debug("broadcast send failed", "event", event, "connection_id", conn.ID(), "error", err)
		}
	}
}

func (m *Manager) reply(conn interfaces.Connection, event string, data interface{}) {
	if err := conn.Send(event, data); err != nil {
		m.logger.Debug("reply send failed", "event", event, "connection_id", conn.ID(), "error", err)
	}
}

func joinedPayload(s *types.Session) types.JoinedPayload {
	return types.JoinedPayload{
		SessionID: s.ID,
		ModeType:  s.ModeType,
		ShareType: s.ShareType,
	}
}
