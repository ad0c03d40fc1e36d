// Package memory is an in-process interfaces.Store used by tests and by the
// "memory" database driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

type participantKey struct {
	sessionID    string
	connectionID string
}

// Store keeps sessions and participant rows in maps guarded by one mutex.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*types.Session // id -> session
	codes        map[string]string         // code -> id
	participants map[string]*types.ParticipantRecord
	byKey        map[participantKey]string // (session, connection) -> participant id
	closed       bool
}

// New creates an empty store
func New() *Store {
	return &Store{
		sessions:     make(map[string]*types.Session),
		codes:        make(map[string]string),
		participants: make(map[string]*types.ParticipantRecord),
		byKey:        make(map[participantKey]string),
	}
}

func copySession(s *types.Session) *types.Session {
	c := *s
	if s.ExpirationDate != nil {
		d := *s.ExpirationDate
		c.ExpirationDate = &d
	}
	if s.ExpirationMinutes != nil {
		m := *s.ExpirationMinutes
		c.ExpirationMinutes = &m
	}
	if s.DeviceLimit != nil {
		l := *s.DeviceLimit
		c.DeviceLimit = &l
	}
	return &c
}

func copyParticipant(p *types.ParticipantRecord) *types.ParticipantRecord {
	c := *p
	if p.DisconnectedAt != nil {
		d := *p.DisconnectedAt
		c.DisconnectedAt = &d
	}
	return &c
}

func (s *Store) FindSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	return copySession(s.sessions[id]), nil
}

func (s *Store) FindSessionByID(ctx context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	return copySession(session), nil
}

func (s *Store) InsertSessionIfCodeUnique(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[session.Code]; taken {
		return interfaces.ErrDuplicateCode
	}
	s.sessions[session.ID] = copySession(session)
	s.codes[session.Code] = session.ID
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[session.ID]
	if !ok {
		return types.ErrSessionNotFound
	}
	updated := copySession(session)
	// code, owner and creation time are immutable
	updated.Code = existing.Code
	updated.OwnerID = existing.OwnerID
	updated.CreatedAt = existing.CreatedAt
	s.sessions[session.ID] = updated
	return nil
}

func (s *Store) ListSessionsByOwner(ctx context.Context, ownerID string, limit int) ([]*types.Session, error) {
	s.mu.RLock()
	var sessions []*types.Session
	for _, session := range s.sessions {
		if session.OwnerID == ownerID {
			sessions = append(sessions, copySession(session))
		}
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (s *Store) UpsertParticipant(ctx context.Context, record *types.ParticipantRecord) (*types.ParticipantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[record.SessionID]; !ok {
		return nil, types.ErrSessionNotFound
	}

	key := participantKey{sessionID: record.SessionID, connectionID: record.ConnectionID}
	if id, ok := s.byKey[key]; ok {
		existing := s.participants[id]
		existing.DisplayName = record.DisplayName
		existing.IsActive = true
		existing.ConnectedAt = record.ConnectedAt
		existing.DisconnectedAt = nil
		return copyParticipant(existing), nil
	}

	stored := copyParticipant(record)
	stored.IsActive = true
	stored.DisconnectedAt = nil
	s.participants[stored.ID] = stored
	s.byKey[key] = stored.ID
	return copyParticipant(stored), nil
}

func (s *Store) CountActiveParticipants(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.participants {
		if p.SessionID == sessionID && p.IsActive {
			count++
		}
	}
	return count, nil
}

func (s *Store) FindActiveParticipantByConnectionID(ctx context.Context, connectionID string) (*types.ParticipantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if p.ConnectionID == connectionID && p.IsActive {
			return copyParticipant(p), nil
		}
	}
	return nil, interfaces.ErrParticipantNotFound
}

func (s *Store) MarkParticipantInactive(ctx context.Context, participantID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok || !p.IsActive {
		return false, nil
	}
	p.IsActive = false
	disconnectedAt := at
	p.DisconnectedAt = &disconnectedAt
	return true, nil
}

func (s *Store) ListActiveParticipants(ctx context.Context, sessionID string) ([]*types.ParticipantRecord, error) {
	s.mu.RLock()
	var records []*types.ParticipantRecord
	for _, p := range s.participants {
		if p.SessionID == sessionID && p.IsActive {
			records = append(records, copyParticipant(p))
		}
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].ConnectedAt.After(records[j].ConnectedAt)
	})
	return records, nil
}

func (s *Store) DeactivateAllParticipants(ctx context.Context, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, p := range s.participants {
		if p.IsActive {
			p.IsActive = false
			disconnectedAt := at
			p.DisconnectedAt = &disconnectedAt
			changed++
		}
	}
	return changed, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
