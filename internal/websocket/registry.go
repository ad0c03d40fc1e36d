package websocket

import (
	"sync"

	"classwatch/internal/metrics"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Member is the room a connection is attached to
type Member struct {
	SessionID string
	Role      types.Role
}

// Stats is a snapshot of the registry
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Lecturers   int `json:"lecturers"`
	Students    int `json:"students"`
}

// Registry owns the live connection map and the room membership.
// ARCHITECTURAL DISCOVERY: An explicit object instead of process-wide state,
// so tests can run isolated servers side by side
type Registry struct {
	mu               sync.RWMutex                                // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections      map[string]interfaces.Connection            // connID -> Connection
	members          map[string]Member                           // connID -> room
	sessionLecturers map[string]map[string]interfaces.Connection // sessionID -> connID -> Connection
	sessionStudents  map[string]map[string]interfaces.Connection // sessionID -> connID -> Connection
	metrics          *metrics.Metrics
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		connections:      make(map[string]interfaces.Connection),
		members:          make(map[string]Member),
		sessionLecturers: make(map[string]map[string]interfaces.Connection),
		sessionStudents:  make(map[string]map[string]interfaces.Connection),
		metrics:          m,
	}
}

// Register adds a live connection that is not yet in any room
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	r.metrics.SetConnections(len(r.connections))
	return nil
}

// Unregister removes the connection and detaches it from its room.
// Idempotent; returns the room it was attached to, if any.
func (r *Registry) Unregister(connID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, attached := r.detachLocked(connID)
	delete(r.connections, connID)
	r.metrics.SetConnections(len(r.connections))
	return member, attached
}

// Attach puts a registered connection into a session room
func (r *Registry) Attach(sessionID, connID string, role types.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connID]
	if !exists {
		return ErrConnectionNotFound
	}
	if _, attached := r.members[connID]; attached {
		return ErrAlreadyAttached
	}

	rooms := r.sessionStudents
	if role == types.RoleLecturer {
		rooms = r.sessionLecturers
	}
	if rooms[sessionID] == nil {
		rooms[sessionID] = make(map[string]interfaces.Connection)
	}
	rooms[sessionID][connID] = conn
	r.members[connID] = Member{SessionID: sessionID, Role: role}
	r.metrics.SetRooms(r.roomCountLocked())
	return nil
}

// Detach removes the connection from its room but keeps it registered
func (r *Registry) Detach(connID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detachLocked(connID)
}

func (r *Registry) detachLocked(connID string) (Member, bool) {
	member, attached := r.members[connID]
	if !attached {
		return Member{}, false
	}
	delete(r.members, connID)

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	rooms := r.sessionStudents
	if member.Role == types.RoleLecturer {
		rooms = r.sessionLecturers
	}
	if room, exists := rooms[member.SessionID]; exists {
		delete(room, connID)
		if len(room) == 0 {
			delete(rooms, member.SessionID)
		}
	}
	r.metrics.SetRooms(r.roomCountLocked())
	return member, true
}

// Get returns the live connection with the given id
func (r *Registry) Get(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[connID]
	return conn, exists
}

// Membership returns the room a connection is attached to
func (r *Registry) Membership(connID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	member, attached := r.members[connID]
	return member, attached
}

// RoomConnections returns every connection attached to the session
func (r *Registry) RoomConnections(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []interfaces.Connection
	for _, conn := range r.sessionLecturers[sessionID] {
		connections = append(connections, conn)
	}
	for _, conn := range r.sessionStudents[sessionID] {
		connections = append(connections, conn)
	}
	return connections
}

func (r *Registry) RoomLecturers(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.sessionLecturers[sessionID])
}

func (r *Registry) RoomStudents(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.sessionStudents[sessionID])
}

func collect(room map[string]interfaces.Connection) []interfaces.Connection {
	connections := make([]interfaces.Connection, 0, len(room))
	for _, conn := range room {
		connections = append(connections, conn)
	}
	return connections
}

// Connections returns every registered connection
func (r *Registry) Connections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return collect(r.connections)
}

func (r *Registry) roomCountLocked() int {
	rooms := len(r.sessionStudents)
	for sessionID := range r.sessionLecturers {
		if _, counted := r.sessionStudents[sessionID]; !counted {
			rooms++
		}
	}
	return rooms
}

// Stats returns registry statistics for monitoring
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Connections: len(r.connections),
		Rooms:       r.roomCountLocked(),
	}
	for _, member := range r.members {
		if member.Role == types.RoleLecturer {
			stats.Lecturers++
		} else {
			stats.Students++
		}
	}
	return stats
}
