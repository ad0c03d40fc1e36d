// Package api serves the session management HTTP API and mounts the
// real-time endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"classwatch/internal/auth"
	"classwatch/internal/session"
	"classwatch/internal/websocket"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// RecentSessionsLimit is how many sessions GET /api/sessions returns
const RecentSessionsLimit = 10

const maxBodyBytes = 1 << 20

// HealthChecker is satisfied by every interfaces.Store
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider reports live connection statistics
type StatsProvider interface {
	Stats() websocket.Stats
}

// Dependencies of the HTTP server. Metrics and WebSocket may be nil.
type Dependencies struct {
	Sessions     interfaces.SessionService
	Participants interfaces.ParticipantDirectory
	Identity     interfaces.IdentityProvider
	Health       HealthChecker
	Stats        StatsProvider
	Metrics      http.Handler
	WebSocket    http.Handler
}

// Server is the HTTP front door
// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps   Dependencies
	mux    *http.ServeMux
	logger *slog.Logger
	now    func() time.Time
}

// NewServer wires the routes
func NewServer(deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: logger.With("component", "api"),
		now:    time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.jsonMiddleware(h))
	}

	s.mux.Handle("POST /api/sessions", api(s.lecturerOnly(s.createSession)))
	s.mux.Handle("GET /api/sessions", api(s.lecturerOnly(s.listSessions)))
	s.mux.Handle("GET /api/sessions/{code}", api(s.getSession))
	s.mux.Handle("PUT /api/sessions/{code}", api(s.lecturerOnly(s.updateSession)))
	s.mux.Handle("DELETE /api/sessions/{code}", api(s.lecturerOnly(s.deactivateSession)))
	s.mux.Handle("GET /api/sessions/{code}/participants", api(s.lecturerOnly(s.listParticipants)))
	s.mux.Handle("OPTIONS /api/", s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	s.mux.Handle("GET /health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))

	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}
	if s.deps.WebSocket != nil {
		s.mux.Handle("GET /ws", s.deps.WebSocket)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type CreateSessionResponse struct {
	Session *types.Session `json:"session"`
}

type SessionView struct {
	*types.Session
	IsExpired  bool `json:"isExpired"`
	IsJoinable bool `json:"isJoinable"`
}

type SessionResponse struct {
	Session SessionView `json:"session"`
}

type ListSessionsResponse struct {
	Sessions []SessionView `json:"sessions"`
}

type ParticipantsResponse struct {
	Participants []*types.ParticipantRecord `json:"participants"`
	Count        int                        `json:"count"`
	Limit        *int                       `json:"limit,omitempty"`
}

type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Database    string          `json:"database"`
	Connections websocket.Stats `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type identityKey struct{}

// lecturerOnly resolves the caller and rejects anyone but approved lecturers
func (s *Server) lecturerOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Identity.Identify(r)
		if err == nil {
			err = auth.RequireLecturer(identity)
		}
		switch {
		case err == nil:
			next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
		case errors.Is(err, interfaces.ErrForbidden):
			s.sendError(w, "Lecturer access required", http.StatusForbidden)
		default:
			s.sendError(w, "Authentication required", http.StatusUnauthorized)
		}
	}
}

func identityFrom(r *http.Request) *types.Identity {
	identity, _ := r.Context().Value(identityKey{}).(*types.Identity)
	return identity
}

func (s *Server) view(sess *types.Session) SessionView {
	now := s.now()
	return SessionView{
		Session:    sess,
		IsExpired:  session.IsExpired(sess, now),
		IsJoinable: session.IsJoinable(sess, now),
	}
}

func (s *Server) decodeSettings(w http.ResponseWriter, r *http.Request) (types.SessionSettings, bool) {
	var settings types.SessionSettings
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&settings); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return settings, false
	}
	return settings, true
}

// POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	settings, ok := s.decodeSettings(w, r)
	if !ok {
		return
	}

	created, err := s.deps.Sessions.Create(r.Context(), identityFrom(r).OwnerID, settings)
	if err != nil {
		s.sendDomainError(w, err, "Failed to create session")
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.encode(w, CreateSessionResponse{Session: created})
}

// GET /api/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Sessions.ListByOwner(r.Context(), identityFrom(r).OwnerID, RecentSessionsLimit)
	if err != nil {
		s.sendDomainError(w, err, "Failed to list sessions")
		return
	}

	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.view(sess))
	}
	s.encode(w, ListSessionsResponse{Sessions: views})
}

// GET /api/sessions/{code} is public so the join page can show the session state
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	found, err := s.deps.Sessions.FindByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		s.sendDomainError(w, err, "Failed to get session")
		return
	}
	s.encode(w, SessionResponse{Session: s.view(found)})
}

// PUT /api/sessions/{code}
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	settings, ok := s.decodeSettings(w, r)
	if !ok {
		return
	}

	updated, err := s.deps.Sessions.Update(r.Context(), r.PathValue("code"), identityFrom(r).OwnerID, settings)
	if err != nil {
		s.sendDomainError(w, err, "Failed to update session")
		return
	}
	s.encode(w, SessionResponse{Session: s.view(updated)})
}

// DELETE /api/sessions/{code}
func (s *Server) deactivateSession(w http.ResponseWriter, r *http.Request) {
	deactivated, err := s.deps.Sessions.Deactivate(r.Context(), r.PathValue("code"), identityFrom(r).OwnerID)
	if err != nil {
		s.sendDomainError(w, err, "Failed to end session")
		return
	}
	s.logger.Info("session deactivated", "session_id", deactivated.ID, "code", deactivated.Code)
	s.encode(w, SessionResponse{Session: s.view(deactivated)})
}

// GET /api/sessions/{code}/participants
// FUNCTIONAL DISCOVERY: Late joiners get no event replay, this query is how
// a lecturer learns who is already in the room
func (s *Server) listParticipants(w http.ResponseWriter, r *http.Request) {
	found, err := s.deps.Sessions.FindByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		s.sendDomainError(w, err, "Failed to list participants")
		return
	}
	if found.OwnerID != identityFrom(r).OwnerID {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}

	participants, err := s.deps.Participants.ListActive(r.Context(), found.ID)
	if err != nil {
		s.sendDomainError(w, err, "Failed to list participants")
		return
	}
	if participants == nil {
		participants = []*types.ParticipantRecord{}
	}
	s.encode(w, ParticipantsResponse{
		Participants: participants,
		Count:        len(participants),
		Limit:        found.DeviceLimit,
	})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
		Database:  "healthy",
	}
	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = "unavailable"
		s.logger.Warn("health check failed", "error", err)
	}
	if s.deps.Stats != nil {
		response.Connections = s.deps.Stats.Stats()
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.encode(w, response)
}

// sendDomainError maps the shared error taxonomy to HTTP status codes.
// Store failures are logged and replaced by fallback.
func (s *Server) sendDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, types.ErrInvalidSettings):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, types.ErrCodeGenerationExhausted):
		s.logger.Error("session code generation exhausted", "error", err)
		s.sendError(w, "Could not allocate a session code, try again", http.StatusServiceUnavailable)
	default:
		s.logger.Error(fallback, "error", err)
		s.sendError(w, fallback, http.StatusInternalServerError)
	}
}

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
