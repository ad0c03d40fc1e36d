// Package hub decodes inbound real-time frames and dispatches them to the
// lifecycle manager or the signaling router.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"classwatch/internal/lifecycle"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

const cleanupInterval = time.Minute

// Hub implements websocket.Dispatcher
// ARCHITECTURAL DISCOVERY: Central coordination point for all message flow
// maintains clean separation between WebSocket handling and message routing
type Hub struct {
	lifecycle *lifecycle.Manager
	router    interfaces.SignalingRouter
	limiter   *RateLimiter
	logger    *slog.Logger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	mu       sync.RWMutex
	running  bool
	shutdown chan struct{}
	stopped  chan struct{}
}

// NewHub creates a hub. limiter may be nil to disable rate limiting.
func NewHub(manager *lifecycle.Manager, router interfaces.SignalingRouter, limiter *RateLimiter, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		lifecycle: manager,
		router:    router,
		limiter:   limiter,
		logger:    logger.With("component", "hub"),
	}
}

// Start runs the periodic rate limiter cleanup until Stop or ctx is done
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.stopped = make(chan struct{})

	go h.run(ctx, h.shutdown, h.stopped)
	h.logger.Info("hub started")
	return nil
}

// Stop ends the background loop and waits for it
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	stopped := h.stopped
	h.mu.Unlock()

	<-stopped
	h.logger.Info("hub stopped")
	return nil
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.limiter.Cleanup()
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Connect registers the connection and announces its id
func (h *Hub) Connect(conn interfaces.Connection) error {
	return h.lifecycle.Connect(conn)
}

// Disconnect is the leave transition
func (h *Hub) Disconnect(ctx context.Context, connID string) {
	h.limiter.Forget(connID)
	h.lifecycle.Leave(ctx, connID)
}

// Dispatch handles one inbound frame
func (h *Hub) Dispatch(ctx context.Context, conn interfaces.Connection, raw []byte) {
	if !h.limiter.Allow(conn.ID()) {
		h.sendError(conn, ErrRateLimited)
		return
	}

	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		h.sendError(conn, ErrInvalidMessage)
		return
	}

	switch env.Event {
	case types.EventJoinSession:
		h.handleJoin(ctx, conn, env.Data)
	case types.EventOffer, types.EventAnswer, types.EventIceCandidate:
		h.handleSignal(conn, env.Event, env.Data)
	case types.EventPeerReady:
		h.handlePeerReady(conn, env.Data)
	default:
		h.logger.Debug("unknown event", "connection_id", conn.ID(), "event", env.Event)
		h.sendError(conn, ErrUnknownEvent)
	}
}

func (h *Hub) handleJoin(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var req types.JoinSessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(conn, ErrInvalidMessage)
		return
	}
	cmd, err := lifecycle.ParseJoinRequest(req)
	if err != nil {
		h.sendError(conn, err)
		return
	}
	if err := h.lifecycle.Join(ctx, conn.ID(), cmd); err != nil {
		h.sendError(conn, err)
	}
}

// handleSignal never answers the sender, malformed or unaddressed frames are dropped
func (h *Hub) handleSignal(conn interfaces.Connection, event string, data json.RawMessage) {
	var req types.SignalRequest
	if err := json.Unmarshal(data, &req); err != nil || req.TargetConnectionID == "" {
		h.logger.Debug("signaling frame without target dropped", "connection_id", conn.ID(), "event", event)
		return
	}

	switch event {
	case types.EventOffer:
		h.router.RelayOffer(conn.ID(), req.TargetConnectionID, req.Payload)
	case types.EventAnswer:
		h.router.RelayAnswer(conn.ID(), req.TargetConnectionID, req.Payload)
	case types.EventIceCandidate:
		h.router.RelayIceCandidate(conn.ID(), req.TargetConnectionID, req.Payload)
	}
}

func (h *Hub) handlePeerReady(conn interfaces.Connection, data json.RawMessage) {
	var req types.PeerReadyRequest
	if err := json.Unmarshal(data, &req); err != nil || req.TargetConnectionID == "" {
		h.logger.Debug("peer-ready without target dropped", "connection_id", conn.ID())
		return
	}
	lecturerID := req.LecturerConnectionID
	if lecturerID == "" {
		lecturerID = conn.ID()
	}
	h.router.RelayPeerReady(conn.ID(), req.TargetConnectionID, lecturerID)
}

func (h *Hub) sendError(conn interfaces.Connection, err error) {
	if sendErr := conn.Send(types.EventError, errorPayload(err)); sendErr != nil {
		h.logger.Debug("failed to send error event", "connection_id", conn.ID(), "error", sendErr)
	}
}

func errorPayload(err error) types.ErrorPayload {
	switch {
	case errors.Is(err, ErrRateLimited):
		return types.ErrorPayload{Message: err.Error(), Code: types.CodeRateLimited}
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrUnknownEvent):
		return types.ErrorPayload{Message: err.Error(), Code: types.CodeInvalidMessage}
	default:
		return types.ErrorPayload{Message: types.ClientMessage(err), Code: types.ErrorCode(err)}
	}
}
