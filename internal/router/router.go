// Package router relays WebRTC signaling messages between two live connections.
package router

import (
	"encoding/json"
	"io"
	"log/slog"

	"classwatch/internal/metrics"
	"classwatch/internal/websocket"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Router implements interfaces.SignalingRouter over the live connection registry
// ARCHITECTURAL DISCOVERY: Pure message routing logic without session management
// or persistence, the only state consulted is the connection map
type Router struct {
	registry        *websocket.Registry
	requireSameRoom bool
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

var _ interfaces.SignalingRouter = (*Router)(nil)

// Option configures a Router
type Option func(*Router)

// WithSameRoomCheck drops relays whose sender and target are not attached to the same room
func WithSameRoomCheck(enabled bool) Option {
	return func(r *Router) { r.requireSameRoom = enabled }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a signaling router
func NewRouter(registry *websocket.Registry, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r
}

func (r *Router) RelayOffer(senderConnectionID, targetConnectionID string, offer json.RawMessage) {
	r.relay(types.EventOffer, senderConnectionID, targetConnectionID, types.SignalPayload{
		Payload:            offer,
		SenderConnectionID: senderConnectionID,
	})
}

func (r *Router) RelayAnswer(senderConnectionID, targetConnectionID string, answer json.RawMessage) {
	r.relay(types.EventAnswer, senderConnectionID, targetConnectionID, types.SignalPayload{
		Payload:            answer,
		SenderConnectionID: senderConnectionID,
	})
}

func (r *Router) RelayIceCandidate(senderConnectionID, targetConnectionID string, candidate json.RawMessage) {
	r.relay(types.EventIceCandidate, senderConnectionID, targetConnectionID, types.SignalPayload{
		Payload:            candidate,
		SenderConnectionID: senderConnectionID,
	})
}

// RelayPeerReady tells one student that the lecturer is ready for it
func (r *Router) RelayPeerReady(senderConnectionID, targetConnectionID, lecturerConnectionID string) {
	r.relay(types.EventPeerReady, senderConnectionID, targetConnectionID, types.PeerReadyPayload{
		LecturerConnectionID: lecturerConnectionID,
		SenderConnectionID:   senderConnectionID,
	})
}

// relay forwards one frame to the target or drops it.
// FUNCTIONAL DISCOVERY: Drops are silent toward the sender, no retry and no
// queueing, a late candidate for a vanished peer is simply lost
func (r *Router) relay(kind, senderID, targetID string, payload interface{}) {
	target, exists := r.registry.Get(targetID)
	if !exists {
		r.drop(kind, senderID, targetID, "target not connected")
		return
	}

	if r.requireSameRoom && !r.shareRoom(senderID, targetID) {
		r.drop(kind, senderID, targetID, "sender and target are not in the same room")
		return
	}

	if err := target.Send(kind, payload); err != nil {
		r.drop(kind, senderID, targetID, err.Error())
		return
	}
	r.metrics.Relay(kind, metrics.RelayDelivered)
}

func (r *Router) shareRoom(senderID, targetID string) bool {
	sender, ok := r.registry.Membership(senderID)
	if !ok {
		return false
	}
	target, ok := r.registry.Membership(targetID)
	return ok && sender.SessionID == target.SessionID
}

func (r *Router) drop(kind, senderID, targetID, reason string) {
	r.metrics.Relay(kind, metrics.RelayDropped)
	r.logger.Debug("signaling message dropped",
		"event", kind,
		"sender_connection_id", senderID,
		"target_connection_id", targetID,
		"reason", reason)
}
