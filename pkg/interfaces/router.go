package interfaces

import "encoding/json"

// SignalingRouter relays opaque WebRTC handshake messages between two connections
// FUNCTIONAL DISCOVERY: No method returns an error, unknown targets are dropped
// silently and the sender never learns about it
type SignalingRouter interface {
	RelayOffer(senderConnectionID, targetConnectionID string, offer json.RawMessage)
	RelayAnswer(senderConnectionID, targetConnectionID string, answer json.RawMessage)
	RelayIceCandidate(senderConnectionID, targetConnectionID string, candidate json.RawMessage)
	RelayPeerReady(senderConnectionID, targetConnectionID, lecturerConnectionID string)
}
