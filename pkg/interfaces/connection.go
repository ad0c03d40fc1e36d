package interfaces

// Connection represents one live real-time client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details keeps
// the lifecycle manager and signaling router testable with in-memory fakes
type Connection interface {
	// ID returns the server-assigned connection identifier
	ID() string

	// Send queues one event for delivery (thread-safe, non-blocking)
	// FUNCTIONAL DISCOVERY: Broadcasts are best-effort, a full buffer drops
	// the event instead of stalling the sender's critical section
	Send(event string, data interface{}) error

	// Close closes the connection and releases its resources
	Close() error
}
