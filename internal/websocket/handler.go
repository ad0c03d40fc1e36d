package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classwatch/internal/config"
	"classwatch/pkg/interfaces"
)

const disconnectTimeout = 10 * time.Second

// Dispatcher receives the lifecycle and the frames of every connection.
// Dispatch is called sequentially per connection, concurrently across connections.
type Dispatcher interface {
	Connect(conn interfaces.Connection) error
	Dispatch(ctx context.Context, conn interfaces.Connection, raw []byte)
	Disconnect(ctx context.Context, connID string)
}

// Handler upgrades HTTP requests and runs the read loop of each connection
type Handler struct {
	dispatcher Dispatcher
	config     config.WebSocketConfig
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewHandler creates a websocket handler
func NewHandler(dispatcher Dispatcher, cfg config.WebSocketConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Handler{
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger.With("component", "websocket"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin allows everything when no origins are configured or "*" is
// listed. Requests without an Origin header are not from browsers and pass.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), parsed.Scheme+"://"+parsed.Host) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and hands the connection to the dispatcher
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(ws, h.config.BufferSize, h.config.WriteTimeout)
	if err := h.dispatcher.Connect(conn); err != nil {
		h.logger.Error("failed to register connection", "error", err)
		_ = conn.Close()
		return
	}

	h.wg.Add(1)
	go h.handleConnection(conn)
}

// Wait blocks until every read loop has finished or ctx is done
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConnection runs the read pump and the heartbeat of one connection
// ARCHITECTURAL DISCOVERY: The transport's disconnect signal is the only
// cleanup trigger, so Disconnect runs on every exit path
func (h *Handler) handleConnection(conn *Connection) {
	defer h.wg.Done()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		h.dispatcher.Disconnect(ctx, conn.ID())
		_ = conn.Close()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		h.logger.Warn("failed to set read deadline", "connection_id", conn.ID(), "error", err)
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	// FUNCTIONAL DISCOVERY: Separate ticker goroutine keeps heartbeat timing
	// independent of message processing
	go func() {
		ticker := time.NewTicker(h.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					_ = conn.Close()
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", "connection_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatcher.Dispatch(conn.ctx, conn, data)
	}
}
