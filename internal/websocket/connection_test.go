package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// createTestPair returns the server side and the client side of one websocket
func createTestPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case conn := <-serverConns:
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for server connection")
	}
	return nil, nil
}

func readEnvelope(t *testing.T, client *websocket.Conn) types.Envelope {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env types.Envelope
	if err := client.ReadJSON(&env); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return env
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	serverSide, _ := createTestPair(t)

	conn := NewConnection(serverSide, 0, 0)
	defer conn.Close()

	if conn.ID() == "" {
		t.Error("Expected a connection id")
	}
	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write channel buffer of 100, got %d", cap(conn.writeCh))
	}
	if conn.writeTimeout != defaultWriteTimeout {
		t.Errorf("Expected default write timeout, got %v", conn.writeTimeout)
	}
}

func TestConnection_UniqueIDs(t *testing.T) {
	a, _ := createTestPair(t)
	b, _ := createTestPair(t)

	first := NewConnection(a, 10, time.Second)
	defer first.Close()
	second := NewConnection(b, 10, time.Second)
	defer second.Close()

	if first.ID() == second.ID() {
		t.Error("Expected distinct connection ids")
	}
}

func TestConnection_SendDeliversEnvelope(t *testing.T) {
	serverSide, client := createTestPair(t)

	conn := NewConnection(serverSide, 10, time.Second)
	defer conn.Close()

	if err := conn.Send(types.EventConnected, types.ConnectedPayload{ConnectionID: conn.ID()}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	env := readEnvelope(t, client)
	if env.Event != types.EventConnected {
		t.Errorf("Expected event %s, got %s", types.EventConnected, env.Event)
	}
	var payload types.ConnectedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.ConnectionID != conn.ID() {
		t.Errorf("Expected connectionId %s, got %s", conn.ID(), payload.ConnectionID)
	}
}

func TestConnection_SendInvalidData(t *testing.T) {
	serverSide, _ := createTestPair(t)

	conn := NewConnection(serverSide, 10, time.Second)
	defer conn.Close()

	err := conn.Send("bad", map[string]interface{}{"ch": make(chan int)})
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

func TestConnection_SendBufferFull(t *testing.T) {
	serverSide, _ := createTestPair(t)

	// no writer goroutine so the buffer fills deterministically
	conn := &Connection{
		id:           "c1",
		conn:         serverSide,
		writeCh:      make(chan []byte, 1),
		writeTimeout: time.Second,
	}
	conn.ctx, conn.cancel = context.WithCancel(context.Background())
	defer conn.Close()

	if err := conn.Send("first", nil); err != nil {
		t.Fatalf("First send failed: %v", err)
	}
	if err := conn.Send("second", nil); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("Expected ErrSendBufferFull, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	serverSide, _ := createTestPair(t)

	conn := NewConnection(serverSide, 10, time.Second)
	first := conn.Close()
	second := conn.Close()
	if first != second {
		t.Errorf("Expected the same close result, got %v and %v", first, second)
	}

	select {
	case <-conn.Done():
	default:
		t.Error("Expected Done to be closed after Close")
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	serverSide, _ := createTestPair(t)

	conn := NewConnection(serverSide, 10, time.Second)
	_ = conn.Close()

	if err := conn.Send(types.EventError, nil); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_ConcurrentSendAndClose(t *testing.T) {
	serverSide, _ := createTestPair(t)

	conn := NewConnection(serverSide, 10, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = conn.Send("tick", j)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = conn.Close()
	}()
	wg.Wait()
}

func TestConnection_GoroutineCleanup(t *testing.T) {
	serverSide, client := createTestPair(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	conn := NewConnection(serverSide, 10, time.Second)
	_ = conn.Send("ping", nil)
	_ = readEnvelope(t, client)
	_ = conn.Close()
}
