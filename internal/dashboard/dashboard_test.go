package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/provtrack/fieldsync/internal/engine"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/store"
	"github.com/provtrack/fieldsync/internal/syncer"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{
		Port:   0, // random available port
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	time.Sleep(50 * time.Millisecond)
	return server
}

func dialTestClient(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// Give the server a moment to register the client.
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{
		Port:   0,
		Logger: log.New(io.Discard, "", 0),
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection(t *testing.T) {
	server := newTestServer(t)
	dialTestClient(t, server)

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}
}

func TestMessageBroadcast(t *testing.T) {
	server := newTestServer(t)
	conn := dialTestClient(t, server)

	event := syncer.Event{
		Kind:       syncer.EventSynced,
		EntityType: schema.EntityProgress,
		LocalID:    "local-1",
		ServerID:   "srv-1",
		At:         time.Now(),
	}
	dataJSON, _ := json.Marshal(event)
	server.Broadcast(Message{
		Type:      MessageTypeSyncEvent,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSyncEvent {
		t.Errorf("Expected message type %s, got %s", MessageTypeSyncEvent, msg.Type)
	}

	var received syncer.Event
	if err := json.Unmarshal(msg.Data, &received); err != nil {
		t.Fatalf("Failed to unmarshal event data: %v", err)
	}
	if received.LocalID != "local-1" || received.ServerID != "srv-1" {
		t.Errorf("Event data mismatch: %+v", received)
	}
}

func TestHandlerPublishesEventAndStatus(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	eng := engine.New(st, nil, log.New(io.Discard, "", 0))
	if _, err := eng.CreateProgressEntry(context.Background(), "proj-1", "first", 10, nil); err != nil {
		t.Fatalf("CreateProgressEntry() failed: %v", err)
	}

	server := newTestServer(t)
	conn := dialTestClient(t, server)
	handler := NewHandler(server, eng, log.New(io.Discard, "", 0))

	handler.Publish(syncer.Event{
		Kind:       syncer.EventSynced,
		EntityType: schema.EntityProgress,
		LocalID:    "local-1",
		ServerID:   "srv-1",
		At:         time.Now(),
	})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSyncEvent {
		t.Errorf("Expected message type %s, got %s", MessageTypeSyncEvent, msg.Type)
	}

	msg = readMessage(t, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("Expected message type %s, got %s", MessageTypeStatus, msg.Type)
	}

	var status StatusData
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status data: %v", err)
	}
	if status.Counts["progress"]["pending"] != 1 {
		t.Errorf("Status counts = %+v, want 1 pending progress", status.Counts)
	}
}

func TestHandlerConnectivityChange(t *testing.T) {
	server := newTestServer(t)
	conn := dialTestClient(t, server)
	handler := NewHandler(server, nil, log.New(io.Discard, "", 0))

	handler.OnConnectivityChange(true)

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeConnectivity {
		t.Fatalf("Expected message type %s, got %s", MessageTypeConnectivity, msg.Type)
	}

	var data ConnectivityData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal connectivity data: %v", err)
	}
	if !data.Online {
		t.Error("Expected online = true")
	}
}
