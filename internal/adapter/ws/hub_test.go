package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/codeintel/internal/domain/event"
	"github.com/Strob0t/codeintel/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

func TestNewHub(t *testing.T) {
	hub := NewHub("")
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub("")
	hub.Broadcast(context.Background(), Message{Type: "test", Payload: []byte(`{"key":"value"}`)})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub("")
	// A channel cannot be marshaled to JSON; this logs and returns.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub("")
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel})
}

func waitForConnections(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, hub.ConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversEvents(t *testing.T) {
	hub := NewHub("*")
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Close(websocket.StatusNormalClosure, "") }()

	waitForConnections(t, hub, 1)

	hub.BroadcastEvent(ctx, event.TypeLSPStatus, event.StatusEvent{Root: "/w", ServerID: "gopls", Status: event.StatusReady})

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "lsp.status" {
		t.Errorf("unexpected type %q", msg.Type)
	}
	var ev event.StatusEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.ServerID != "gopls" {
		t.Errorf("unexpected payload %s (%v)", msg.Payload, err)
	}

	hub.Close()
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected no connections after Close, got %d", hub.ConnectionCount())
	}
}
