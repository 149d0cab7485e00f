package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sehyungp92/k-stock-trader-oms/internal/events"
)

func TestWebsocketStreamsPublishedEvent(t *testing.T) {
	s := newTestServer("")
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to register its subscriptions before
	// publishing, since Subscribe happens after the upgrade completes.
	time.Sleep(50 * time.Millisecond)
	s.Bus.Publish(events.EventFill, map[string]any{"symbol": "005930"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wsEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if env.Topic != string(events.EventFill) {
		t.Fatalf("Topic=%q, expected %q", env.Topic, events.EventFill)
	}
}

func TestWebsocketWithNilBusSendsErrorAndCloses(t *testing.T) {
	s := newTestServer("")
	s.Bus = nil
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(msg), "bus not ready") {
		t.Fatalf("msg=%q, expected a bus-not-ready error", msg)
	}
}
