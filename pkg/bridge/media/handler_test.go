package media

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialMedia(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHandlerBindsStreamToCall(t *testing.T) {
	session := &fakeSession{}
	stopped := make(chan int64, 1)
	hub := NewHub()
	hub.Register("CA1", NewBridge("CA1", session, nil, nil, func(d int64) { stopped <- d }))

	srv := httptest.NewServer(NewHandler(hub, nil))
	defer srv.Close()

	conn := dialMedia(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(Frame{Event: EventStart, Start: &StartMeta{StreamID: "S1", CallID: "CA1"}}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	if err := conn.WriteJSON(Frame{Event: EventMedia, Media: &MediaMeta{TimestampMS: 900, Payload: "AAAA"}}); err != nil {
		t.Fatalf("write media: %v", err)
	}
	if err := conn.WriteJSON(Frame{Event: EventStop}); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	select {
	case d := <-stopped:
		if d != 900 {
			t.Fatalf("duration = %d, want 900", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream never finalized")
	}

	deadline := time.Now().Add(3 * time.Second)
	for hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("bridge was not removed from the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if len(session.audio) != 1 {
		t.Fatalf("forwarded audio frames = %d, want 1", len(session.audio))
	}
}

func TestHandlerRejectsUnknownCall(t *testing.T) {
	srv := httptest.NewServer(NewHandler(NewHub(), nil))
	defer srv.Close()

	conn := dialMedia(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(Frame{Event: EventStart, Start: &StartMeta{StreamID: "S1", CallID: "nope"}}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to drop the connection")
	}
}
