package devpreview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWatch))
	t.Cleanup(srv.Close)
	return hub, srv
}

func TestWatcherReceivesConnectedThenPublishedEvents(t *testing.T) {
	hub, srv := newTestHub(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := Dial(ctx, WatchOptions{BaseURL: wsURL, SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer w.Close()

	var connected map[string]any
	if err := w.Next(&connected); err != nil {
		t.Fatalf("reading connected frame: %v", err)
	}
	if connected["type"] != "connected" || connected["session_id"] != "sess-1" {
		t.Fatalf("unexpected connected frame: %+v", connected)
	}

	// Give the hub's register goroutine time to land before publishing.
	time.Sleep(50 * time.Millisecond)
	hub.Publish("sess-1", map[string]any{"event": "token", "data": map[string]string{"content": "hi"}})

	var got map[string]any
	if err := w.Next(&got); err != nil {
		t.Fatalf("reading published frame: %v", err)
	}
	if got["event"] != "token" {
		t.Fatalf("expected event=token, got %+v", got)
	}
}

func TestPublishToUnwatchedSessionIsANoop(t *testing.T) {
	hub, _ := newTestHub(t)
	// No watcher registered for "ghost"; Publish must not block or panic.
	hub.Publish("ghost", map[string]string{"event": "token"})
}
