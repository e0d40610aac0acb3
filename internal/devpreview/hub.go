// Package devpreview is a loopback relay that mirrors a session's event
// stream over WebSocket, for local tooling (the CLI's watch subcommand)
// that wants to tail live activity without speaking SSE.
package devpreview

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans out published events to the watchers subscribed to each
// session. It holds no history — a watcher only sees events published
// after it connects.
type Hub struct {
	mu       sync.RWMutex
	watchers map[string]map[*websocket.Conn]bool

	register   chan registration
	unregister chan registration
	publish    chan publication
}

type registration struct {
	sessionID string
	conn      *websocket.Conn
}

type publication struct {
	sessionID string
	payload   any
}

// NewHub creates a Hub. It does not start the broadcast loop: call Run
// in a goroutine before serving WebSocket connections.
func NewHub() *Hub {
	return &Hub{
		watchers:   make(map[string]map[*websocket.Conn]bool),
		register:   make(chan registration),
		unregister: make(chan registration),
		publish:    make(chan publication, 64),
	}
}

// Run processes registrations and publications in a loop that never
// returns. It must run in its own goroutine for the lifetime of the server.
func (h *Hub) Run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			conns, ok := h.watchers[reg.sessionID]
			if !ok {
				conns = make(map[*websocket.Conn]bool)
				h.watchers[reg.sessionID] = conns
			}
			conns[reg.conn] = true
			h.mu.Unlock()

		case reg := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.watchers[reg.sessionID]; ok {
				delete(conns, reg.conn)
				if len(conns) == 0 {
					delete(h.watchers, reg.sessionID)
				}
			}
			h.mu.Unlock()
			reg.conn.Close()

		case pub := <-h.publish:
			h.mu.RLock()
			conns := h.watchers[pub.sessionID]
			for conn := range conns {
				if err := conn.WriteJSON(pub.payload); err != nil {
					log.Printf("devpreview: write to watcher failed: %v", err)
					go func(c *websocket.Conn) {
						h.unregister <- registration{sessionID: pub.sessionID, conn: c}
					}(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish mirrors an event payload to every watcher of sessionID. It
// never blocks the caller's event pipeline: a full queue drops the
// event rather than stalling a turn.
func (h *Hub) Publish(sessionID string, payload any) {
	select {
	case h.publish <- publication{sessionID: sessionID, payload: payload}:
	default:
		log.Printf("devpreview: publish queue full, dropping event for session %s", sessionID)
	}
}

// HandleWatch upgrades the request to a WebSocket and registers it as
// a watcher for the session named by the "session" query parameter.
// The connection is read-only from the watcher's side: the read loop
// exists solely to detect close/ping frames.
func (h *Hub) HandleWatch(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "missing session query parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("devpreview: upgrade failed: %v", err)
		return
	}

	reg := registration{sessionID: sessionID, conn: conn}
	h.register <- reg

	conn.WriteJSON(map[string]string{"type": "connected", "session_id": sessionID})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister <- reg
}
