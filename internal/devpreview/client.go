package devpreview

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WatchOptions configures a Watcher connection.
type WatchOptions struct {
	// BaseURL is the devpreview server's address, e.g. "ws://127.0.0.1:8090".
	BaseURL string
	// SessionID selects which session's events to mirror.
	SessionID string
	// HandshakeTimeout bounds the initial WebSocket upgrade.
	HandshakeTimeout time.Duration
}

// Watcher tails one session's mirrored event stream.
type Watcher struct {
	conn *websocket.Conn
}

// Dial connects to a devpreview Hub and subscribes to one session.
func Dial(ctx context.Context, opts WatchOptions) (*Watcher, error) {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("devpreview: invalid base url: %w", err)
	}
	u.Path = "/watch"
	q := u.Query()
	q.Set("session", opts.SessionID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("devpreview: dial failed: %w", err)
	}
	return &Watcher{conn: conn}, nil
}

// Next blocks for the next mirrored event, decoding it into v (typically
// a map[string]any — the CLI prints whatever shape arrives).
func (w *Watcher) Next(v any) error {
	return w.conn.ReadJSON(v)
}

// Close ends the watch.
func (w *Watcher) Close() error {
	return w.conn.Close()
}
