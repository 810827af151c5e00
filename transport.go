package chatsync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

// Conn is one persistent bidirectional connection carrying JSON frames.
type Conn interface {
	// Read blocks until the next frame arrives or the connection ends.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close(reason string) error
}

// Dialer opens connections authenticated with a credential.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, credential string) (Conn, error)

// Dial calls f(ctx, credential).
func (f DialerFunc) Dial(ctx context.Context, credential string) (Conn, error) {
	return f(ctx, credential)
}

// ============================================================================
// WebSocket transport
// ============================================================================

const defaultReadLimit = 1 << 20

// WebSocketDialer dials the push endpoint over WebSocket. The credential is
// passed as the token query parameter.
type WebSocketDialer struct {
	// URL is the endpoint, e.g. "https://api.example.com/ws". http and https
	// schemes are mapped to ws and wss.
	URL        string
	HTTPClient *http.Client
	// ReadLimit caps a single frame. Defaults to 1 MiB.
	ReadLimit int64
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	u, err := d.endpoint(credential)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)
	return &wsConn{conn: conn}, nil
}

func (d *WebSocketDialer) endpoint(credential string) (string, error) {
	wsURL := strings.Replace(d.URL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
