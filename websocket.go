package petnotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

const (
	DefaultWebSocketPath = "/notifications"
	DefaultReadLimit     = 1 << 20
)

// WSDialer dials the notification server over WebSocket.
type WSDialer struct {
	// Path is appended to the server address. Defaults to /notifications.
	Path       string
	HTTPClient *http.Client
	ReadLimit  int64
}

// Dial connects to addr. The token travels both as the token query
// parameter, which the notification server reads, and as a bearer header.
func (d WSDialer) Dial(ctx context.Context, addr, token string) (Conn, error) {
	path := d.Path
	if path == "" {
		path = DefaultWebSocketPath
	}
	u, err := WebSocketURL(addr, path, token)
	if err != nil {
		return nil, &DialError{Err: err}
	}

	opts := &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	}
	conn, resp, err := websocket.Dial(ctx, u, opts)
	if err != nil {
		de := &DialError{Err: fmt.Errorf("websocket dial: %w", err)}
		if resp != nil {
			de.StatusCode = resp.StatusCode
		}
		return nil, de
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)
	return &wsConn{conn: conn}, nil
}

// WebSocketURL builds the socket URL from a base server address, mapping
// http to ws and https to wss.
func WebSocketURL(addr, path, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(addr))
	if err != nil {
		return "", fmt.Errorf("parse server address: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server address scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server address %q has no host", addr)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &RemoteCloseError{Code: StatusCode(ce.Code), Reason: ce.Reason}
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *wsConn) Close(code StatusCode, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}
