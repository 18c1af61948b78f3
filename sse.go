package petnotify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const DefaultSSEPath = "/notifications/stream"

// SSEDialer connects to the server-sent-events stream. It is receive only:
// Send on an SSE connection fails with ErrSendUnsupported.
type SSEDialer struct {
	Path       string
	HTTPClient *http.Client
}

// Dial opens the event stream. The request lives as long as ctx.
func (d SSEDialer) Dial(ctx context.Context, addr, token string) (Conn, error) {
	path := d.Path
	if path == "" {
		path = DefaultSSEPath
	}
	u, err := streamURL(addr, path, token)
	if err != nil {
		return nil, &DialError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &DialError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &DialError{Err: fmt.Errorf("SSE connect: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &DialError{StatusCode: resp.StatusCode, Err: fmt.Errorf("SSE HTTP %d", resp.StatusCode)}
	}
	return newSSEConn(resp.Body), nil
}

func streamURL(addr, path, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(addr))
	if err != nil {
		return "", fmt.Errorf("parse server address: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
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

type sseConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	closeOnce sync.Once
}

func newSSEConn(body io.ReadCloser) *sseConn {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), DefaultReadLimit)
	return &sseConn{body: body, scanner: scanner}
}

// Read returns the data of the next event. Multi-line data fields are joined
// with newlines; comment lines are keepalives and are skipped.
func (c *sseConn) Read(ctx context.Context) ([]byte, error) {
	var data []string
	for c.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := c.scanner.Text()

		switch {
		case line == "":
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if len(data) > 0 {
		return []byte(strings.Join(data, "\n")), nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return nil, fmt.Errorf("read event stream: %w", io.ErrUnexpectedEOF)
}

func (c *sseConn) Write(context.Context, []byte) error {
	return ErrSendUnsupported
}

func (c *sseConn) Close(StatusCode, string) error {
	var err error
	c.closeOnce.Do(func() { err = c.body.Close() })
	return err
}
