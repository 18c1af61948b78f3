//go:build integration

package petnotify_test

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawpal/petnotify"
)

// helpers ---------------------------------------------------------------

func serverURL(t *testing.T) string {
	t.Helper()
	v := os.Getenv("PETNOTIFY_SERVER_TEST")
	if v == "" {
		t.Fatal("PETNOTIFY_SERVER_TEST environment variable is required")
	}
	return v
}

func token(t *testing.T) string {
	t.Helper()
	v := os.Getenv("PETNOTIFY_TOKEN_TEST")
	if v == "" {
		t.Fatal("PETNOTIFY_TOKEN_TEST environment variable is required")
	}
	return v
}

func newEngine(t *testing.T, opts ...petnotify.Option) *petnotify.Engine {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	e := petnotify.New(serverURL(t), append([]petnotify.Option{petnotify.WithLogger(logger)}, opts...)...)
	t.Cleanup(e.Destroy)
	return e
}

func waitBool(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for connection change")
		return false
	}
}

// =======================================================================
// Live server
// =======================================================================

func TestIntegration_ConnectWebSocket(t *testing.T) {
	e := newEngine(t)
	connected := make(chan bool, 4)
	e.OnConnected(func(b bool) { connected <- b })

	e.Connect(token(t))
	require.True(t, waitBool(t, connected))
	assert.Equal(t, petnotify.StateOpen, e.ConnectionState())

	e.Disconnect()
	assert.False(t, waitBool(t, connected))
	assert.Equal(t, petnotify.StateDisconnected, e.ConnectionState())
}

func TestIntegration_ConnectSSE(t *testing.T) {
	e := newEngine(t, petnotify.WithTransport(petnotify.TransportSSE))
	connected := make(chan bool, 4)
	e.OnConnected(func(b bool) { connected <- b })

	e.Connect(token(t))
	require.True(t, waitBool(t, connected))
}

func TestIntegration_BadTokenIsTerminal(t *testing.T) {
	e := newEngine(t)
	exhausted := make(chan petnotify.ExhaustedEvent, 1)
	e.OnExhausted(func(ev petnotify.ExhaustedEvent) { exhausted <- ev })

	e.Connect("definitely-not-a-valid-token")

	select {
	case ev := <-exhausted:
		assert.Equal(t, petnotify.ReasonUnauthorized, ev.Reason)
	case <-time.After(15 * time.Second):
		t.Fatal("server accepted an invalid token")
	}
	assert.Equal(t, petnotify.StateFailed, e.ConnectionState())
}
