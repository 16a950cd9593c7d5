package realtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount(ctx) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.True(t, hub.Broadcast([]byte(`{"type":"marcaje.created"}`)))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		typ, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, typ)
		assert.JSONEq(t, `{"type":"marcaje.created"}`, string(payload))
	}

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return hub.ClientCount(ctx) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount(ctx) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestClientLeaveAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	left := make(chan struct{})
	go func() {
		(&client{hub: hub}).leave()
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(2 * time.Second):
		t.Fatal("leave blocked after the hub stopped")
	}
}

func TestServeWSAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var nerr net.Error
	assert.False(t, errors.As(err, &nerr) && nerr.Timeout(), "connection should be closed, not left hanging")
}
