// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"micscope/internal/stream"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWebSocket(t *testing.T, opts WebSocketOptions) *WebSocketTransport {
	t.Helper()
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	wst, err := NewWebSocketTransport(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wst.Close() })
	return wst
}

func dial(t *testing.T, wst *WebSocketTransport, path string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s%s", wst.Addr(), path)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := newTestWebSocket(t, WebSocketOptions{})
	a := dial(t, wst, "/ws")
	b := dial(t, wst, "/ws")
	require.Eventually(t, func() bool { return wst.ClientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(&Summary{Type: TypeSummary, Seq: 7, Status: stream.StatusActive, Average: 12.5}))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var got map[string]any
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, "summary", got["type"])
		assert.Equal(t, float64(7), got["seq"])
		assert.Equal(t, "active", got["status"])
		assert.Equal(t, 12.5, got["average"])
		assert.NotContains(t, got, "Spectrum")
	}
}

func TestWebSocketClientDisconnect(t *testing.T) {
	wst := newTestWebSocket(t, WebSocketOptions{Path: "/live"})
	conn := dial(t, wst, "/live")
	require.Eventually(t, func() bool { return wst.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return wst.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketRateLimitsSummariesOnly(t *testing.T) {
	wst := newTestWebSocket(t, WebSocketOptions{MinSendInterval: time.Hour})
	conn := dial(t, wst, "/ws")
	require.Eventually(t, func() bool { return wst.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(&Summary{Type: TypeSummary, Seq: 1}))
	require.NoError(t, wst.Send(&Summary{Type: TypeSummary, Seq: 2})) // dropped
	require.NoError(t, wst.Send(NewStatusUpdate(stream.StatusIdle, nil, time.Now())))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first, second map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, float64(1), first["seq"])
	assert.Equal(t, "status", second["type"])
	assert.Equal(t, "idle", second["status"])
}

func TestWebSocketExtraRoutes(t *testing.T) {
	wst := newTestWebSocket(t, WebSocketOptions{Routes: []Route{{
		Pattern: "/healthz",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
	}}})

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", wst.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestWebSocketSendAfterClose(t *testing.T) {
	wst := newTestWebSocket(t, WebSocketOptions{})
	require.NoError(t, wst.Close())
	require.NoError(t, wst.Close())
	assert.ErrorIs(t, wst.Send(&Summary{}), ErrClosed)
}

func TestWebSocketListenError(t *testing.T) {
	wst := newTestWebSocket(t, WebSocketOptions{})
	_, err := NewWebSocketTransport(WebSocketOptions{Addr: wst.Addr().String()})
	assert.Error(t, err)
}
