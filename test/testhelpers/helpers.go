// Package testhelpers provides shared utilities for integration tests: a
// fully wired in-memory backend and helpers for speaking the event protocol
// over a real WebSocket connection.
package testhelpers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Mahmoud-Mh/IRC/internal/chat"
	"github.com/Mahmoud-Mh/IRC/internal/config"
	"github.com/Mahmoud-Mh/IRC/internal/server"
	"github.com/Mahmoud-Mh/IRC/internal/store"
)

// TestOrigin is the Origin header value the test backend allows.
const TestOrigin = "http://localhost:8080"

// Backend is a complete chat service running against an in-memory database.
type Backend struct {
	Server *httptest.Server
	Store  *store.Store
	Hub    *chat.Hub
}

// StartBackend wires a store, hub, and HTTP surface and starts serving. The
// backend is torn down when the test finishes.
func StartBackend(t *testing.T) *Backend {
	t.Helper()

	cfg := config.Default()
	cfg.AllowedOrigins = []string{TestOrigin}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(":memory:")
	require.NoError(t, err)

	hub := chat.NewHub(st, cfg, logger)
	go hub.Run()

	handler := server.NewHandler(hub, st, cfg, logger)
	srv := httptest.NewServer(handler.Routes())

	t.Cleanup(func() {
		srv.Close()
		_ = hub.Shutdown(2 * time.Second)
	})
	return &Backend{Server: srv, Store: st, Hub: hub}
}

// Dial opens a WebSocket connection to the backend with an allowed origin.
func (b *Backend) Dial(t *testing.T) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(b.Server.URL, "http") + "/ws"
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one protocol frame to the connection.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(chat.Frame{Event: event, Data: data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// WaitForEvent reads frames until one with the given event arrives, skipping
// unrelated broadcasts. It fails the test after the deadline.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for event %q", event)

		var frame chat.Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		if frame.Event == event {
			return frame.Data
		}
		require.True(t, time.Now().Before(deadline), "event %q never arrived", event)
	}
}

// DecodeInto unmarshals raw event data into the given payload type.
func DecodeInto(t *testing.T, data json.RawMessage, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}
