package integration

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mahmoud-Mh/IRC/internal/chat"
	"github.com/Mahmoud-Mh/IRC/internal/config"
	"github.com/Mahmoud-Mh/IRC/internal/server"
	"github.com/Mahmoud-Mh/IRC/internal/store"
	"github.com/Mahmoud-Mh/IRC/test/testhelpers"
)

// Graceful shutdown must close live WebSocket sessions and return within the
// timeout even with clients connected.
func TestShutdownWithConnectedClients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.AllowedOrigins = []string{testhelpers.TestOrigin}

	st, err := store.Open(":memory:")
	require.NoError(t, err)

	hub := chat.NewHub(st, cfg, logger)
	go hub.Run()

	handler := server.NewHandler(hub, st, cfg, logger)
	srv := httptest.NewServer(handler.Routes())
	defer srv.Close()

	b := &testhelpers.Backend{Server: srv, Store: st, Hub: hub}
	alice := b.Dial(t)
	testhelpers.SendEvent(t, alice, chat.EventSetNickname, chat.SetNicknamePayload{Nickname: "alice"})
	testhelpers.WaitForEvent(t, alice, chat.EventNicknameSet)

	done := make(chan error, 1)
	go func() {
		done <- hub.Shutdown(5 * time.Second)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("hub shutdown did not complete")
	}

	// The closed connection surfaces as a read error on the client side.
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := alice.ReadMessage(); err != nil {
			break
		}
	}
}

func TestShutdownIdleHubIsImmediate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(":memory:")
	require.NoError(t, err)

	hub := chat.NewHub(st, config.Default(), logger)
	go hub.Run()

	start := time.Now()
	require.NoError(t, hub.Shutdown(5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}
