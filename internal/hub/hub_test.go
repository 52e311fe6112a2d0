package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := New(func(tenantID string) any {
		return map[string]string{"tenant": tenantID}
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWs(w, r, r.URL.Query().Get("tenant"))
	}))
	t.Cleanup(server.Close)
	return h, server
}

func dial(t *testing.T, server *httptest.Server, tenant string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?tenant=" + tenant
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitForClients(t *testing.T, h *Hub, tenant string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount(tenant) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_SendsStateOnConnect(t *testing.T) {
	_, server := startHub(t)
	conn := dial(t, server, "t1")

	msg := readMessage(t, conn)
	assert.Equal(t, TypeState, msg.Type)
	assert.Equal(t, map[string]any{"tenant": "t1"}, msg.Payload)
}

func TestHub_SendIsScopedToTenant(t *testing.T) {
	h, server := startHub(t)
	a := dial(t, server, "a")
	b := dial(t, server, "b")
	readMessage(t, a)
	readMessage(t, b)
	waitForClients(t, h, "a", 1)
	waitForClients(t, h, "b", 1)

	h.Send("a", TypeAwardRevealed, map[string]int{"index": 0})

	msg := readMessage(t, a)
	assert.Equal(t, TypeAwardRevealed, msg.Type)

	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := b.ReadMessage()
	assert.Error(t, err, "tenant b must not receive tenant a's reveal")
}

func TestHub_SendAll(t *testing.T) {
	h, server := startHub(t)
	a := dial(t, server, "a")
	b := dial(t, server, "b")
	readMessage(t, a)
	readMessage(t, b)
	waitForClients(t, h, "a", 1)
	waitForClients(t, h, "b", 1)

	h.SendAll(TypeHistoryChanged, nil)

	assert.Equal(t, TypeHistoryChanged, readMessage(t, a).Type)
	assert.Equal(t, TypeHistoryChanged, readMessage(t, b).Type)
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	h, server := startHub(t)
	conn := dial(t, server, "gone")
	readMessage(t, conn)
	waitForClients(t, h, "gone", 1)

	conn.Close()
	waitForClients(t, h, "gone", 0)
}

func TestHub_ClientCountAllTenants(t *testing.T) {
	h, server := startHub(t)
	readMessage(t, dial(t, server, "a"))
	readMessage(t, dial(t, server, "b"))

	waitForClients(t, h, "", 2)
	assert.Equal(t, 1, h.ClientCount("a"))
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	h := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWs(w, r, "late")
	}))
	t.Cleanup(server.Close)

	cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 2*cap(h.broadcast); i++ {
			h.Send("late", TypeDrawStarted, nil)
			h.SendAll(TypeHistoryChanged, nil)
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked after the hub stopped")
	}

	conn := dial(t, server, "late")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection must be closed once the hub has stopped")
	assert.Zero(t, h.ClientCount(""))
}
