package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveHub(t *testing.T, h *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(conn, SessionResponse{Event: EventSession})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubSendsInitialThenBroadcasts(t *testing.T) {
	h := NewHub(zerolog.Nop())
	url := serveHub(t, h)

	a, b := dial(t, url), dial(t, url)
	assert.Equal(t, "session", readEvent(t, a)["event"])
	assert.Equal(t, "session", readEvent(t, b)["event"])
	require.Eventually(t, func() bool { return h.Clients() == 2 }, time.Second, 10*time.Millisecond)

	h.Broadcast(PongResponse{Event: EventPong})
	assert.Equal(t, "pong", readEvent(t, a)["event"])
	assert.Equal(t, "pong", readEvent(t, b)["event"])
}

func TestHubRepliesToActions(t *testing.T) {
	h := NewHub(zerolog.Nop())
	conn := dial(t, serveHub(t, h))
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(RequestEnvelope{Action: "dance"}))
	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev["event"])
	assert.Equal(t, "unknown action: dance", ev["error"])

	require.NoError(t, conn.WriteJSON(RequestEnvelope{Action: ActionPing}))
	assert.Equal(t, "pong", readEvent(t, conn)["event"])
}

func TestHubForgetsClosedClients(t *testing.T) {
	h := NewHub(zerolog.Nop())
	conn := dial(t, serveHub(t, h))
	readEvent(t, conn)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Broadcasting with nobody connected is a no-op.
	h.Broadcast(PongResponse{Event: EventPong})
}
