package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/pkg/dto"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.WSEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev dto.WSEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubFiltersByUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	go hub.Run()

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	all := dial(t, srv, "")
	alice := dial(t, srv, "?user_id=alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	bobEv := models.NewValidationEvent("bob", "first", models.ValidationResult{Mode: models.ModeHash, Accepted: true})
	aliceEv := models.NewValidationEvent("alice", "first", models.ValidationResult{Mode: models.ModeHash, Kind: models.RejectDuplicate})
	hub.BroadcastEvent(dto.NewWSEvent(bobEv))
	hub.BroadcastEvent(dto.NewWSEvent(aliceEv))

	got := readEvent(t, all)
	assert.Equal(t, "bob", got.UserID)
	assert.Equal(t, "photo_accepted", got.Type)
	assert.Equal(t, "alice", readEvent(t, all).UserID)

	got = readEvent(t, alice)
	assert.Equal(t, "alice", got.UserID, "alice must not see bob's events")
	assert.Equal(t, "photo_rejected", got.Type)
	assert.Equal(t, "duplicate", got.Data.Kind)

	alice.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}
