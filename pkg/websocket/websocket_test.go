package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	constants "AlertaPiura/pkg/constant"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn(hub *Hub, id, user string) *Connection {
	return NewConnection(hub, id, user, nil)
}

func register(t *testing.T, hub *Hub, conns ...*Connection) {
	for _, c := range conns {
		hub.register <- c
	}
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == int64(len(conns)) }, time.Second, 5*time.Millisecond)
}

func recv(t *testing.T, c *Connection) Message {
	select {
	case data := <-c.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", c.ID)
	}
	return Message{}
}

func assertNoFrame(t *testing.T, c *Connection) {
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected frame for %s: %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	assert.NotNil(t, hub)
	assert.Equal(t, int64(100000), hub.config.MaxConnections)
	assert.Equal(t, 30*time.Second, hub.config.HeartbeatInterval)
	assert.True(t, hub.Running())

	hub.Close()
	assert.False(t, hub.Running())
	assert.ErrorIs(t, hub.Publish(&Message{Type: "x"}), ErrHubClosed)
}

func TestHubConnectionManagement(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	counts := make(chan int, 4)
	hub.OnConnections = func(n int) { counts <- n }

	conn := testConn(hub, "conn_1", "7")
	register(t, hub, conn)
	assert.Equal(t, 1, hub.GetUserConnections("7"))
	assert.Equal(t, 1, <-counts)

	hub.unregister <- conn
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.GetUserConnections("7"))
	assert.False(t, conn.IsAlive())
	_, open := <-conn.Send
	assert.False(t, open)
}

func TestConnectionLimitReleasesWriter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	cfg.EnableGlobalPing = true
	hub := NewHub(cfg)
	defer hub.Close()

	a := testConn(hub, "a", "1")
	register(t, hub, a)

	b := testConn(hub, "b", "2")
	hub.register <- b
	require.Eventually(t, func() bool { return !b.IsAlive() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), hub.GetConnectionCount())

	// readPump hands the rejected connection back on exit
	hub.unregister <- b
	select {
	case _, open := <-b.Send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("send channel of rejected connection left open")
	}
	assert.True(t, a.IsAlive())
	assert.Equal(t, int64(1), hub.GetConnectionCount())
}

func TestJoinLeave(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	a, b := testConn(hub, "a", "1"), testConn(hub, "b", "2")
	register(t, hub, a, b)

	require.NoError(t, hub.Join("a", "report-5"))
	require.NoError(t, hub.Join("b", "report-5"))
	assert.Equal(t, 2, hub.GetGroupConnections("report-5"))
	assert.True(t, a.IsInGroup("report-5"))

	require.NoError(t, hub.Leave("a", "report-5"))
	assert.Equal(t, 1, hub.GetGroupConnections("report-5"))
	assert.Equal(t, []string{}, a.GetGroups())

	assert.ErrorIs(t, hub.Join("missing", "room"), ErrSessionNotFound)
	assert.NoError(t, hub.Leave("b", "never-joined"))
}

func TestPublishTargets(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	a, b := testConn(hub, "a", "1"), testConn(hub, "b", "2")
	register(t, hub, a, b)
	require.NoError(t, hub.Join("a", "chat"))

	require.NoError(t, hub.Publish(&Message{Type: "new-sos-alert", Data: map[string]int{"id": 1}}))
	assert.Equal(t, "new-sos-alert", recv(t, a).Type)
	assert.Equal(t, "new-sos-alert", recv(t, b).Type)

	require.NoError(t, hub.Publish(&Message{Type: "receive-message", Group: "chat"}))
	got := recv(t, a)
	assert.Equal(t, "receive-message", got.Type)
	assert.Equal(t, "chat", got.Group)
	assertNoFrame(t, b)

	require.NoError(t, hub.Publish(&Message{Type: "direct", Session: "b"}))
	assert.Equal(t, "direct", recv(t, b).Type)
	assertNoFrame(t, a)

	require.NoError(t, hub.Publish(&Message{Type: "to-user", To: "1"}))
	assert.Equal(t, "to-user", recv(t, a).Type)
	assertNoFrame(t, b)
}

func TestPublishPreservesOrderPerConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessageBufferSize = 512
	cfg.ShardCount = 4
	hub := NewHub(cfg)
	defer hub.Close()

	conns := make([]*Connection, 0, 8)
	for i := 0; i < 8; i++ {
		conns = append(conns, testConn(hub, fmt.Sprintf("c%d", i), fmt.Sprint(i)))
	}
	register(t, hub, conns...)
	for _, c := range conns {
		require.NoError(t, hub.Join(c.ID, "ops"))
	}

	const n = 200
	for i := 0; i < n; i++ {
		msg := &Message{Type: "sos-location-update", Data: i}
		if i%3 == 0 {
			msg.Group = "ops"
		}
		require.NoError(t, hub.Publish(msg))
	}

	for _, c := range conns {
		for i := 0; i < n; i++ {
			got := recv(t, c)
			assert.Equal(t, float64(i), got.Data, "connection %s", c.ID)
		}
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessageBufferSize = 2
	hub := NewHub(cfg)
	defer hub.Close()

	drops := make(chan string, 10)
	hub.OnDrop = func(reason string) { drops <- reason }

	slow := testConn(hub, "slow", "1")
	register(t, hub, slow)

	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Publish(&Message{Type: "tick", Data: i}))
	}
	assert.Equal(t, "session_full", <-drops)
	assert.Equal(t, float64(0), recv(t, slow).Data)
	assert.Equal(t, float64(1), recv(t, slow).Data)
}

func TestHandleMessage(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	conn := testConn(hub, "c1", "7")
	register(t, hub, conn)

	conn.handleMessage([]byte(`{"type":"ping"}`))
	assert.Equal(t, MessageTypePong, recv(t, conn).Type)

	conn.handleMessage([]byte(`{"type":"join-chat-room","data":42}`))
	joined := recv(t, conn)
	assert.Equal(t, MessageTypeRoomJoined, joined.Type)
	assert.Equal(t, "42", joined.Data)
	assert.True(t, conn.IsInGroup("42"))

	conn.handleMessage([]byte(`{"type":"leave-room","data":"42"}`))
	assert.Equal(t, MessageTypeRoomLeft, recv(t, conn).Type)
	assert.False(t, conn.IsInGroup("42"))

	conn.handleMessage([]byte(`{"type":"join-room","data":{}}`))
	assert.Equal(t, MessageTypeError, recv(t, conn).Type)

	conn.handleMessage([]byte(`not json`))
	assert.Equal(t, MessageTypeError, recv(t, conn).Type)
}

func TestWebSocketEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	defer hub.Close()

	fakeAuth := func(c *gin.Context) {
		c.Set(constants.UserIDField, int64(7))
		c.Next()
	}
	r := gin.New()
	RegisterRoutes(r, NewHandler(hub), fakeAuth, func(c *gin.Context) { c.Next() })
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + RouteWebSocket
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() Message {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg Message
		require.NoError(t, ws.ReadJSON(&msg))
		return msg
	}

	hello := read()
	require.Equal(t, MessageTypeConnected, hello.Type)
	sessionID := hello.Data.(map[string]interface{})["sessionId"].(string)
	assert.NotEmpty(t, sessionID)

	require.NoError(t, ws.WriteJSON(Message{Type: MessageTypeJoinRoom, Data: "operators"}))
	assert.Equal(t, MessageTypeRoomJoined, read().Type)

	require.NoError(t, hub.Publish(&Message{Type: "stopSos", Data: map[string]int{"alertId": 3}, Group: "operators"}))
	got := read()
	assert.Equal(t, "stopSos", got.Type)
	assert.Equal(t, float64(3), got.Data.(map[string]interface{})["alertId"])
	assert.Equal(t, 1, hub.GetUserConnections("7"))
}

func TestWebSocketHandlerStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	defer hub.Close()
	handler := NewHandler(hub)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, RouteWebSocketStats, nil)
	handler.GetStats(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "total_connections")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, RouteWebSocketHealth, nil)
	hub.Close()
	handler.HealthCheck(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUnauthenticatedUpgradeRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	defer hub.Close()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, RouteWebSocket, nil)
	NewHandler(hub).HandleWebSocket(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, ValidateConfig(DefaultConfig()))

	invalid := DefaultConfig()
	invalid.HeartbeatInterval = 60 * time.Second
	invalid.ConnectionTimeout = 30 * time.Second
	assert.Error(t, ValidateConfig(invalid))

	invalid = DefaultConfig()
	invalid.MessageQueueSize = 0
	assert.Error(t, ValidateConfig(invalid))

	assert.Error(t, ValidateConfig(nil))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv(EnvWebSocketShardCount, "4")
	t.Setenv(EnvWebSocketEnableCluster, "true")
	t.Setenv(EnvWebSocketClusterNodeID, "node-a")
	t.Setenv(EnvWebSocketAllowedOrigins, "https://panel.alertapiura.pe")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, 4, cfg.ShardCount)
	assert.True(t, cfg.EnableCluster)
	assert.Equal(t, "node-a", cfg.ClusterNodeID)
	assert.Equal(t, "alertapiura:sos-events", cfg.ClusterChannel)

	check := originChecker(cfg.AllowedOrigins)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
	req.Header.Set("Origin", "https://panel.alertapiura.pe")
	assert.True(t, check(req))
}
