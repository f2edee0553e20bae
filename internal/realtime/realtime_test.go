package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	constants "AlertaPiura/pkg/constant"
	"AlertaPiura/pkg/metrics"
	"AlertaPiura/pkg/sse"
	"AlertaPiura/pkg/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	envs []Envelope
	fail bool
}

func (*recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	if s.fail {
		return fmt.Errorf("sink down")
	}
	return nil
}

func (s *recordingSink) snapshot() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.envs...)
}

func TestPublishKeepsPerKeyOrder(t *testing.T) {
	sink := &recordingSink{}
	b := NewBroadcaster(Options{Lanes: 4, LaneBuffer: 1024, NodeID: "n1"}, metrics.NewMetrics(), sink)

	const alerts, perAlert = 8, 50
	var wg sync.WaitGroup
	for a := 0; a < alerts; a++ {
		wg.Add(1)
		go func(a int) {
			defer wg.Done()
			key := fmt.Sprint(a)
			for i := 0; i < perAlert; i++ {
				b.PublishGlobal(key, EventLocationUpdate, map[string]int{"alertId": a, "seq": i})
			}
		}(a)
	}
	wg.Wait()
	b.Close()

	envs := sink.snapshot()
	require.Len(t, envs, alerts*perAlert)
	next := map[int]int{}
	for _, env := range envs {
		var p struct{ AlertID, Seq int }
		require.NoError(t, json.Unmarshal(env.Data, &p))
		assert.Equal(t, next[p.AlertID], p.Seq, "alert %d out of order", p.AlertID)
		next[p.AlertID] = p.Seq + 1
		assert.Equal(t, "n1", env.Node)
	}
}

func TestPublishScopedAndFailingSink(t *testing.T) {
	failing := &recordingSink{fail: true}
	ok := &recordingSink{}
	b := NewBroadcaster(Options{}, nil, failing, ok)

	b.PublishScoped("42", "receive-message", map[string]string{"text": "hola"})
	b.PublishGlobal("1", EventStop, map[string]int64{"alertId": 1})
	b.Close()

	envs := ok.snapshot()
	require.Len(t, envs, 2)
	assert.Equal(t, "42", envs[0].Room)
	assert.Equal(t, "", envs[1].Room)
	assert.JSONEq(t, `{"alertId":1}`, string(envs[1].Data))
	assert.Len(t, failing.snapshot(), 2)
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	sink := &recordingSink{}
	b := NewBroadcaster(Options{Lanes: 1}, nil, sink)
	b.Close()
	b.Close()
	b.PublishGlobal("1", EventNewAlert, 1)
	assert.Empty(t, sink.snapshot())
}

func TestUnmarshalablePayloadIsSkipped(t *testing.T) {
	sink := &recordingSink{}
	b := NewBroadcaster(Options{Lanes: 1}, nil, sink)
	b.PublishGlobal("1", EventNewAlert, make(chan int))
	b.Close()
	assert.Empty(t, sink.snapshot())
}

func TestJoinWithoutRoomsIsNoop(t *testing.T) {
	b := NewBroadcaster(Options{Lanes: 1}, nil)
	defer b.Close()
	assert.NoError(t, b.Join("s", "r"))
	assert.NoError(t, b.Leave("s", "r"))
}

func TestRelayIgnoresOwnNode(t *testing.T) {
	sink := &recordingSink{}
	b := NewBroadcaster(Options{Lanes: 2, NodeID: "node-a"}, nil, sink)
	r := NewRelay(nil, "alertapiura:sos-events", b)

	own, _ := json.Marshal(Envelope{Event: EventStop, Key: "1", Data: json.RawMessage(`{"alertId":1}`), Node: "node-a"})
	other, _ := json.Marshal(Envelope{Event: EventStop, Key: "2", Data: json.RawMessage(`{"alertId":2}`), Node: "node-b"})

	assert.False(t, r.handle(string(own)))
	assert.False(t, r.handle("garbage"))
	assert.True(t, r.handle(string(other)))
	b.Close()

	envs := sink.snapshot()
	require.Len(t, envs, 1)
	assert.Equal(t, "node-b", envs[0].Node)
	assert.JSONEq(t, `{"alertId":2}`, string(envs[0].Data))
}

func TestStreamSink(t *testing.T) {
	hub := sse.NewHub(time.Minute)
	client := hub.AddClient("c1")
	hub.Join("c1", "ops")
	sink := StreamSink{Hub: hub}

	require.NoError(t, sink.Deliver(Envelope{Event: EventNewAlert, Data: json.RawMessage(`{"id":5}`)}))
	require.NoError(t, sink.Deliver(Envelope{Event: "receive-message", Room: "ops", Data: json.RawMessage(`"x"`)}))

	msg := <-client.Messages()
	assert.Contains(t, msg, "event: new-sos-alert\ndata: {\"id\":5}\n")
	assert.Contains(t, <-client.Messages(), "event: receive-message")
}

func TestHubSinkEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := websocket.NewHub(nil)
	defer hub.Close()

	b := NewBroadcaster(Options{Lanes: 1}, nil, HubSink{Hub: hub}).WithRooms(hub)
	defer b.Close()

	r := gin.New()
	websocket.RegisterRoutes(r, websocket.NewHandler(hub), func(c *gin.Context) {
		c.Set(constants.UserIDField, int64(1))
	}, func(c *gin.Context) { c.AbortWithStatus(http.StatusForbidden) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+websocket.RouteWebSocket, nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() websocket.Message {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var m websocket.Message
		require.NoError(t, ws.ReadJSON(&m))
		return m
	}
	hello := read()
	session := hello.Data.(map[string]interface{})["sessionId"].(string)
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Join(session, "77"))
	b.PublishScoped("77", "receive-message", map[string]string{"text": "ok"})
	b.PublishGlobal("9", EventStop, map[string]int{"alertId": 9})

	first := read()
	assert.Equal(t, "receive-message", first.Type)
	assert.Equal(t, "77", first.Group)
	second := read()
	assert.Equal(t, EventStop, second.Type)
	assert.Equal(t, float64(9), second.Data.(map[string]interface{})["alertId"])

	assert.ErrorIs(t, b.Join("nope", "77"), websocket.ErrSessionNotFound)
}
