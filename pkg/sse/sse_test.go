package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEncode(t *testing.T) {
	got := Event{ID: 3, Name: "stopSos", Data: []byte(`{"alertId":9}`)}.encode()
	assert.Equal(t, "id: 3\nevent: stopSos\ndata: {\"alertId\":9}\n\n", got)
}

func TestPublishGroupAndDrop(t *testing.T) {
	h := NewHub(time.Second)
	h.buffer = 1
	drops := 0
	h.OnDrop = func() { drops++ }

	a := h.AddClient("a")
	b := h.AddClient("b")
	h.Join("a", "ops")

	require.NoError(t, h.PublishGroup("ops", "sos-alert-updated", map[string]int{"id": 1}))
	assert.Contains(t, <-a.ch, "event: sos-alert-updated")
	assert.Len(t, b.ch, 0)

	require.NoError(t, h.Publish("new-sos-alert", 1))
	require.NoError(t, h.Publish("new-sos-alert", 2))
	assert.Equal(t, 2, drops)

	h.RemoveClient("a")
	assert.Equal(t, 1, h.Count())
	_, open := <-a.done
	assert.False(t, open)
}

func TestReplaceClientDropsOldMembership(t *testing.T) {
	h := NewHub(time.Second)
	h.AddClient("a")
	h.Join("a", "ops")
	c := h.AddClient("a")

	require.NoError(t, h.PublishGroup("ops", "x", 1))
	assert.Len(t, c.ch, 0)
}

func TestAttachReplaysWithoutGap(t *testing.T) {
	h := NewHub(time.Second)
	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Publish("sos-location-update", i))
	}

	c, backlog := h.attach("late", 1, true)
	require.Len(t, backlog, 2)
	assert.True(t, strings.HasPrefix(backlog[0], "id: 2\n"))
	assert.True(t, strings.HasPrefix(backlog[1], "id: 3\n"))
	assert.Len(t, c.ch, 0)

	require.NoError(t, h.Publish("stopSos", 4))
	assert.True(t, strings.HasPrefix(<-c.ch, "id: 4\n"))

	_, none := h.attach("fresh", 0, false)
	assert.Empty(t, none)
}

func TestServeStreamsAndReplays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(time.Hour)
	counts := make(chan int, 8)
	h.OnSubscribers = func(n int) { counts <- n }

	require.NoError(t, h.Publish("new-sos-alert", map[string]int{"id": 1}))

	r := gin.New()
	r.GET("/events", func(c *gin.Context) { h.Serve(c, "client-1") })
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "0")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	assert.Equal(t, 1, <-counts)
	require.NoError(t, h.Publish("stopSos", map[string]int{"alertId": 1}))

	reader := bufio.NewReader(resp.Body)
	var events []string
	deadline := time.After(2 * time.Second)
	for len(events) < 2 {
		lines := make(chan string, 1)
		go func() {
			line, _ := reader.ReadString('\n')
			lines <- line
		}()
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "event: ") {
				events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
			}
		case <-deadline:
			t.Fatalf("timed out, got %v", events)
		}
	}
	assert.Equal(t, []string{"new-sos-alert", "stopSos"}, events)

	cancel()
	assert.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 10*time.Millisecond)
}
