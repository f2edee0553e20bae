package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Event is one server-sent event. ID is assigned by the hub.
type Event struct {
	ID   uint64
	Name string
	Data []byte
}

func (e Event) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", e.ID)
	if e.Name != "" {
		fmt.Fprintf(&b, "event: %s\n", e.Name)
	}
	for _, line := range strings.Split(string(e.Data), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return b.String()
}

type Client struct {
	id     string
	groups map[string]bool
	ch     chan string
	done   chan struct{}
}

// Messages yields encoded events for this client.
func (c *Client) Messages() <-chan string { return c.ch }

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	groups   map[string]map[string]bool // group -> clientID set
	interval time.Duration
	retryMs  int
	buffer   int

	seq    uint64
	recent []Event // ring for Last-Event-ID replay
	keep   int

	// OnSubscribers receives the client count after every change.
	OnSubscribers func(n int)
	// OnDrop is called when a client buffer is full.
	OnDrop func()
}

func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{
		clients:  make(map[string]*Client),
		groups:   make(map[string]map[string]bool),
		interval: interval,
		retryMs:  5000,
		buffer:   64,
		keep:     256,
	}
}

func (h *Hub) AddClient(id string) *Client {
	c, _ := h.attach(id, 0, false)
	return c
}

// attach registers the client and, with replay set, snapshots the retained
// events after lastID under the same lock. Later events reach c.ch.
func (h *Hub) attach(id string, lastID uint64, replay bool) (*Client, []string) {
	h.mu.Lock()
	c := &Client{id: id, groups: make(map[string]bool), ch: make(chan string, h.buffer), done: make(chan struct{})}
	if old, ok := h.clients[id]; ok {
		close(old.done)
		for g := range old.groups {
			delete(h.groups[g], id)
		}
	}
	h.clients[id] = c
	var backlog []string
	if replay {
		backlog = h.since(lastID)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.subscribers(n)
	return c, backlog
}

func (h *Hub) RemoveClient(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		close(c.done)
		for g := range c.groups {
			delete(h.groups[g], id)
			if len(h.groups[g]) == 0 {
				delete(h.groups, g)
			}
		}
		delete(h.clients, id)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.subscribers(n)
	}
}

func (h *Hub) removeIfCurrent(c *Client) {
	h.mu.RLock()
	current := h.clients[c.id] == c
	h.mu.RUnlock()
	if current {
		h.RemoveClient(c.id)
	}
}

func (h *Hub) Join(id, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.groups[group] = true
	if h.groups[group] == nil {
		h.groups[group] = make(map[string]bool)
	}
	h.groups[group][id] = true
}

func (h *Hub) Leave(id, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(c.groups, group)
	if h.groups[group] != nil {
		delete(h.groups[group], id)
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends a named JSON event to every client and keeps it for replay.
func (h *Hub) Publish(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.seq++
	ev := Event{ID: h.seq, Name: name, Data: data}
	h.recent = append(h.recent, ev)
	if len(h.recent) > h.keep {
		h.recent = h.recent[len(h.recent)-h.keep:]
	}
	msg := ev.encode()
	for _, c := range h.clients {
		h.offer(c, msg)
	}
	h.mu.Unlock()
	return nil
}

// PublishGroup sends a named JSON event to the members of group. Group events
// are not replayed.
func (h *Hub) PublishGroup(group, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.seq++
	msg := Event{ID: h.seq, Name: name, Data: data}.encode()
	for id := range h.groups[group] {
		if c := h.clients[id]; c != nil {
			h.offer(c, msg)
		}
	}
	h.mu.Unlock()
	return nil
}

// offer must run under h.mu.
func (h *Hub) offer(c *Client, msg string) {
	select {
	case c.ch <- msg:
	default:
		if h.OnDrop != nil {
			h.OnDrop()
		}
	}
}

func (h *Hub) subscribers(n int) {
	if h.OnSubscribers != nil {
		h.OnSubscribers(n)
	}
}

// since returns the retained events after lastID. Callers hold h.mu.
func (h *Hub) since(lastID uint64) []string {
	var out []string
	for _, ev := range h.recent {
		if ev.ID > lastID {
			out = append(out, ev.encode())
		}
	}
	return out
}

// Serve streams events to the request until the client goes away.
func (h *Hub) Serve(c *gin.Context, clientID string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)

	var (
		lastID uint64
		replay bool
	)
	if last := c.GetHeader("Last-Event-ID"); last != "" {
		if id, err := strconv.ParseUint(last, 10, 64); err == nil {
			lastID, replay = id, true
		}
	}
	client, backlog := h.attach(clientID, lastID, replay)
	defer h.removeIfCurrent(client)
	for _, msg := range backlog {
		_, _ = c.Writer.WriteString(msg)
	}
	flusher.Flush()

	if gid := c.Query("group"); gid != "" {
		h.Join(clientID, gid)
	}

	ping := time.NewTicker(h.interval)
	defer ping.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			fmt.Fprintf(c.Writer, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case msg := <-client.ch:
			_, _ = c.Writer.WriteString(msg)
			flusher.Flush()
		}
	}
}
