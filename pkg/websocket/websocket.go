package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionNotFound = errors.New("websocket session not found")
	ErrHubClosed       = errors.New("websocket hub closed")
)

// Message is the JSON frame exchanged with clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`    // user id
	Group     string      `json:"group,omitempty"` // room
	// Session targets one connection; never serialized.
	Session string `json:"-"`
}

// Connection 表示一个WebSocket连接
type Connection struct {
	ID       string
	UserID   string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	LastPing time.Time
	alive    atomic.Bool
	mu       sync.RWMutex
	Groups   map[string]bool
	Metadata map[string]interface{}

	// rejected is set by the hub loop when the connection limit turned it away.
	rejected bool
}

// NewConnection builds a live connection not yet registered with the hub.
func NewConnection(hub *Hub, id, userID string, ws *websocket.Conn) *Connection {
	c := &Connection{
		ID:       id,
		UserID:   userID,
		Conn:     ws,
		Send:     make(chan []byte, hub.config.MessageBufferSize),
		Hub:      hub,
		LastPing: time.Now(),
		Groups:   make(map[string]bool),
		Metadata: make(map[string]interface{}),
	}
	c.alive.Store(true)
	return c
}

func (c *Connection) IsAlive() bool { return c.alive.Load() }

func (c *Connection) close() {
	c.alive.Store(false)
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

// Hub 管理所有WebSocket连接
type Hub struct {
	connections      map[string]*Connection
	userConnections  map[string]map[string]bool
	groupConnections map[string]map[string]bool

	broadcast  chan *Message
	register   chan *Connection
	unregister chan *Connection

	connectionCount int64
	config          *Config
	mu              sync.RWMutex
	ctx             context.Context
	cancel          context.CancelFunc

	// one queue and one worker per shard keeps delivery order per connection
	shardCount int
	shardConns []map[string]*Connection
	shardLocks []sync.RWMutex
	shardJobs  []chan deliveryJob

	pingJobs chan int

	// OnDrop is called when a frame could not be queued. Set before use.
	OnDrop func(reason string)
	// OnConnections is called with the new connection count.
	OnConnections func(n int)
}

const (
	deliverAll = iota
	deliverGroup
	deliverUser
	deliverSession
)

type deliveryJob struct {
	kind   int
	target string
	data   []byte
}

// Config WebSocket配置
type Config struct {
	MaxConnections    int64
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	// per-connection send buffer
	MessageBufferSize int
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int
	EnableCompression bool
	// hub inbound queue and per-shard job queue size
	MessageQueueSize int
	// relay events to other nodes through redis pub/sub
	EnableCluster  bool
	ClusterNodeID  string
	ClusterChannel string
	ShardCount     int
	// 发送缓冲区满时是否丢弃
	DropOnFull bool
	// 压缩等级（-2..9）
	CompressionLevel int
	// 慢消费者策略：背压触发时直接断开
	CloseOnBackpressure bool
	// 发送阻塞超时（用于非 DropOnFull 模式）
	SendTimeout      time.Duration
	EnableGlobalPing bool
	PingWorkerCount  int
	// empty allows any origin
	AllowedOrigins []string
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:      DefaultMaxConnections,
		HeartbeatInterval:   DefaultHeartbeatInterval * time.Second,
		ConnectionTimeout:   DefaultConnectionTimeout * time.Second,
		MessageBufferSize:   DefaultMessageBufferSize,
		ReadBufferSize:      DefaultReadBufferSize,
		WriteBufferSize:     DefaultWriteBufferSize,
		MaxMessageSize:      DefaultMaxMessageSize,
		EnableCompression:   true,
		MessageQueueSize:    DefaultMessageQueueSize,
		ClusterChannel:      "alertapiura:sos-events",
		ShardCount:          16,
		DropOnFull:          true,
		CompressionLevel:    -2,
		CloseOnBackpressure: false,
		SendTimeout:         50 * time.Millisecond,
		EnableGlobalPing:    false,
		PingWorkerCount:     8,
	}
}

// NewHub starts the hub loop and its shard workers. Close stops them.
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := &Hub{
		connections:      make(map[string]*Connection),
		userConnections:  make(map[string]map[string]bool),
		groupConnections: make(map[string]map[string]bool),
		broadcast:        make(chan *Message, config.MessageQueueSize),
		register:         make(chan *Connection, 1000),
		unregister:       make(chan *Connection, 1000),
		config:           config,
		ctx:              ctx,
		cancel:           cancel,
	}

	if hub.config.ShardCount <= 0 {
		hub.config.ShardCount = 1
	}
	hub.shardCount = hub.config.ShardCount
	hub.shardConns = make([]map[string]*Connection, hub.shardCount)
	hub.shardLocks = make([]sync.RWMutex, hub.shardCount)
	hub.shardJobs = make([]chan deliveryJob, hub.shardCount)
	for i := 0; i < hub.shardCount; i++ {
		hub.shardConns[i] = make(map[string]*Connection)
		hub.shardJobs[i] = make(chan deliveryJob, hub.config.MessageQueueSize)
		go hub.shardWorker(i)
	}

	if hub.config.EnableGlobalPing {
		if hub.config.PingWorkerCount <= 0 {
			hub.config.PingWorkerCount = 1
		}
		hub.pingJobs = make(chan int, hub.shardCount)
		for i := 0; i < hub.config.PingWorkerCount; i++ {
			go hub.pingWorker()
		}
	}

	go hub.run()
	return hub
}

// Config returns the hub configuration.
func (h *Hub) Config() *Config {
	return h.config
}

// Publish queues msg for delivery and never blocks. Frames accepted here
// reach each connection in the order Publish was called.
func (h *Hub) Publish(msg *Message) error {
	if h.ctx.Err() != nil {
		return ErrHubClosed
	}
	select {
	case h.broadcast <- msg:
		return nil
	default:
		logrus.Warnf("hub queue full, dropping %s", msg.Type)
		h.dropped("hub_queue")
		return nil
	}
}

// run Hub主循环
func (h *Hub) run() {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.register:
			h.registerConnection(conn)
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		case message := <-h.broadcast:
			if message.Timestamp == 0 {
				message.Timestamp = time.Now().Unix()
			}
			data, err := json.Marshal(message)
			if err != nil {
				logrus.Errorf("message marshal failed: %v", err)
				continue
			}
			switch {
			case message.Session != "":
				h.enqueue(h.shardIndex(message.Session), deliveryJob{kind: deliverSession, target: message.Session, data: data})
			case message.To != "":
				h.enqueueAll(deliveryJob{kind: deliverUser, target: message.To, data: data})
			case message.Group != "":
				h.enqueueAll(deliveryJob{kind: deliverGroup, target: message.Group, data: data})
			default:
				h.enqueueAll(deliveryJob{kind: deliverAll, data: data})
			}
		case <-ticker.C:
			if h.config.EnableGlobalPing {
				for i := 0; i < h.shardCount; i++ {
					select {
					case h.pingJobs <- i:
					default:
					}
				}
			}
			h.checkHeartbeats()
		}
	}
}

func (h *Hub) enqueueAll(job deliveryJob) {
	for i := 0; i < h.shardCount; i++ {
		h.enqueue(i, job)
	}
}

func (h *Hub) enqueue(shard int, job deliveryJob) {
	select {
	case h.shardJobs[shard] <- job:
	default:
		logrus.Warnf("shard %d queue full, frame dropped", shard)
		h.dropped("shard_queue")
	}
}

// shardWorker is the only writer into the Send channels of its shard.
func (h *Hub) shardWorker(shard int) {
	for {
		select {
		case <-h.ctx.Done():
			return
		case job := <-h.shardJobs[shard]:
			h.shardLocks[shard].RLock()
			if job.kind == deliverSession {
				if conn, ok := h.shardConns[shard][job.target]; ok && conn.IsAlive() {
					h.trySend(conn, job.data)
				}
				h.shardLocks[shard].RUnlock()
				continue
			}
			for _, conn := range h.shardConns[shard] {
				if !conn.IsAlive() {
					continue
				}
				switch job.kind {
				case deliverGroup:
					if !conn.IsInGroup(job.target) {
						continue
					}
				case deliverUser:
					if conn.UserID != job.target {
						continue
					}
				}
				h.trySend(conn, job.data)
			}
			h.shardLocks[shard].RUnlock()
		}
	}
}

func (h *Hub) pingWorker() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case shard := <-h.pingJobs:
			h.shardLocks[shard].RLock()
			for _, conn := range h.shardConns[shard] {
				if conn.IsAlive() && conn.Conn != nil {
					_ = conn.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				}
			}
			h.shardLocks[shard].RUnlock()
		}
	}
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if atomic.LoadInt64(&h.connectionCount) >= h.config.MaxConnections {
		// Send is closed once readPump hands the connection back
		conn.rejected = true
		conn.close()
		logrus.Warnf("connection limit reached: %d", h.config.MaxConnections)
		return
	}

	h.connections[conn.ID] = conn
	n := atomic.AddInt64(&h.connectionCount, 1)

	sh := h.shardIndex(conn.ID)
	h.shardLocks[sh].Lock()
	h.shardConns[sh][conn.ID] = conn
	h.shardLocks[sh].Unlock()

	if conn.UserID != "" {
		if h.userConnections[conn.UserID] == nil {
			h.userConnections[conn.UserID] = make(map[string]bool)
		}
		h.userConnections[conn.UserID][conn.ID] = true
	}

	for group := range conn.Groups {
		if h.groupConnections[group] == nil {
			h.groupConnections[group] = make(map[string]bool)
		}
		h.groupConnections[group][conn.ID] = true
	}

	if h.OnConnections != nil {
		h.OnConnections(int(n))
	}
	logrus.Infof("websocket registered: %s user=%s total=%d", conn.ID, conn.UserID, n)
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn.ID]; !exists {
		if conn.rejected {
			conn.rejected = false
			close(conn.Send)
		}
		return
	}
	delete(h.connections, conn.ID)
	n := atomic.AddInt64(&h.connectionCount, -1)

	// remove from the shard before closing Send so the worker never writes to a closed channel
	sh := h.shardIndex(conn.ID)
	h.shardLocks[sh].Lock()
	delete(h.shardConns[sh], conn.ID)
	h.shardLocks[sh].Unlock()

	if conn.UserID != "" && h.userConnections[conn.UserID] != nil {
		delete(h.userConnections[conn.UserID], conn.ID)
		if len(h.userConnections[conn.UserID]) == 0 {
			delete(h.userConnections, conn.UserID)
		}
	}

	for _, group := range conn.GetGroups() {
		h.removeFromGroupLocked(group, conn.ID)
	}

	conn.alive.Store(false)
	close(conn.Send)
	if h.OnConnections != nil {
		h.OnConnections(int(n))
	}
	logrus.Infof("websocket unregistered: %s total=%d", conn.ID, n)
}

// Join adds the session to room.
func (h *Hub) Join(sessionID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	conn.mu.Lock()
	conn.Groups[room] = true
	conn.mu.Unlock()

	if h.groupConnections[room] == nil {
		h.groupConnections[room] = make(map[string]bool)
	}
	h.groupConnections[room][sessionID] = true
	return nil
}

// Leave removes the session from room. Leaving a room never joined is a no-op.
func (h *Hub) Leave(sessionID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	conn.mu.Lock()
	delete(conn.Groups, room)
	conn.mu.Unlock()

	h.removeFromGroupLocked(room, sessionID)
	return nil
}

func (h *Hub) removeFromGroupLocked(room, sessionID string) {
	if h.groupConnections[room] != nil {
		delete(h.groupConnections[room], sessionID)
		if len(h.groupConnections[room]) == 0 {
			delete(h.groupConnections, room)
		}
	}
}

func (h *Hub) checkHeartbeats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	for _, conn := range h.connections {
		conn.mu.RLock()
		last := conn.LastPing
		conn.mu.RUnlock()
		if now.Sub(last) > h.config.ConnectionTimeout {
			logrus.Warnf("connection %s heartbeat timeout", conn.ID)
			conn.close()
		}
	}
}

// GetConnectionCount 获取当前连接数
func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// GetUserConnections 获取用户的连接数
func (h *Hub) GetUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

// GetGroupConnections 获取组的连接数
func (h *Hub) GetGroupConnections(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groupConnections[group])
}

// Running reports whether Close has not been called.
func (h *Hub) Running() bool {
	return h.ctx.Err() == nil
}

// Close stops the loop and workers and closes every socket.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	for _, conn := range h.connections {
		conn.close()
	}
	h.mu.Unlock()

	logrus.Info("websocket hub closed")
}

func (h *Hub) shardIndex(id string) int {
	if h.shardCount <= 1 {
		return 0
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(id))
	return int(hasher.Sum32() % uint32(h.shardCount))
}

func (h *Hub) dropped(reason string) {
	if h.OnDrop != nil {
		h.OnDrop(reason)
	}
}

// trySend 背压策略
func (h *Hub) trySend(conn *Connection, data []byte) {
	if h.config.DropOnFull {
		select {
		case conn.Send <- data:
		default:
			h.onBackpressure(conn)
		}
		return
	}
	timeout := h.config.SendTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case conn.Send <- data:
	case <-t.C:
		h.onBackpressure(conn)
	}
}

func (h *Hub) onBackpressure(conn *Connection) {
	logrus.Debugf("connection %s send buffer full", conn.ID)
	h.dropped("session_full")
	if h.config.CloseOnBackpressure {
		conn.close()
	}
}
