package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// newUpgrader 根据配置创建WebSocket升级器
func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		CheckOrigin:       originChecker(cfg.AllowedOrigins),
		EnableCompression: cfg.EnableCompression,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// native mobile clients send no Origin
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(a), origin) {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket upgrades the request and registers the session. The
// returned session id is also sent to the client in a "connected" frame.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) (string, error) {
	upgrader := newUpgrader(hub.config)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("websocket upgrade failed: %v", err)
		return "", err
	}

	if hub.config.EnableCompression {
		conn.EnableWriteCompression(true)
		if hub.config.CompressionLevel != 0 {
			_ = conn.SetCompressionLevel(hub.config.CompressionLevel)
		}
	}

	connection := NewConnection(hub, generateConnectionID(), userID, conn)
	connection.reply(Message{Type: MessageTypeConnected, Data: map[string]string{"sessionId": connection.ID}})

	hub.register <- connection

	go connection.writePump()
	go connection.readPump()
	return connection.ID, nil
}

func generateConnectionID() string {
	return uuid.NewString()
}

// readPump 读取消息的协程
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.close()
	}()

	c.Conn.SetReadLimit(int64(c.Hub.config.MaxMessageSize))
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("websocket read error: %v", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump 发送消息的协程
func (c *Connection) writePump() {
	var tick <-chan time.Time
	if !c.Hub.config.EnableGlobalPing {
		interval := c.Hub.config.HeartbeatInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(time.Duration(float64(interval) * 0.9))
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.close()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one frame per message; clients parse each frame as a single JSON object
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-tick:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.LastPing = time.Now()
	c.mu.Unlock()
}

// handleMessage 处理接收到的消息
func (c *Connection) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		logrus.Warnf("invalid frame from %s: %v", c.ID, err)
		c.reply(Message{Type: MessageTypeError, Data: "invalid frame"})
		return
	}
	msg.From = c.UserID

	switch msg.Type {
	case MessageTypePing:
		c.touch()
		c.reply(Message{Type: MessageTypePong})
	case MessageTypeJoinRoom, MessageTypeJoinChatRoom:
		c.handleJoinRoom(msg)
	case MessageTypeLeaveRoom:
		c.handleLeaveRoom(msg)
	default:
		logrus.Warnf("unknown message type: %s", msg.Type)
		c.reply(Message{Type: MessageTypeError, Data: "unknown type " + msg.Type})
	}
}

// roomName accepts a string or a number, as chat clients send report ids.
func roomName(data interface{}) (string, bool) {
	switch v := data.(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case float64, int, int64:
		return cast.ToString(v), true
	}
	return "", false
}

func (c *Connection) handleJoinRoom(msg Message) {
	room, ok := roomName(msg.Data)
	if !ok {
		logrus.Warnf("invalid room: %v", msg.Data)
		c.reply(Message{Type: MessageTypeError, Data: "invalid room"})
		return
	}
	if err := c.Hub.Join(c.ID, room); err != nil {
		logrus.Warnf("join %s failed for %s: %v", room, c.ID, err)
		return
	}
	c.reply(Message{Type: MessageTypeRoomJoined, Data: room})
	logrus.Infof("user %s joined room %s", c.UserID, room)
}

func (c *Connection) handleLeaveRoom(msg Message) {
	room, ok := roomName(msg.Data)
	if !ok {
		c.reply(Message{Type: MessageTypeError, Data: "invalid room"})
		return
	}
	if err := c.Hub.Leave(c.ID, room); err != nil {
		return
	}
	c.reply(Message{Type: MessageTypeRoomLeft, Data: room})
	logrus.Infof("user %s left room %s", c.UserID, room)
}

// reply writes straight into this connection's buffer.
func (c *Connection) reply(msg Message) {
	if err := c.SendMessage(&msg); err != nil {
		logrus.Warnf("connection %s: %v", c.ID, err)
	}
}

// SendMessage 发送消息给当前连接
func (c *Connection) SendMessage(message *Message) error {
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// IsInGroup 检查是否在指定组中
func (c *Connection) IsInGroup(groupName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Groups[groupName]
}

// GetGroups 获取连接所属的组
func (c *Connection) GetGroups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]string, 0, len(c.Groups))
	for group := range c.Groups {
		groups = append(groups, group)
	}
	return groups
}
