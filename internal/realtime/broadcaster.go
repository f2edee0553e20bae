// Package realtime fans SOS events out to websocket sessions, SSE streams and
// other instances.
package realtime

import (
	"encoding/json"
	"sync"

	"AlertaPiura/pkg/logger"
	"AlertaPiura/pkg/metrics"
	"AlertaPiura/pkg/util"

	"go.uber.org/zap"
)

// Event names seen by clients.
const (
	EventNewAlert       = "new-sos-alert"
	EventLocationUpdate = "sos-location-update"
	EventAlertUpdated   = "sos-alert-updated"
	EventStop           = "stopSos"
	EventOverdue        = "sos-alert-overdue"
)

// Envelope is one event on its way to the sinks.
type Envelope struct {
	Event string          `json:"event"`
	Key   string          `json:"key"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data"`
	Node  string          `json:"node"`
}

// Sink receives envelopes in lane order. Deliver must not block for long.
type Sink interface {
	Name() string
	Deliver(env Envelope) error
}

type Options struct {
	Lanes      int
	LaneBuffer int
	NodeID     string
}

// Broadcaster routes every event through a lane chosen by its key, so events
// sharing a key reach each sink in publish order.
type Broadcaster struct {
	opts    Options
	lanes   []chan Envelope
	sinks   []Sink
	rooms   RoomManager
	relay   *Relay
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// RoomManager tracks room membership of live sessions.
type RoomManager interface {
	Join(sessionID, room string) error
	Leave(sessionID, room string) error
}

func NewBroadcaster(opts Options, m *metrics.Metrics, sinks ...Sink) *Broadcaster {
	if opts.Lanes <= 0 {
		opts.Lanes = 16
	}
	if opts.LaneBuffer <= 0 {
		opts.LaneBuffer = 256
	}
	b := &Broadcaster{opts: opts, sinks: sinks, metrics: m}
	b.lanes = make([]chan Envelope, opts.Lanes)
	for i := range b.lanes {
		b.lanes[i] = make(chan Envelope, opts.LaneBuffer)
		b.wg.Add(1)
		go b.lane(b.lanes[i])
	}
	return b
}

// WithRooms sets where Join and Leave go.
func (b *Broadcaster) WithRooms(r RoomManager) *Broadcaster {
	b.rooms = r
	return b
}

// WithRelay forwards locally published events to other instances. Call before
// publishing.
func (b *Broadcaster) WithRelay(r *Relay) *Broadcaster {
	b.relay = r
	return b
}

func (b *Broadcaster) NodeID() string { return b.opts.NodeID }

// PublishGlobal sends event to every session. key orders it against other
// events with the same key, normally the alert id.
func (b *Broadcaster) PublishGlobal(key, event string, payload any) {
	b.publish(key, "", event, payload)
}

// PublishScoped sends event to the members of room only.
func (b *Broadcaster) PublishScoped(room, event string, payload any) {
	b.publish(room, room, event, payload)
}

func (b *Broadcaster) publish(key, room, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("event marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	b.metrics.EventPublished(event)
	b.enqueue(Envelope{Event: event, Key: key, Room: room, Data: data, Node: b.opts.NodeID})
}

// inject queues an envelope that came from another instance.
func (b *Broadcaster) inject(env Envelope) {
	b.enqueue(env)
}

func (b *Broadcaster) enqueue(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	lane := b.lanes[util.KeySlot(env.Key, len(b.lanes))]
	select {
	case lane <- env:
	default:
		b.metrics.DeliveryDropped("lane")
		logger.Warn("event lane full, dropped", zap.String("event", env.Event), zap.String("key", env.Key))
	}
}

func (b *Broadcaster) lane(ch chan Envelope) {
	defer b.wg.Done()
	for env := range ch {
		for _, s := range b.sinks {
			if err := s.Deliver(env); err != nil {
				b.metrics.DeliveryDropped(s.Name())
				logger.Debug("sink delivery failed", zap.String("sink", s.Name()), zap.String("event", env.Event), zap.Error(err))
			}
		}
		if b.relay != nil && env.Node == b.opts.NodeID {
			b.relay.forward(env)
		}
	}
}

// Join adds a live session to room.
func (b *Broadcaster) Join(sessionID, room string) error {
	if b.rooms == nil {
		return nil
	}
	return b.rooms.Join(sessionID, room)
}

// Leave removes a session from room.
func (b *Broadcaster) Leave(sessionID, room string) error {
	if b.rooms == nil {
		return nil
	}
	return b.rooms.Leave(sessionID, room)
}

// Close stops accepting events and waits for the lanes to drain.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.lanes {
		close(ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
