package realtime

import (
	"AlertaPiura/pkg/sse"
	"AlertaPiura/pkg/websocket"
)

// HubSink delivers to websocket sessions. Rooms map to hub groups.
type HubSink struct {
	Hub *websocket.Hub
}

func (HubSink) Name() string { return "websocket" }

func (s HubSink) Deliver(env Envelope) error {
	return s.Hub.Publish(&websocket.Message{Type: env.Event, Data: env.Data, Group: env.Room})
}

// StreamSink delivers to SSE clients. Rooms map to SSE groups.
type StreamSink struct {
	Hub *sse.Hub
}

func (StreamSink) Name() string { return "sse" }

func (s StreamSink) Deliver(env Envelope) error {
	if env.Room != "" {
		return s.Hub.PublishGroup(env.Room, env.Event, env.Data)
	}
	return s.Hub.Publish(env.Event, env.Data)
}
