package realtime

import (
	"context"
	"encoding/json"
	"time"

	"AlertaPiura/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay shares events between instances over a Redis channel. Messages that
// carry this node's id are ignored on receipt.
type Relay struct {
	client  *redis.Client
	channel string
	node    string
	target  *Broadcaster
	timeout time.Duration
}

// NewRelay binds a relay to b. Start it with Run.
func NewRelay(client *redis.Client, channel string, b *Broadcaster) *Relay {
	r := &Relay{client: client, channel: channel, node: b.NodeID(), target: b, timeout: 2 * time.Second}
	b.WithRelay(r)
	return r
}

func (r *Relay) forward(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		logger.Warn("relay publish failed", zap.String("channel", r.channel), zap.Error(err))
	}
}

// handle decodes a relayed message and queues it locally.
func (r *Relay) handle(payload string) bool {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logger.Warn("relay message dropped", zap.Error(err))
		return false
	}
	if env.Node == r.node || env.Event == "" {
		return false
	}
	r.target.inject(env)
	return true
}

// Run consumes the channel until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	ch := sub.Channel()
	logger.Info("relay subscribed", zap.String("channel", r.channel), zap.String("node", r.node))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle(msg.Payload)
		}
	}
}
