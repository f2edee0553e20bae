package notification

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"AlertaPiura/pkg/logger"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

// Subscription is a browser push endpoint registered by an operator.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string // mailto: or https: contact
	TTL        int
}

// WebPush sends VAPID-signed notifications.
type WebPush struct {
	cfg        WebPushConfig
	HTTPClient webpush.HTTPClient
	// OnResult receives "sent", "failed" or "expired" per endpoint.
	OnResult func(outcome string)
}

func NewWebPush(cfg WebPushConfig) *WebPush {
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &WebPush{cfg: cfg}
}

// GenerateKeys returns a fresh (private, public) VAPID key pair.
func GenerateKeys() (string, string, error) {
	return webpush.GenerateVAPIDKeys()
}

func (w *WebPush) PublicKey() string { return w.cfg.PublicKey }

// Send delivers payload to one subscription. A 404 or 410 from the push
// service means the subscription is gone and is reported as ErrExpired.
func (w *WebPush) Send(ctx context.Context, sub Subscription, payload []byte) error {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
		HTTPClient:      w.HTTPClient,
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             w.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return err
	}
	if resp.Body != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrExpired
	case resp.StatusCode >= 300:
		return fmt.Errorf("webpush: status %d", resp.StatusCode)
	}
	return nil
}

var ErrExpired = fmt.Errorf("webpush: subscription expired")

// Broadcast sends payload to every subscription and returns the endpoints
// that no longer exist. Failures are logged and otherwise ignored.
func (w *WebPush) Broadcast(ctx context.Context, subs []Subscription, payload []byte) []string {
	var expired []string
	for _, sub := range subs {
		err := w.Send(ctx, sub, payload)
		switch {
		case err == nil:
			w.result("sent")
		case err == ErrExpired:
			w.result("expired")
			expired = append(expired, sub.Endpoint)
		default:
			w.result("failed")
			logger.Warn("webpush failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
	return expired
}

func (w *WebPush) result(outcome string) {
	if w.OnResult != nil {
		w.OnResult(outcome)
	}
}
