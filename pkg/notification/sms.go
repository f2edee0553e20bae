package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"AlertaPiura/pkg/logger"

	"go.uber.org/zap"
)

const (
	ProviderSimulated = "simulated"
	ProviderHTTP      = "http"
)

// Contact is the emergency contact snapshot taken at activation.
type Contact struct {
	Name    string
	Phone   string
	Message string
}

// AlertContext carries the alert being notified and the rendered text.
type AlertContext struct {
	AlertID int64
	Code    string
	UserID  int64
	Text    string
}

// Notifier delivers an emergency message to one contact.
type Notifier interface {
	Notify(ctx context.Context, to Contact, alert AlertContext) error
}

// SimulatedSMS only logs the message. It never fails.
type SimulatedSMS struct{}

func (SimulatedSMS) Notify(ctx context.Context, to Contact, alert AlertContext) error {
	logger.Info("simulated sms",
		zap.String("to", to.Phone),
		zap.String("contact", to.Name),
		zap.String("codigo", alert.Code),
		zap.String("message", alert.Text))
	return nil
}

// HTTPSMS posts the message as JSON to an SMS gateway.
type HTTPSMS struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

func NewHTTPSMS(url, apiKey string, timeout time.Duration) *HTTPSMS {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSMS{URL: url, APIKey: apiKey, HTTPClient: &http.Client{Timeout: timeout}}
}

type smsRequest struct {
	To        string `json:"to"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

func (h *HTTPSMS) Notify(ctx context.Context, to Contact, alert AlertContext) error {
	if h.URL == "" {
		return fmt.Errorf("sms: gateway url not configured")
	}
	raw, err := json.Marshal(smsRequest{To: to.Phone, Message: alert.Text, Reference: alert.Code})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: gateway status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// NewSMS selects the notifier for provider. Unknown providers fall back to
// the simulated one.
func NewSMS(provider, url, apiKey string, timeout time.Duration) Notifier {
	switch provider {
	case ProviderHTTP:
		return NewHTTPSMS(url, apiKey, timeout)
	case ProviderSimulated, "":
		return SimulatedSMS{}
	default:
		logger.Warn("unknown sms provider, using simulated", zap.String("provider", provider))
		return SimulatedSMS{}
	}
}
