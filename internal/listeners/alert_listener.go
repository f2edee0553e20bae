package listeners

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"AlertaPiura/internal/models"
	"AlertaPiura/internal/sos"
	"AlertaPiura/internal/store"
	"AlertaPiura/pkg/logger"
	"AlertaPiura/pkg/notification"
	"AlertaPiura/pkg/util"

	"go.uber.org/zap"
)

// PushPayload is what the dashboard service worker receives.
type PushPayload struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	AlertID int64  `json:"alertId"`
	URL     string `json:"url"`
}

func alertPushPayload(v *sos.AlertView) PushPayload {
	who := "usuario desconocido"
	if v.Usuario != nil && v.Usuario.Nombre != "" {
		who = v.Usuario.Nombre
	}
	return PushPayload{
		Title:   "Alerta SOS " + v.CodigoAlerta,
		Body:    fmt.Sprintf("%s activó una alerta de emergencia.", who),
		AlertID: v.ID,
		URL:     fmt.Sprintf("/sos/%d", v.ID),
	}
}

// InitAlertListeners pushes every new alert to the operators' browsers. The
// push runs in the background and expired subscriptions are removed.
func InitAlertListeners(sig *util.Signals, st *store.Store, push *notification.WebPush, timeout time.Duration) {
	if push == nil {
		return
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sig.Connect(models.SigAlertActivated, func(sender any, params ...any) {
		view, ok := sender.(*sos.AlertView)
		if !ok {
			return
		}
		payload, err := json.Marshal(alertPushPayload(view))
		if err != nil {
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			notifyOperators(ctx, st, push, payload)
		}()
	})
}

func notifyOperators(ctx context.Context, st *store.Store, push *notification.WebPush, payload []byte) {
	rows, err := st.ListPushSubscriptions(ctx)
	if err != nil {
		logger.Warn("push subscriptions unavailable", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}
	subs := make([]notification.Subscription, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, notification.Subscription{Endpoint: r.Endpoint, P256dh: r.P256dh, Auth: r.Auth})
	}
	for _, endpoint := range push.Broadcast(ctx, subs, payload) {
		if err := st.DeletePushSubscription(ctx, endpoint); err != nil {
			logger.Warn("expired push subscription not removed", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}
}
