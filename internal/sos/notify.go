package sos

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"AlertaPiura/internal/models"
	"AlertaPiura/pkg/errors"
	"AlertaPiura/pkg/logger"
	"AlertaPiura/pkg/notification"

	"go.uber.org/zap"
)

const defaultContactMessage = "¡Necesito ayuda urgente!"

// RenderSMS builds the text sent to the emergency contact.
func RenderSMS(userName, userPhone string, at *models.Point, message string) string {
	if strings.TrimSpace(userPhone) == "" {
		userPhone = "N/A"
	}
	if strings.TrimSpace(message) == "" {
		message = defaultContactMessage
	}
	location := "no disponible"
	if at != nil {
		location = fmt.Sprintf("http://maps.google.com/?q=%v,%v", at.Lat, at.Lon)
	}
	return fmt.Sprintf("ALERTA SOS de %s (%s). Ubicación: %s. Mensaje: \"%s\"", userName, userPhone, location, message)
}

// notifyContact runs after the alert is committed. Its outcome is logged and
// recorded but never returned to the caller.
func (s *Service) notifyContact(ctx context.Context, alert *models.Alert, contact *EmergencyContact, at *models.Point) {
	owner, err := s.store.GetUser(ctx, alert.IDUsuario)
	if err != nil {
		logger.Warn("sms sender lookup failed", zap.Int64("user", alert.IDUsuario), zap.Error(err))
		owner = &models.User{ID: alert.IDUsuario}
	}
	to := notification.Contact{Name: deref(contact.Nombre), Phone: deref(contact.Telefono), Message: deref(contact.Mensaje)}
	text := RenderSMS(owner.Nombre, owner.Telefono, at, to.Message)

	nctx, cancel := context.WithTimeout(ctx, s.opts.NotifyTimeout)
	defer cancel()
	sendErr := s.sms.Notify(nctx, to, notification.AlertContext{
		AlertID: alert.ID,
		Code:    alert.CodigoAlerta,
		UserID:  alert.IDUsuario,
		Text:    text,
	})

	entry := &models.SmsLog{
		IDUsuarioSOS:     alert.IDUsuario,
		IDAlertaSOS:      alert.ID,
		ContactoNombre:   to.Name,
		ContactoTelefono: to.Phone,
		Mensaje:          text,
		Estado:           models.SmsEnviado,
		FechaEnvio:       s.now(),
	}
	if sendErr != nil {
		nerr := errors.Notify(sendErr, "emergency contact notification failed")
		logger.Warn("emergency contact not notified",
			zap.String("codigo", alert.CodigoAlerta), zap.Error(nerr))
		entry.Estado = models.SmsFallido
		entry.Error = truncate(sendErr.Error(), 500)
	}
	s.metrics.ContactNotified(entry.Estado)

	// the request context may be gone by now; the log row must still be written
	if err := s.store.RecordSms(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("sms log write failed", zap.String("codigo", alert.CodigoAlerta), zap.Error(err))
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// truncate keeps at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
