package sos

import (
	"time"

	"AlertaPiura/internal/models"
)

// DefaultWindowSeconds applies to alerts stored without a duration.
const DefaultWindowSeconds int64 = 600

// RemainingSeconds is the display countdown of alert at now. It is advisory:
// nothing finishes an alert when it reaches zero. expired is true once the
// remaining time is zero or less, and remaining is then 0.
func RemainingSeconds(now time.Time, alert *models.Alert) (remaining int64, expired bool) {
	return remainingWithDefault(now, alert, DefaultWindowSeconds)
}

func remainingWithDefault(now time.Time, alert *models.Alert, def int64) (int64, bool) {
	window := def
	if alert.DuracionSegundos != nil && *alert.DuracionSegundos > 0 {
		window = *alert.DuracionSegundos
	}
	elapsed := int64(now.Sub(alert.FechaInicio) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	left := window - elapsed
	if left <= 0 {
		return 0, true
	}
	return left, false
}
