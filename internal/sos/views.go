package sos

import (
	"time"

	"AlertaPiura/internal/models"
	"AlertaPiura/internal/store"
)

// Owner is the alert owner as shown to clients. Phone and role are only
// filled for operator listings.
type Owner struct {
	Nombre   string `json:"nombre"`
	Alias    string `json:"alias"`
	Email    string `json:"email"`
	Telefono string `json:"telefono,omitempty"`
	Rol      string `json:"rol,omitempty"`
}

// AlertView is an alert as returned by the API and carried by events.
type AlertView struct {
	models.Alert
	Usuario         *Owner         `json:"usuario,omitempty"`
	Latitude        *float64       `json:"latitude"`
	Longitude       *float64       `json:"longitude"`
	TiempoRestante  int64          `json:"tiempo_restante"`
	Expirada        bool           `json:"expirada"`
	LocationHistory []models.Point `json:"locationHistory,omitempty"`
}

func ownerFromSummary(s models.UserSummary) *Owner {
	return &Owner{Nombre: s.Nombre, Alias: s.Alias, Email: s.Email}
}

func (s *Service) view(now time.Time, alert models.Alert, owner *Owner) AlertView {
	v := AlertView{Alert: alert, Usuario: owner, Latitude: alert.Lat, Longitude: alert.Lon}
	if alert.Active() {
		v.TiempoRestante, v.Expirada = remainingWithDefault(now, &alert, s.opts.DefaultDuration)
	} else {
		v.Expirada = true
	}
	return v
}

func (s *Service) rowView(now time.Time, row store.AlertRow, operator bool) AlertView {
	owner := &Owner{Nombre: row.Nombre, Alias: row.Alias, Email: row.Email}
	if operator {
		owner.Telefono = row.Telefono
		owner.Rol = row.Rol
	}
	return s.view(now, row.Alert, owner)
}

// Viewer is the caller an alert is rendered for.
type Viewer struct {
	UserID   int64
	Operator bool
}

func (w Viewer) owns(a *models.Alert) bool {
	return w.Operator || a.IDUsuario == w.UserID
}

// For returns the view the caller may see. Other citizens get neither the
// emergency contact nor any position.
func (v AlertView) For(w Viewer) AlertView {
	if w.owns(&v.Alert) {
		return v
	}
	v.ContactoNombre, v.ContactoTelefono, v.ContactoMensaje = nil, nil, nil
	v.Lat, v.Lon, v.Latitude, v.Longitude = nil, nil, nil, nil
	v.LocationHistory = nil
	if v.Usuario != nil {
		u := *v.Usuario
		u.Telefono, u.Rol = "", ""
		v.Usuario = &u
	}
	return v
}

// LocationEvent is the payload of sos-location-update.
type LocationEvent struct {
	AlertID  int64        `json:"alertId"`
	Location models.Point `json:"location"`
}

// StopEvent is the payload of stopSos.
type StopEvent struct {
	AlertID int64 `json:"alertId"`
}

// OverdueEvent is the payload of sos-alert-overdue.
type OverdueEvent struct {
	AlertID      int64     `json:"alertId"`
	CodigoAlerta string    `json:"codigo_alerta"`
	IDUsuario    int64     `json:"id_usuario"`
	FechaInicio  time.Time `json:"fecha_inicio"`
}
