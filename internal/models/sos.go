package models

import "time"

// Alert lifecycle and attention states as stored.
const (
	EstadoActivo     = "activo"
	EstadoFinalizado = "finalizado"

	AtencionEnEspera = "En Espera"
	AtencionEnCurso  = "En Curso"
	AtencionAtendida = "Atendida"

	SmsEnviado = "enviado"
	SmsFallido = "fallido"
)

// SigAlertActivated is emitted on util.Sig() after an activation commits.
// The sender is the *AlertView.
const SigAlertActivated = "sos.alert.activated"

func ValidEstado(v string) bool {
	return v == EstadoActivo || v == EstadoFinalizado
}

func ValidEstadoAtencion(v string) bool {
	switch v {
	case AtencionEnEspera, AtencionEnCurso, AtencionAtendida:
		return true
	}
	return false
}

// Alert is an SOS alert raised by a user.
type Alert struct {
	ID               int64      `json:"id" gorm:"primaryKey"`
	CodigoAlerta     string     `json:"codigo_alerta" gorm:"size:32;uniqueIndex"`
	IDUsuario        int64      `json:"id_usuario" gorm:"column:id_usuario;index"`
	Estado           string     `json:"estado" gorm:"size:16;index"`
	EstadoAtencion   string     `json:"estado_atencion" gorm:"size:16"`
	Revisada         bool       `json:"revisada"`
	FechaInicio      time.Time  `json:"fecha_inicio" gorm:"index"`
	FechaFin         *time.Time `json:"fecha_fin"`
	DuracionSegundos *int64     `json:"duracion_segundos"`
	ContactoNombre   *string    `json:"contacto_nombre" gorm:"size:128"`
	ContactoTelefono *string    `json:"contacto_telefono" gorm:"size:32"`
	ContactoMensaje  *string    `json:"contacto_mensaje" gorm:"size:512"`
	Lat              *float64   `json:"lat"`
	Lon              *float64   `json:"lon"`
}

func (Alert) TableName() string { return "sos_alerts" }

func (a *Alert) Active() bool { return a.Estado == EstadoActivo }

// LocationSample is one position fix. ID order is arrival order.
type LocationSample struct {
	ID            int64     `json:"id" gorm:"primaryKey"`
	IDAlertaSOS   int64     `json:"id_alerta_sos" gorm:"column:id_alerta_sos;index"`
	Lat           float64   `json:"lat"`
	Lon           float64   `json:"lon"`
	FechaRegistro time.Time `json:"fecha_registro"`
}

func (LocationSample) TableName() string { return "sos_location_updates" }

// AlertSequence numbers alert codes within a calendar year.
type AlertSequence struct {
	Year  int   `gorm:"primaryKey;autoIncrement:false"`
	Value int64 `gorm:"not null"`
}

func (AlertSequence) TableName() string { return "sos_alert_sequences" }

// SmsLog records one emergency contact notification attempt.
type SmsLog struct {
	ID               int64     `json:"id" gorm:"primaryKey"`
	IDUsuarioSOS     int64     `json:"id_usuario_sos" gorm:"column:id_usuario_sos;index"`
	IDAlertaSOS      int64     `json:"id_alerta_sos" gorm:"column:id_alerta_sos;index"`
	ContactoNombre   string    `json:"contacto_nombre" gorm:"size:128"`
	ContactoTelefono string    `json:"contacto_telefono" gorm:"size:32"`
	Mensaje          string    `json:"mensaje" gorm:"type:text"`
	Estado           string    `json:"estado" gorm:"size:16"`
	Error            string    `json:"error,omitempty" gorm:"size:512"`
	FechaEnvio       time.Time `json:"fecha_envio"`
}

func (SmsLog) TableName() string { return "simulated_sms_log" }

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
