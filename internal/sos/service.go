// Package sos implements the SOS alert lifecycle: activation, location
// tracking, operator status changes and the events that follow them.
package sos

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"AlertaPiura/internal/models"
	"AlertaPiura/internal/realtime"
	"AlertaPiura/internal/store"
	"AlertaPiura/pkg/errors"
	"AlertaPiura/pkg/logger"
	"AlertaPiura/pkg/metrics"
	"AlertaPiura/pkg/notification"
	"AlertaPiura/pkg/util"

	"go.uber.org/zap"
)

// Publisher fans events out to observers. Publishing never fails from the
// caller's point of view.
type Publisher interface {
	PublishGlobal(key, event string, payload any)
	PublishScoped(room, event string, payload any)
}

type Options struct {
	// DefaultDuration is the countdown window when activation sends none.
	DefaultDuration int64
	// MaxDuration bounds durationInSeconds.
	MaxDuration   int64
	NotifyTimeout time.Duration
}

type Service struct {
	store   *store.Store
	events  Publisher
	sms     notification.Notifier
	users   *Users
	metrics *metrics.Metrics
	signals *util.Signals
	opts    Options
	now     func() time.Time
}

func NewService(st *store.Store, events Publisher, sms notification.Notifier, users *Users, m *metrics.Metrics, opts Options) *Service {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = DefaultWindowSeconds
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 24 * 3600
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 5 * time.Second
	}
	if sms == nil {
		sms = notification.SimulatedSMS{}
	}
	if users == nil {
		users = NewUsers(st, nil, 0, m)
	}
	return &Service{
		store:   st,
		events:  events,
		sms:     sms,
		users:   users,
		metrics: m,
		signals: util.Sig(),
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithSignals replaces the bus SigAlertActivated is emitted on.
func (s *Service) WithSignals(sig *util.Signals) *Service {
	s.signals = sig
	return s
}

// Coordinates is a possibly incomplete fix sent by a client. A zero value is
// a valid coordinate; only nil means missing.
type Coordinates struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func (c Coordinates) complete() bool { return c.Lat != nil && c.Lon != nil }

func (c Coordinates) point() (models.Point, error) {
	if !c.complete() {
		return models.Point{}, errors.Validation("coordinates_required", "Coordenadas requeridas.")
	}
	lat, lon := *c.Lat, *c.Lon
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return models.Point{}, errors.Validation("coordinates_out_of_range", "coordinates out of range")
	}
	return models.Point{Lat: lat, Lon: lon}, nil
}

type EmergencyContact struct {
	Nombre   *string `json:"nombre"`
	Telefono *string `json:"telefono"`
	Mensaje  *string `json:"mensaje"`
}

type ActivateInput struct {
	UserID           int64
	Location         Coordinates
	EmergencyContact *EmergencyContact
	DurationSeconds  *int64
}

// Activate opens an alert for the user. The alert and its first fix are
// committed together; the emergency contact is notified afterwards and a
// failure there does not undo the alert.
func (s *Service) Activate(ctx context.Context, in ActivateInput) (*AlertView, error) {
	if in.UserID <= 0 {
		return nil, errors.Validation("user_required", "user id required")
	}
	var initial *models.Point
	if in.Location.complete() {
		p, err := in.Location.point()
		if err != nil {
			return nil, err
		}
		initial = &p
	}
	duration := s.opts.DefaultDuration
	if in.DurationSeconds != nil {
		if *in.DurationSeconds <= 0 || *in.DurationSeconds > s.opts.MaxDuration {
			return nil, errors.Validation("invalid_duration", fmt.Sprintf("duration %d out of range", *in.DurationSeconds))
		}
		duration = *in.DurationSeconds
	}

	now := s.now()
	alert := &models.Alert{
		IDUsuario:        in.UserID,
		Estado:           models.EstadoActivo,
		EstadoAtencion:   models.AtencionEnEspera,
		FechaInicio:      now,
		DuracionSegundos: &duration,
	}
	if initial != nil {
		alert.Lat, alert.Lon = &initial.Lat, &initial.Lon
	}
	contact := in.EmergencyContact
	if contact != nil {
		alert.ContactoNombre = optional(contact.Nombre)
		alert.ContactoTelefono = optional(contact.Telefono)
		alert.ContactoMensaje = optional(contact.Mensaje)
	}

	if err := s.store.CreateAlert(ctx, alert, initial); err != nil {
		return nil, err
	}
	s.metrics.AlertActivated()
	logger.Info("sos alert activated",
		zap.Int64("id", alert.ID), zap.String("codigo", alert.CodigoAlerta), zap.Int64("user", alert.IDUsuario))

	if contact != nil && deref(contact.Telefono) != "" {
		s.notifyContact(ctx, alert, contact, initial)
	}

	v := s.view(now, *alert, ownerFromSummary(s.users.Summary(ctx, alert.IDUsuario)))
	s.events.PublishGlobal(alertKey(alert.ID), realtime.EventNewAlert, v)
	s.signals.Emit(models.SigAlertActivated, &v)
	return &v, nil
}

// RecordLocation appends a fix to an existing alert. Fixes arriving after the
// alert finished are kept.
func (s *Service) RecordLocation(ctx context.Context, alertID int64, c Coordinates) error {
	p, err := c.point()
	if err != nil {
		return err
	}
	if err := s.store.AppendSample(ctx, alertID, p, s.now()); err != nil {
		return err
	}
	s.metrics.LocationRecorded()
	s.events.PublishGlobal(alertKey(alertID), realtime.EventLocationUpdate, LocationEvent{AlertID: alertID, Location: p})
	return nil
}

// UpdateStatus applies an operator patch. stopSos is published only when this
// call moved the alert from active to finished.
func (s *Service) UpdateStatus(ctx context.Context, alertID int64, patch store.Patch) (*AlertView, error) {
	if patch.Empty() {
		return nil, errors.Validation("no_fields_to_update", "No fields to update.")
	}
	if patch.Estado != nil && !models.ValidEstado(*patch.Estado) {
		return nil, errors.Validation("invalid_estado", fmt.Sprintf("invalid estado %q", *patch.Estado))
	}
	if patch.EstadoAtencion != nil && !models.ValidEstadoAtencion(*patch.EstadoAtencion) {
		return nil, errors.Validation("invalid_estado_atencion", fmt.Sprintf("invalid estado_atencion %q", *patch.EstadoAtencion))
	}

	now := s.now()
	before, after, err := s.store.ApplyPatch(ctx, alertID, patch, now)
	if err != nil {
		return nil, err
	}
	for _, f := range patch.Fields() {
		s.metrics.StatusUpdated(f)
	}

	v := s.view(now, *after, ownerFromSummary(s.users.Summary(ctx, after.IDUsuario)))
	key := alertKey(alertID)
	s.events.PublishGlobal(key, realtime.EventAlertUpdated, v)
	if before.Active() && !after.Active() {
		s.metrics.ForceStopped()
		s.events.PublishGlobal(key, realtime.EventStop, StopEvent{AlertID: alertID})
		logger.Info("sos alert finished", zap.Int64("id", alertID), zap.String("codigo", after.CodigoAlerta))
	}
	return &v, nil
}

// MarkReviewed flags the alert as seen by an operator. Only the first call
// changes anything.
func (s *Service) MarkReviewed(ctx context.Context, alertID int64) error {
	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.Revisada {
		return nil
	}
	reviewed := true
	_, err = s.UpdateStatus(ctx, alertID, store.Patch{Revisada: &reviewed})
	return err
}

// History returns the fixes of an alert in the order they arrived.
func (s *Service) History(ctx context.Context, alertID int64) ([]models.Point, error) {
	if _, err := s.store.GetAlert(ctx, alertID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, alertID)
}

// HistoryFor is History restricted to the alert owner and operators.
func (s *Service) HistoryFor(ctx context.Context, alertID int64, w Viewer) ([]models.Point, error) {
	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !w.owns(alert) {
		return nil, errors.Forbidden("forbidden", "alert belongs to another user")
	}
	return s.store.History(ctx, alertID)
}

// Get returns one alert with its owner and countdown.
func (s *Service) Get(ctx context.Context, alertID int64) (*AlertView, error) {
	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	v := s.view(s.now(), *alert, ownerFromSummary(s.users.Summary(ctx, alert.IDUsuario)))
	return &v, nil
}

// ListActive returns active alerts, newest first.
func (s *Service) ListActive(ctx context.Context) ([]AlertView, error) {
	return s.list(ctx, store.Filter{ActiveOnly: true}, false)
}

// ListAll returns every alert with the owner's contact fields, newest first.
func (s *Service) ListAll(ctx context.Context) ([]AlertView, error) {
	return s.list(ctx, store.Filter{}, true)
}

func (s *Service) list(ctx context.Context, f store.Filter, operator bool) ([]AlertView, error) {
	rows, err := s.store.ListAlerts(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]AlertView, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.rowView(now, r, operator))
	}
	return out, nil
}

// Dashboard lists every alert; the most recent active one also carries its
// location history.
func (s *Service) Dashboard(ctx context.Context) ([]AlertView, error) {
	views, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range views {
		if !views[i].Active() {
			continue
		}
		h, err := s.store.History(ctx, views[i].ID)
		if err != nil {
			return nil, err
		}
		views[i].LocationHistory = h
		break
	}
	return views, nil
}

// SmsLog returns the recorded notification attempts, newest first.
func (s *Service) SmsLog(ctx context.Context, limit int) ([]models.SmsLog, error) {
	return s.store.ListSmsLog(ctx, limit)
}

func alertKey(id int64) string { return strconv.FormatInt(id, 10) }

func optional(p *string) *string {
	v := deref(p)
	if v == "" {
		return nil
	}
	return &v
}
