// Package store persists SOS alerts, their location trail and the notification
// log with gorm.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"AlertaPiura/internal/models"
	"AlertaPiura/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates the tables owned by this service. withUsers also creates the
// account table, which only standalone deployments need.
func (s *Store) Migrate(withUsers bool) error {
	all := models.All()
	if withUsers {
		all = append(all, &models.User{})
	}
	return s.db.AutoMigrate(all...)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AlertCode formats the public code of the n-th alert of year.
func AlertCode(year int, n int64) string {
	return fmt.Sprintf("SOS-%d-%05d", year, n)
}

// CreateAlert assigns the next code of the start year and inserts the alert
// and its optional first fix in one transaction.
func (s *Store) CreateAlert(ctx context.Context, alert *models.Alert, initial *models.Point) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		year := alert.FechaInicio.UTC().Year()
		n, err := nextSequence(tx, year)
		if err != nil {
			return err
		}
		alert.CodigoAlerta = AlertCode(year, n)
		if err := tx.Create(alert).Error; err != nil {
			return err
		}
		if initial == nil {
			return nil
		}
		return tx.Create(&models.LocationSample{
			IDAlertaSOS:   alert.ID,
			Lat:           initial.Lat,
			Lon:           initial.Lon,
			FechaRegistro: alert.FechaInicio,
		}).Error
	})
	if err != nil {
		return errors.Persistence(err, "create alert")
	}
	return nil
}

func nextSequence(tx *gorm.DB, year int) (int64, error) {
	seq := models.AlertSequence{Year: year, Value: 1}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "year"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"value": gorm.Expr("sos_alert_sequences.value + 1")}),
	}).Create(&seq).Error
	if err != nil {
		return 0, err
	}
	if err := tx.Where("year = ?", year).Take(&seq).Error; err != nil {
		return 0, err
	}
	return seq.Value, nil
}

// GetAlert loads one alert.
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.WithContext(ctx).Take(&alert, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("alert_not_found", fmt.Sprintf("alert %d not found", id))
	}
	if err != nil {
		return nil, errors.Persistence(err, "get alert").WithContext("alert_id", strconv.FormatInt(id, 10))
	}
	return &alert, nil
}

func (s *Store) alertExists(ctx context.Context, id int64) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Alert{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return errors.Persistence(err, "check alert")
	}
	if n == 0 {
		return errors.NotFound("alert_not_found", fmt.Sprintf("alert %d not found", id))
	}
	return nil
}

// AppendSample adds a fix to the trail. Fixes for finished alerts are kept.
func (s *Store) AppendSample(ctx context.Context, alertID int64, p models.Point, at time.Time) error {
	if err := s.alertExists(ctx, alertID); err != nil {
		return err
	}
	sample := models.LocationSample{IDAlertaSOS: alertID, Lat: p.Lat, Lon: p.Lon, FechaRegistro: at}
	if err := s.db.WithContext(ctx).Create(&sample).Error; err != nil {
		return errors.Persistence(err, "append sample").WithContext("alert_id", strconv.FormatInt(alertID, 10))
	}
	return nil
}

// History returns the trail in arrival order.
func (s *Store) History(ctx context.Context, alertID int64) ([]models.Point, error) {
	points := make([]models.Point, 0)
	err := s.db.WithContext(ctx).Model(&models.LocationSample{}).
		Select("lat", "lon").
		Where("id_alerta_sos = ?", alertID).
		Order("id ASC").
		Scan(&points).Error
	if err != nil {
		return nil, errors.Persistence(err, "history").WithContext("alert_id", strconv.FormatInt(alertID, 10))
	}
	return points, nil
}

// Patch holds the operator-editable fields. Nil fields are left alone.
type Patch struct {
	Estado         *string `json:"estado"`
	EstadoAtencion *string `json:"estado_atencion"`
	Revisada       *bool   `json:"revisada"`
}

func (p Patch) Empty() bool {
	return p.Estado == nil && p.EstadoAtencion == nil && p.Revisada == nil
}

// Fields names the present fields, for metrics and audit.
func (p Patch) Fields() []string {
	var out []string
	if p.Estado != nil {
		out = append(out, "estado")
	}
	if p.EstadoAtencion != nil {
		out = append(out, "estado_atencion")
	}
	if p.Revisada != nil {
		out = append(out, "revisada")
	}
	return out
}

// ApplyPatch updates the alert in one statement and returns the row before and
// after. A finished alert cannot become active again; finishing it twice keeps
// the first end time.
func (s *Store) ApplyPatch(ctx context.Context, alertID int64, patch Patch, now time.Time) (before, after *models.Alert, err error) {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.Alert
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&cur, alertID).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("alert_not_found", fmt.Sprintf("alert %d not found", alertID))
		}
		if err != nil {
			return err
		}
		prev := cur
		before = &prev

		updates := map[string]interface{}{}
		if patch.Estado != nil && *patch.Estado != cur.Estado {
			if cur.Estado == models.EstadoFinalizado {
				return errors.Validation("alert_already_finished", fmt.Sprintf("alert %d is finished", alertID))
			}
			updates["estado"] = *patch.Estado
			if *patch.Estado == models.EstadoFinalizado {
				updates["fecha_fin"] = now.UTC()
			}
		}
		if patch.EstadoAtencion != nil {
			updates["estado_atencion"] = *patch.EstadoAtencion
		}
		if patch.Revisada != nil {
			updates["revisada"] = *patch.Revisada
		}

		if len(updates) > 0 {
			if err := tx.Model(&models.Alert{}).Where("id = ?", alertID).Updates(updates).Error; err != nil {
				return err
			}
		}
		var next models.Alert
		if err := tx.Take(&next, alertID).Error; err != nil {
			return err
		}
		after = &next
		return nil
	})
	if txErr != nil {
		var appErr *errors.Error
		if stderrors.As(txErr, &appErr) {
			return nil, nil, txErr
		}
		return nil, nil, errors.Persistence(txErr, "apply patch").WithContext("alert_id", strconv.FormatInt(alertID, 10))
	}
	return before, after, nil
}

// AlertRow is an alert joined with its owner's display fields.
type AlertRow struct {
	models.Alert
	Nombre   string
	Alias    string
	Email    string
	Telefono string
	Rol      string
}

func (r AlertRow) Summary() models.UserSummary {
	return models.UserSummary{Nombre: r.Nombre, Alias: r.Alias, Email: r.Email}
}

type Filter struct {
	ActiveOnly bool
	UserID     int64
	Limit      int
}

// ListAlerts returns alerts newest first. Alerts whose owner row is missing are
// still listed, with empty display fields.
func (s *Store) ListAlerts(ctx context.Context, f Filter) ([]AlertRow, error) {
	q := s.db.WithContext(ctx).Table("sos_alerts AS sa").
		Select("sa.*, u.nombre, u.alias, u.email, u.telefono, u.rol").
		Joins("LEFT JOIN usuarios u ON u.id = sa.id_usuario")
	if f.ActiveOnly {
		q = q.Where("sa.estado = ?", models.EstadoActivo)
	}
	if f.UserID > 0 {
		q = q.Where("sa.id_usuario = ?", f.UserID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	rows := make([]AlertRow, 0)
	if err := q.Order("sa.fecha_inicio DESC").Order("sa.id DESC").Scan(&rows).Error; err != nil {
		return nil, errors.Persistence(err, "list alerts")
	}
	return rows, nil
}

// GetUser loads the owner of an alert.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Take(&u, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("", fmt.Sprintf("user %d not found", id))
	}
	if err != nil {
		return nil, errors.Persistence(err, "get user")
	}
	return &u, nil
}

// RecordSms appends one notification attempt.
func (s *Store) RecordSms(ctx context.Context, entry *models.SmsLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return errors.Persistence(err, "record sms")
	}
	return nil
}

// ListSmsLog returns notification attempts newest first.
func (s *Store) ListSmsLog(ctx context.Context, limit int) ([]models.SmsLog, error) {
	out := make([]models.SmsLog, 0)
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.Persistence(err, "list sms log")
	}
	return out, nil
}

// SavePushSubscription stores or refreshes a browser endpoint.
func (s *Store) SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"id_usuario", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return errors.Persistence(err, "save push subscription")
	}
	return nil
}

func (s *Store) ListPushSubscriptions(ctx context.Context) ([]models.PushSubscription, error) {
	out := make([]models.PushSubscription, 0)
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, errors.Persistence(err, "list push subscriptions")
	}
	return out, nil
}

func (s *Store) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&models.PushSubscription{}).Error; err != nil {
		return errors.Persistence(err, "delete push subscription")
	}
	return nil
}
