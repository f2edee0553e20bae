package models

import "time"

// User is read from the account module's table. This service never writes it
// outside of tests.
type User struct {
	ID       int64  `json:"id" gorm:"primaryKey"`
	Nombre   string `json:"nombre" gorm:"size:128"`
	Alias    string `json:"alias" gorm:"size:64"`
	Email    string `json:"email" gorm:"size:128"`
	Telefono string `json:"telefono" gorm:"size:32"`
	Rol      string `json:"rol" gorm:"size:16"`
}

func (User) TableName() string { return "usuarios" }

// UserSummary is the display subset attached to alerts and events.
type UserSummary struct {
	Nombre string `json:"nombre"`
	Alias  string `json:"alias"`
	Email  string `json:"email"`
}

// PushSubscription is an operator browser registered for web push.
type PushSubscription struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	IDUsuario int64     `json:"id_usuario" gorm:"column:id_usuario;index"`
	Endpoint  string    `json:"endpoint" gorm:"size:512;uniqueIndex"`
	P256dh    string    `json:"p256dh" gorm:"size:256"`
	Auth      string    `json:"auth" gorm:"size:64"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

func (PushSubscription) TableName() string { return "push_subscriptions" }

// All lists the models owned by this service, in migration order.
func All() []any {
	return []any{&Alert{}, &LocationSample{}, &AlertSequence{}, &SmsLog{}, &PushSubscription{}}
}
