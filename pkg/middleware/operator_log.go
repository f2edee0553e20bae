package middleware

import (
	"context"
	"time"

	"AlertaPiura/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/mssola/user_agent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OperationLog 记录用户操作日志
type OperationLog struct {
	ID              int64     `gorm:"primaryKey;autoIncrement;not null" json:"id"`
	UserID          int64     `gorm:"not null;index" json:"user_id"`
	Role            string    `gorm:"size:32" json:"role"`
	Action          string    `gorm:"size:16;not null" json:"action"` // HTTP method
	Target          string    `gorm:"size:255;not null" json:"target"` // request path
	Status          int       `json:"status"`
	IPAddress       string    `gorm:"size:64" json:"ip_address"`
	UserAgent       string    `gorm:"size:512" json:"user_agent"`
	Referer         string    `gorm:"size:512" json:"referer"`
	Device          string    `gorm:"size:64" json:"device"`
	Browser         string    `gorm:"size:64" json:"browser"`
	OperatingSystem string    `gorm:"size:64" json:"operating_system"`
	Mobile          bool      `json:"mobile"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// OperationLogMiddleware records operator mutations after the handler ran.
// A failed insert is logged and never affects the response.
func OperationLogMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		user, ok := CurrentUser(c)
		if !ok {
			return
		}
		ua := user_agent.New(c.GetHeader("User-Agent"))
		browser, version := ua.Browser()

		entry := OperationLog{
			UserID:          user.ID,
			Role:            user.Rol,
			Action:          c.Request.Method,
			Target:          c.Request.URL.Path,
			Status:          c.Writer.Status(),
			IPAddress:       c.ClientIP(),
			UserAgent:       c.GetHeader("User-Agent"),
			Referer:         c.GetHeader("Referer"),
			Device:          ua.Platform(),
			Browser:         browser + " " + version,
			OperatingSystem: ua.OS(),
			Mobile:          ua.Mobile(),
		}
		if err := CreateOperationLog(c.Request.Context(), db, &entry); err != nil {
			logger.Warn("operation log insert failed", zap.Error(err), zap.String("target", entry.Target))
		}
	}
}

func CreateOperationLog(ctx context.Context, db *gorm.DB, entry *OperationLog) error {
	return db.WithContext(ctx).Create(entry).Error
}
