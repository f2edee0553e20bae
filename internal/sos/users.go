package sos

import (
	"context"
	"strconv"
	"time"

	"AlertaPiura/internal/models"
	"AlertaPiura/internal/store"
	"AlertaPiura/pkg/cache"
	"AlertaPiura/pkg/errors"
	"AlertaPiura/pkg/logger"
	"AlertaPiura/pkg/metrics"

	"go.uber.org/zap"
)

// Users resolves display fields of alert owners through a cache.
type Users struct {
	store   *store.Store
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewUsers(st *store.Store, c cache.Cache, ttl time.Duration, m *metrics.Metrics) *Users {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Users{store: st, cache: c, ttl: ttl, metrics: m}
}

func userKey(id int64) string { return "user:summary:" + strconv.FormatInt(id, 10) }

// Summary never fails: an unknown or unreadable user yields empty fields.
func (u *Users) Summary(ctx context.Context, id int64) models.UserSummary {
	var sum models.UserSummary
	if u.cache != nil && cache.GetJSON(ctx, u.cache, userKey(id), &sum) {
		u.metrics.UserCacheLookup(true)
		return sum
	}
	u.metrics.UserCacheLookup(false)

	user, err := u.store.GetUser(ctx, id)
	if err != nil {
		if !errors.IsKind(err, errors.KindNotFound) {
			logger.Warn("user lookup failed", zap.Int64("user", id), zap.Error(err))
		}
		return sum
	}
	sum = models.UserSummary{Nombre: user.Nombre, Alias: user.Alias, Email: user.Email}
	if u.cache != nil {
		if err := cache.SetJSON(ctx, u.cache, userKey(id), sum, u.ttl); err != nil {
			logger.Debug("user cache write failed", zap.Error(err))
		}
	}
	return sum
}

// Forget drops a cached summary.
func (u *Users) Forget(ctx context.Context, id int64) {
	if u.cache != nil {
		_ = u.cache.Delete(ctx, userKey(id))
	}
}
