package sos

import (
	"context"
	"time"

	"AlertaPiura/internal/realtime"
	"AlertaPiura/internal/store"
	"AlertaPiura/pkg/logger"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// OverdueSweeper announces active alerts whose countdown ran out. It never
// finishes them. Each alert is announced once while it stays in the LRU.
type OverdueSweeper struct {
	svc       *Service
	announced *expirable.LRU[int64, struct{}]
}

func NewOverdueSweeper(svc *Service, size int, ttl time.Duration) *OverdueSweeper {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &OverdueSweeper{svc: svc, announced: expirable.NewLRU[int64, struct{}](size, nil, ttl)}
}

// Run checks the active alerts once and returns how many were announced.
func (o *OverdueSweeper) Run(ctx context.Context) int {
	rows, err := o.svc.store.ListAlerts(ctx, store.Filter{ActiveOnly: true})
	if err != nil {
		logger.Warn("overdue sweep failed", zap.Error(err))
		return 0
	}
	now := o.svc.now()
	n := 0
	for i := range rows {
		a := &rows[i].Alert
		if _, expired := remainingWithDefault(now, a, o.svc.opts.DefaultDuration); !expired {
			continue
		}
		if o.announced.Contains(a.ID) {
			continue
		}
		o.announced.Add(a.ID, struct{}{})
		o.svc.metrics.AlertOverdue()
		o.svc.events.PublishGlobal(alertKey(a.ID), realtime.EventOverdue, OverdueEvent{
			AlertID:      a.ID,
			CodigoAlerta: a.CodigoAlerta,
			IDUsuario:    a.IDUsuario,
			FechaInicio:  a.FechaInicio,
		})
		n++
	}
	if n > 0 {
		logger.Info("overdue alerts announced", zap.Int("count", n))
	}
	return n
}
