// Package sweeper runs the background recovery loop: it releases reservations
// left pending by crashed or stalled requests and keeps alerting on the
// compensation backlog until an operator clears it.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/fieldline/fieldline/internal/clock"
	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	"github.com/fieldline/fieldline/internal/config"
	obsmetrics "github.com/fieldline/fieldline/internal/observability/metrics"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const leaderLockKey = "fieldline:sweeper:leader"

var ErrInvalidConfig = errors.New("sweeper requires log, clock, holder, pack and compensation services")

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Holder  *config.ProtectionConfigHolder
	PackSvc packdomain.Service
	CompSvc compdomain.Service
	Locker  *Locker             `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Sweeper struct {
	log     *zap.Logger
	clock   clock.Clock
	holder  *config.ProtectionConfigHolder
	packSvc packdomain.Service
	compSvc compdomain.Service
	locker  *Locker
	metrics *obsmetrics.Metrics
}

func New(p Params) (*Sweeper, error) {
	if p.Log == nil || p.Clock == nil || p.Holder == nil || p.PackSvc == nil || p.CompSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		log:     p.Log.Named("sweeper").With(zap.String("component", "sweeper")),
		clock:   p.Clock,
		holder:  p.Holder,
		packSvc: p.PackSvc,
		compSvc: p.CompSvc,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

func (s *Sweeper) RunForever(ctx context.Context) {
	s.log.Info("sweeper started",
		zap.Duration("interval", s.holder.Get().Sweep.Interval()),
	)
	for {
		interval := s.holder.Get().Sweep.Interval()
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-time.After(interval):
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one sweep pass. With a locker configured only the replica
// holding the leader lock does the work; the others skip the pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	cfg := s.holder.Get().Sweep

	if s.locker != nil {
		token, acquired, err := s.locker.TryLock(ctx, leaderLockKey, cfg.Interval())
		if err != nil {
			s.log.Warn("leader lock unavailable, skipping sweep", zap.Error(err))
			return
		}
		if !acquired {
			return
		}
		defer func() {
			if err := s.locker.Release(ctx, leaderLockKey, token); err != nil {
				s.log.Warn("failed to release leader lock", zap.Error(err))
			}
		}()
	}

	s.expireStale(ctx, cfg)
	s.alertCompensations(ctx)
}

func (s *Sweeper) expireStale(ctx context.Context, cfg config.SweepConfig) {
	released, err := s.packSvc.ExpireStalePending(ctx, cfg.MaxPendingAge())
	if err != nil {
		s.log.Error("stale reservation sweep failed", zap.Error(err))
		return
	}
	if released > 0 {
		s.log.Warn("recovered stale pending reservations",
			zap.Int("released", released),
			zap.Duration("max_pending_age", cfg.MaxPendingAge()),
		)
	}
}

// alertCompensations re-logs the open backlog every pass. The queue is alert
// plus manual resolution only; nothing here mutates billing state.
func (s *Sweeper) alertCompensations(ctx context.Context) {
	records, err := s.compSvc.ListUnresolved(ctx, s.holder.Get().Sweep.BatchSize)
	if err != nil {
		s.log.Error("failed to list unresolved compensations", zap.Error(err))
		return
	}
	s.metrics.SetCompensationQueueSize(ctx, int64(len(records)))
	if len(records) == 0 {
		return
	}

	oldest := records[0]
	s.log.Error("unresolved compensation records require manual reconciliation",
		zap.Int("count", len(records)),
		zap.Int64("oldest_reservation_id", oldest.ReservationID.Int64()),
		zap.Duration("oldest_age", s.clock.Now().Sub(oldest.CreatedAt)),
		zap.Bool("billing_error", true),
	)
}
