package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldline/fieldline/internal/clock"
	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	obsmetrics "github.com/fieldline/fieldline/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    compdomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    compdomain.Repository
	metrics *obsmetrics.Metrics
}

func NewService(p Params) compdomain.Service {
	return &Service{
		log:     p.Log.Named("compensation.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Enqueue(ctx context.Context, record *compdomain.CompensationRecord) (*compdomain.CompensationRecord, error) {
	if record == nil || record.ReservationID == 0 {
		return nil, compdomain.ErrInvalidReservation
	}

	now := s.clock.Now()
	if record.ID == 0 {
		record.ID = s.genID.Generate()
	}
	record.CreatedAt = now
	record.UpdatedAt = now

	stored, err := s.repo.Enqueue(ctx, record)
	if err != nil {
		return nil, err
	}

	if stored.ID == record.ID {
		s.log.Error("escalated reservation to compensation queue",
			zap.Int64("reservation_id", stored.ReservationID.Int64()),
			zap.Int64("tenant_id", stored.TenantID.Int64()),
			zap.Int("attempts", stored.Attempts),
			zap.String("reason", stored.Reason),
			zap.Bool("billing_error", true),
		)
		s.refreshQueueGauge(ctx)
	}
	return stored, nil
}

func (s *Service) ListUnresolved(ctx context.Context, limit int) ([]compdomain.CompensationRecord, error) {
	return s.repo.ListUnresolved(ctx, limit)
}

func (s *Service) Resolve(ctx context.Context, reservationID snowflake.ID, resolvedBy, note string) error {
	if reservationID == 0 {
		return compdomain.ErrInvalidReservation
	}
	if err := s.repo.Resolve(ctx, reservationID, resolvedBy, note, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("compensation record resolved",
		zap.Int64("reservation_id", reservationID.Int64()),
		zap.String("resolved_by", resolvedBy),
	)
	s.refreshQueueGauge(ctx)
	return nil
}

func (s *Service) CountUnresolved(ctx context.Context) (int64, error) {
	return s.repo.CountUnresolved(ctx)
}

func (s *Service) refreshQueueGauge(ctx context.Context) {
	count, err := s.repo.CountUnresolved(ctx)
	if err != nil {
		s.log.Warn("count unresolved compensations", zap.Error(err))
		return
	}
	s.metrics.SetCompensationQueueSize(ctx, count)
}
