package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldline/fieldline/internal/clock"
	obsmetrics "github.com/fieldline/fieldline/internal/observability/metrics"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    packdomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    packdomain.Repository
	metrics *obsmetrics.Metrics
}

func NewService(p Params) packdomain.Service {
	return &Service{
		log:     p.Log.Named("pack.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Reserve(ctx context.Context, tenantID snowflake.ID, resourceType string) (*packdomain.Reservation, error) {
	if tenantID == 0 {
		return nil, packdomain.ErrInvalidTenant
	}
	if strings.TrimSpace(resourceType) == "" {
		return nil, packdomain.ErrInvalidResource
	}

	now := s.clock.Now()
	reservation := &packdomain.Reservation{
		ID:           s.genID.Generate(),
		TenantID:     tenantID,
		ResourceType: resourceType,
		Status:       packdomain.ReservationStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	reserved, err := s.repo.ReserveUnit(ctx, reservation)
	if err != nil {
		if err == packdomain.ErrNoPackAvailable {
			s.metrics.RecordReservation(ctx, resourceType, "no_pack")
			return nil, err
		}
		s.log.Error("reserve failed",
			zap.Int64("tenant_id", tenantID.Int64()),
			zap.String("resource_type", resourceType),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordReservation(ctx, resourceType, "reserved")
	s.log.Debug("reserved pack unit",
		zap.Int64("tenant_id", tenantID.Int64()),
		zap.Int64("reservation_id", reserved.ID.Int64()),
		zap.Int64("pack_id", reserved.PackID.Int64()),
	)
	return reserved, nil
}

func (s *Service) Release(ctx context.Context, reservationID snowflake.ID) error {
	outcome, err := s.repo.ReleaseReservation(ctx, reservationID, s.clock.Now())
	if err != nil {
		return err
	}
	if outcome == packdomain.ReleaseApplied {
		reservation, findErr := s.repo.FindReservation(ctx, reservationID)
		resource := ""
		if findErr == nil && reservation != nil {
			resource = reservation.ResourceType
		}
		s.metrics.RecordReservation(ctx, resource, "released")
	}
	return nil
}

// ExpireStalePending releases reservations stuck pending past maxAge. Each
// release is the same conditional transition a caller release uses, so a
// reservation finalized between the list and the release is left alone.
func (s *Service) ExpireStalePending(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-maxAge)
	stale, err := s.repo.ListStalePending(ctx, cutoff, 0)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, reservation := range stale {
		outcome, err := s.repo.ReleaseReservation(ctx, reservation.ID, s.clock.Now())
		if err != nil {
			if err == packdomain.ErrReleaseCommitted {
				continue
			}
			return released, err
		}
		if outcome == packdomain.ReleaseApplied {
			released++
			s.log.Warn("released stale pending reservation",
				zap.Int64("reservation_id", reservation.ID.Int64()),
				zap.Int64("tenant_id", reservation.TenantID.Int64()),
				zap.Time("created_at", reservation.CreatedAt),
			)
		}
	}

	s.metrics.RecordSweepReleases(ctx, released)
	return released, nil
}

func (s *Service) Get(ctx context.Context, reservationID snowflake.ID) (*packdomain.Reservation, error) {
	reservation, err := s.repo.FindReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, packdomain.ErrReservationNotFound
	}
	return reservation, nil
}
