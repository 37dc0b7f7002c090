package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldline/fieldline/internal/clock"
	ledgerdomain "github.com/fieldline/fieldline/internal/ledger/domain"
	obsmetrics "github.com/fieldline/fieldline/internal/observability/metrics"
	plandomain "github.com/fieldline/fieldline/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    ledgerdomain.Repository
	PlanSvc plandomain.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    ledgerdomain.Repository
	planSvc plandomain.Service
	metrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		planSvc: p.PlanSvc,
		metrics: p.Metrics,
	}
}

func (s *Service) CheckQuota(ctx context.Context, tenantID snowflake.ID, resourceType string) (ledgerdomain.QuotaStatus, error) {
	if tenantID == 0 {
		return ledgerdomain.QuotaStatus{}, ledgerdomain.ErrInvalidTenant
	}
	if strings.TrimSpace(resourceType) == "" {
		return ledgerdomain.QuotaStatus{}, ledgerdomain.ErrInvalidResource
	}

	quota, err := s.planSvc.MonthlyQuota(ctx, tenantID, resourceType)
	if err != nil {
		if errors.Is(err, plandomain.ErrNoQuotaConfigured) {
			// No plan allowance: never covered by quota, packs only.
			return ledgerdomain.QuotaStatus{Allowed: false}, nil
		}
		return ledgerdomain.QuotaStatus{}, err
	}

	now := s.clock.Now()
	used, err := s.repo.UnitsUsed(ctx, s.db, tenantID, resourceType, ledgerdomain.PeriodStart(now))
	if err != nil {
		return ledgerdomain.QuotaStatus{}, err
	}

	remaining := quota - used
	if remaining < 0 {
		remaining = 0
	}
	return ledgerdomain.QuotaStatus{
		Allowed:   used < quota,
		Used:      used,
		Quota:     quota,
		Remaining: remaining,
	}, nil
}

func (s *Service) RecordPlanUsage(ctx context.Context, tenantID snowflake.ID, resourceType string) error {
	if tenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	if strings.TrimSpace(resourceType) == "" {
		return ledgerdomain.ErrInvalidResource
	}

	now := s.clock.Now()
	period := &ledgerdomain.UsagePeriod{
		ID:           s.genID.Generate(),
		TenantID:     tenantID,
		ResourceType: resourceType,
		PeriodStart:  ledgerdomain.PeriodStart(now),
		PeriodEnd:    ledgerdomain.PeriodEnd(now),
		UnitsUsed:    1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.IncrementUsage(ctx, s.db, period); err != nil {
		return err
	}

	s.metrics.RecordPlanUsage(ctx, resourceType)
	return nil
}
