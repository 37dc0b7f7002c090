package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/fieldline/fieldline/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo plandomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo plandomain.Repository
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("plan.service"),
		repo: p.Repo,
	}
}

func (s *Service) MonthlyQuota(ctx context.Context, tenantID snowflake.ID, resourceType string) (int64, error) {
	if tenantID == 0 {
		return 0, plandomain.ErrInvalidTenant
	}
	if strings.TrimSpace(resourceType) == "" {
		return 0, plandomain.ErrInvalidResource
	}

	quota, err := s.repo.FindQuota(ctx, s.db, tenantID, resourceType)
	if err != nil {
		return 0, err
	}
	if quota == nil {
		return 0, plandomain.ErrNoQuotaConfigured
	}
	return quota.MonthlyQuota, nil
}
