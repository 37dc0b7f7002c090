// Package policy evaluates tenant usage capabilities. Unlimited-usage grants
// are explicit policy rules, never identity comparisons in the billing core.
package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectUsage = "usage"

	// ActionUnlimitedUsage exempts a tenant/resource from quota and pack
	// accounting entirely.
	ActionUnlimitedUsage = "usage.unlimited"
)

// Service answers capability questions for the billing pipeline.
type Service interface {
	// Unlimited reports whether the tenant may use the resource without
	// metering. Evaluation failures close (no bypass).
	Unlimited(ctx context.Context, tenantID snowflake.ID, resourceType string) bool

	// GrantUnlimited and RevokeUnlimited manage the capability; exposed for
	// operator tooling and seeds.
	GrantUnlimited(ctx context.Context, tenantID snowflake.ID, resourceType string) error
	RevokeUnlimited(ctx context.Context, tenantID snowflake.ID, resourceType string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func New(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("policy.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Unlimited(ctx context.Context, tenantID snowflake.ID, resourceType string) bool {
	_ = ctx
	if s.enforcer == nil || tenantID == 0 {
		return false
	}
	ok, err := s.enforcer.Enforce(subject(tenantID), resourceType, ActionUnlimitedUsage)
	if err != nil {
		s.log.Warn("capability check failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("resource_type", resourceType),
			zap.Error(err),
		)
		return false
	}
	return ok
}

func (s *ServiceImpl) GrantUnlimited(ctx context.Context, tenantID snowflake.ID, resourceType string) error {
	_ = ctx
	_, err := s.enforcer.AddPolicy(subject(tenantID), resourceType, ActionUnlimitedUsage)
	return err
}

func (s *ServiceImpl) RevokeUnlimited(ctx context.Context, tenantID snowflake.ID, resourceType string) error {
	_ = ctx
	_, err := s.enforcer.RemovePolicy(subject(tenantID), resourceType, ActionUnlimitedUsage)
	return err
}

func subject(tenantID snowflake.ID) string {
	return fmt.Sprintf("tenant:%s", tenantID.String())
}

var Module = fx.Module("policy",
	fx.Provide(
		NewEnforcer,
		New,
	),
)
