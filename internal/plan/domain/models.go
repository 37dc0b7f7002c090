// Package domain contains the plan quota read model. Rows are written by the
// subscription management flow; the billing core only reads them.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PlanQuota is the monthly allowance a tenant's plan grants for one resource.
type PlanQuota struct {
	TenantID     snowflake.ID `gorm:"primaryKey"`
	ResourceType string       `gorm:"primaryKey;type:text"`
	MonthlyQuota int64        `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (PlanQuota) TableName() string { return "plan_quotas" }

type Repository interface {
	FindQuota(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, resourceType string) (*PlanQuota, error)
}

type Service interface {
	// MonthlyQuota returns the plan allowance for the tenant/resource pair.
	MonthlyQuota(ctx context.Context, tenantID snowflake.ID, resourceType string) (int64, error)
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidResource   = errors.New("invalid_resource")
	ErrNoQuotaConfigured = errors.New("no_quota_configured")
)
