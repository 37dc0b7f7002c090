package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// QuotaStatus is the result of a quota check. It is a pure read; Allowed means
// the next unit of usage is still covered by the plan.
type QuotaStatus struct {
	Allowed   bool  `json:"allowed"`
	Used      int64 `json:"used"`
	Quota     int64 `json:"quota"`
	Remaining int64 `json:"remaining"`
}

type Service interface {
	// CheckQuota reads the current period counter against the plan quota.
	// No side effects.
	CheckQuota(ctx context.Context, tenantID snowflake.ID, resourceType string) (QuotaStatus, error)

	// RecordPlanUsage increments the period counter by one. Called only for
	// actions covered by plan quota.
	RecordPlanUsage(ctx context.Context, tenantID snowflake.ID, resourceType string) error
}

type Repository interface {
	UnitsUsed(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, resourceType string, periodStart time.Time) (int64, error)
	IncrementUsage(ctx context.Context, db *gorm.DB, period *UsagePeriod) error
}

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidResource = errors.New("invalid_resource")
)
