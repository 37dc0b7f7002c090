package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/fieldline/fieldline/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) UnitsUsed(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, resourceType string, periodStart time.Time) (int64, error) {
	var period ledgerdomain.UsagePeriod
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND resource_type = ? AND period_start = ?", tenantID, resourceType, periodStart).
		First(&period).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return period.UnitsUsed, nil
}

// IncrementUsage is a single upsert so concurrent increments never lose
// updates. The unique (tenant_id, resource_type, period_start) key makes the
// conflict target stable across dialects.
func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, period *ledgerdomain.UsagePeriod) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "resource_type"},
			{Name: "period_start"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"units_used": gorm.Expr("units_used + 1"),
			"updated_at": period.UpdatedAt,
		}),
	}).Create(period).Error
}
