// Package domain contains the plan-quota usage ledger model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsagePeriod is one tenant/resource counter for one billing period. It is
// only ever incremented; pack-covered actions are accounted through
// reservations instead.
type UsagePeriod struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	TenantID     snowflake.ID `gorm:"not null;uniqueIndex:uidx_usage_period,priority:1"`
	ResourceType string       `gorm:"type:text;not null;uniqueIndex:uidx_usage_period,priority:2"`
	PeriodStart  time.Time    `gorm:"not null;uniqueIndex:uidx_usage_period,priority:3"`
	PeriodEnd    time.Time    `gorm:"not null"`
	UnitsUsed    int64        `gorm:"not null;default:0"`
	CreatedAt    time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (UsagePeriod) TableName() string { return "usage_periods" }

// PeriodStart truncates t to the first instant of its calendar month, UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd is the first instant of the following month.
func PeriodEnd(t time.Time) time.Time {
	return PeriodStart(t).AddDate(0, 1, 0)
}
