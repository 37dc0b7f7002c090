// Package domain contains the durable compensation queue: the escalation
// target for reservations whose finalize retries were exhausted. Records here
// represent money movement the system could not confirm on its own; an
// operator resolves each one after reconciling against the provider.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CompensationRecord is one escalated reservation awaiting manual
// reconciliation. The unique reservation index makes enqueue idempotent.
type CompensationRecord struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	ReservationID  snowflake.ID      `gorm:"not null;uniqueIndex:uidx_compensation_reservation"`
	TenantID       snowflake.ID      `gorm:"not null;index:idx_compensation_tenant"`
	ResourceType   string            `gorm:"type:text;not null"`
	Attempts       int               `gorm:"not null"`
	Reason         string            `gorm:"type:text;not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	ResolvedAt     *time.Time        `gorm:"index:idx_compensation_resolved"`
	ResolvedBy     string            `gorm:"type:text"`
	ResolutionNote string            `gorm:"type:text"`
	CreatedAt      time.Time         `gorm:"not null"`
	UpdatedAt      time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (CompensationRecord) TableName() string { return "compensation_records" }

// Resolved reports whether an operator has reconciled the record.
func (r CompensationRecord) Resolved() bool { return r.ResolvedAt != nil }

var (
	// ErrCompensationNotFound means no record exists for the reservation.
	ErrCompensationNotFound = errors.New("compensation_not_found")

	ErrInvalidReservation = errors.New("invalid_reservation")
)

// Repository persists compensation records.
type Repository interface {
	// Enqueue inserts the record, or returns the existing one when the
	// reservation was already escalated. Never creates duplicates.
	Enqueue(ctx context.Context, record *CompensationRecord) (*CompensationRecord, error)

	// ListUnresolved returns open records oldest first.
	ListUnresolved(ctx context.Context, limit int) ([]CompensationRecord, error)

	// Resolve marks the record reconciled. Resolving an already-resolved
	// record is a no-op; an unknown reservation returns
	// ErrCompensationNotFound.
	Resolve(ctx context.Context, reservationID snowflake.ID, resolvedBy, note string, now time.Time) error

	FindByReservation(ctx context.Context, reservationID snowflake.ID) (*CompensationRecord, error)

	CountUnresolved(ctx context.Context) (int64, error)
}

// Service is the compensation queue surface used by finalize, the health
// reporter, and the operator endpoints.
type Service interface {
	Enqueue(ctx context.Context, record *CompensationRecord) (*CompensationRecord, error)
	ListUnresolved(ctx context.Context, limit int) ([]CompensationRecord, error)
	Resolve(ctx context.Context, reservationID snowflake.ID, resolvedBy, note string) error
	CountUnresolved(ctx context.Context) (int64, error)
}
