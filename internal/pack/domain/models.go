// Package domain contains prepaid pack inventory and reservation models.
//
// A pack is a prepaid bundle of billable units a tenant purchases beyond the
// plan quota. A reservation is an exclusive claim on exactly one pack unit,
// held while an irreversible external action is attempted. For every pack the
// accounting identity holds at all times:
//
//	remaining_units + count(pending) + count(committed) == total_units
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ReservationStatus string

const (
	// ReservationStatusPending is the only non-terminal status.
	ReservationStatusPending ReservationStatus = "pending"

	// ReservationStatusCommitted means the unit is durably billed.
	ReservationStatusCommitted ReservationStatus = "committed"

	// ReservationStatusReleased means the unit was returned to the pack.
	ReservationStatusReleased ReservationStatus = "released"

	// ReservationStatusCompensating means finalize retries were exhausted and
	// the reservation awaits manual reconciliation.
	ReservationStatusCompensating ReservationStatus = "compensating"
)

// Terminal reports whether the status can no longer change through the
// automated flow.
func (s ReservationStatus) Terminal() bool {
	return s != ReservationStatusPending
}

// Pack is a prepaid bundle of extra usage units. RemainingUnits is owned by
// the pack repository and only ever moves through the conditional
// decrement/increment statements there.
type Pack struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       snowflake.ID `gorm:"not null;index:idx_packs_tenant_resource,priority:1"`
	ResourceType   string       `gorm:"type:text;not null;index:idx_packs_tenant_resource,priority:2"`
	TotalUnits     int64        `gorm:"not null"`
	RemainingUnits int64        `gorm:"not null"`
	PurchasedAt    time.Time    `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null"`
	UpdatedAt      time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Pack) TableName() string { return "packs" }

// Reservation claims one unit of one pack. Transitions are one-way out of
// pending; Attempts records finalize attempts for escalated reservations.
type Reservation struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	TenantID     snowflake.ID      `gorm:"not null"`
	PackID       snowflake.ID      `gorm:"not null;index:idx_reservations_pack_status,priority:1"`
	ResourceType string            `gorm:"type:text;not null"`
	Status       ReservationStatus `gorm:"type:text;not null;index:idx_reservations_pack_status,priority:2;index:idx_reservations_status_created,priority:1"`
	Attempts     int               `gorm:"not null;default:0"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"not null;index:idx_reservations_status_created,priority:2"`
	ResolvedAt   *time.Time
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Reservation) TableName() string { return "reservations" }

// PackUsageRecord is the usage row appended by the commit transaction. The
// reservation ID primary key is what makes a duplicated commit a no-op.
type PackUsageRecord struct {
	ReservationID snowflake.ID `gorm:"primaryKey"`
	TenantID      snowflake.ID `gorm:"not null"`
	PackID        snowflake.ID `gorm:"not null"`
	ResourceType  string       `gorm:"type:text;not null"`
	CommittedAt   time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (PackUsageRecord) TableName() string { return "pack_usage_records" }
