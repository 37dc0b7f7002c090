package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Service is the reservation manager: the only owner of pack unit movement
// and the pending-reservation lifecycle.
type Service interface {
	// Reserve claims one pack unit for the tenant/resource. Returns
	// ErrNoPackAvailable when every pack is exhausted.
	Reserve(ctx context.Context, tenantID snowflake.ID, resourceType string) (*Reservation, error)

	// Release returns a pending reservation's unit to its pack. Idempotent
	// for released/compensating reservations; rejects committed ones with
	// ErrReleaseCommitted.
	Release(ctx context.Context, reservationID snowflake.ID) error

	// ExpireStalePending releases pending reservations older than maxAge.
	// Returns how many were released.
	ExpireStalePending(ctx context.Context, maxAge time.Duration) (int, error)

	Get(ctx context.Context, reservationID snowflake.ID) (*Reservation, error)
}

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrInvalidResource = errors.New("invalid_resource")
)
