// Package domain defines the finalization contract: turning a pending
// reservation into a durably committed billing record after the external
// action succeeded, no matter how unreliable the database is right now.
package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
)

// ErrFinalizePersistent marks a finalize that exhausted every retry. The
// reservation has been escalated to the compensation queue by the time a
// caller sees this.
var ErrFinalizePersistent = errors.New("finalize_persistent_failure")

// BillingError is the critical failure surfaced when an action was performed
// but its billing could not be confirmed.
type BillingError struct {
	ReservationID snowflake.ID
	Attempts      int
	Err           error
}

func (e *BillingError) Error() string {
	return fmt.Sprintf("billing finalize failed for reservation %d after %d attempts: %v",
		e.ReservationID, e.Attempts, e.Err)
}

func (e *BillingError) Unwrap() error { return e.Err }

// Critical distinguishes billing escalations from ordinary request errors for
// logging and response mapping.
func (e *BillingError) Critical() bool { return true }

// Result reports what finalize did.
type Result struct {
	Success  bool
	Attempts int
}

// Service commits a pending reservation with bounded retries and escalates to
// the compensation queue when the retries run out.
type Service interface {
	Finalize(ctx context.Context, reservation *packdomain.Reservation) (Result, error)
}
