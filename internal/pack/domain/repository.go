package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CommitOutcome describes what a conditional commit actually did.
type CommitOutcome string

const (
	// CommitApplied means this call flipped pending to committed and appended
	// the usage record.
	CommitApplied CommitOutcome = "applied"

	// CommitNoop means the reservation was already committed; the usage
	// record was not touched. Duplicate finalize calls land here.
	CommitNoop CommitOutcome = "noop"
)

// ReleaseOutcome describes what a conditional release actually did.
type ReleaseOutcome string

const (
	// ReleaseApplied means this call flipped pending to released and restored
	// the pack unit.
	ReleaseApplied ReleaseOutcome = "applied"

	// ReleaseNoop means the reservation was already released or is
	// compensating; nothing moved.
	ReleaseNoop ReleaseOutcome = "noop"
)

// PendingStats summarizes outstanding reservations for health reporting.
type PendingStats struct {
	Count  int64
	Oldest *time.Time
}

// ResolvedCounts summarizes terminal reservations inside a trailing window.
type ResolvedCounts struct {
	Committed    int64
	Compensating int64
}

var (
	// ErrNoPackAvailable is the expected over-quota outcome: every pack for
	// the tenant/resource is exhausted.
	ErrNoPackAvailable = errors.New("no_pack_available")

	// ErrReservationNotFound means the reservation ID is unknown.
	ErrReservationNotFound = errors.New("reservation_not_found")

	// ErrReleaseCommitted rejects releasing a committed reservation; the
	// caller has lost track of the reservation's true state.
	ErrReleaseCommitted = errors.New("release_on_committed_reservation")

	// ErrReservationResolved rejects committing a released or compensating
	// reservation.
	ErrReservationResolved = errors.New("reservation_already_resolved")
)

// Repository is the narrow persistence port for pack accounting. Every method
// that moves units is a single atomic conditional statement (or one
// transaction around them); callers never read-then-write counters.
type Repository interface {
	// ReserveUnit decrements one unit from the oldest pack with
	// remaining_units > 0 and inserts the pending reservation, atomically.
	// Returns ErrNoPackAvailable without side effects when nothing can be
	// decremented.
	ReserveUnit(ctx context.Context, res *Reservation) (*Reservation, error)

	// ReleaseReservation flips pending to released and restores the unit in
	// one transaction. Released and compensating reservations are a no-op;
	// committed ones return ErrReleaseCommitted.
	ReleaseReservation(ctx context.Context, id snowflake.ID, now time.Time) (ReleaseOutcome, error)

	// CommitReservation flips pending to committed and appends the usage
	// record in one transaction, conditioned on the status still being
	// pending. Already-committed reservations return CommitNoop.
	CommitReservation(ctx context.Context, id snowflake.ID, now time.Time) (CommitOutcome, error)

	// MarkCompensating flips pending to compensating after finalize retries
	// are exhausted. Reports whether this call performed the flip.
	MarkCompensating(ctx context.Context, id snowflake.ID, attempts int, now time.Time) (bool, error)

	// ListStalePending returns pending reservations created before the cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Reservation, error)

	FindReservation(ctx context.Context, id snowflake.ID) (*Reservation, error)
	FindPack(ctx context.Context, id snowflake.ID) (*Pack, error)

	// PendingStats and CountResolvedSince feed the health reporter.
	PendingStats(ctx context.Context) (PendingStats, error)
	CountResolvedSince(ctx context.Context, since time.Time) (ResolvedCounts, error)

	// CountByPackAndStatus supports accounting-identity checks.
	CountByPackAndStatus(ctx context.Context, packID snowflake.ID, status ReservationStatus) (int64, error)
}
